package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"equipres/internal/models"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("EQUIPRES_JWT_SECRET", "s3cret")

	yamlContent := `
database:
  path: "test.db"
api:
  http:
    enabled: true
  auth:
    jwt_secret: "${EQUIPRES_JWT_SECRET}"
reservations:
  lock_ttl: 3s
equipment:
  - id: 1
    name: "Camera"
    category: camera
    total_quantity: 2
    rental_terms:
      daily_rate: "25.50"
      requires_approval: true
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.API.Auth.JWTSecret != "s3cret" {
		t.Errorf("expected jwt secret from env, got %q", cfg.API.Auth.JWTSecret)
	}
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("expected default driver sqlite3, got %s", cfg.Database.Driver)
	}
	if cfg.Reservations.LockTTL != 3*time.Second {
		t.Errorf("expected lock ttl 3s, got %s", cfg.Reservations.LockTTL)
	}
	if len(cfg.Equipment) != 1 || cfg.Equipment[0].ID != 1 {
		t.Fatalf("expected 1 equipment with ID 1")
	}
	if got := cfg.Equipment[0].Terms.DailyRate.String(); got != "25.5" {
		t.Errorf("expected daily rate 25.5, got %s", got)
	}
	if !cfg.Equipment[0].Terms.RequiresApproval {
		t.Errorf("expected requires_approval to be parsed")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("expected error for missing file")
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid sqlite config",
			cfg: Config{
				Database:  DatabaseConfig{Driver: "sqlite3", Path: "path"},
				Equipment: []models.Equipment{{ID: 1, Name: "Item 1", TotalQuantity: 1}},
			},
			wantErr: false,
		},
		{
			name: "valid postgres config",
			cfg: Config{
				Database: DatabaseConfig{Driver: "postgres", Postgres: PostgresConfig{Host: "db", DBName: "equipres"}},
			},
			wantErr: false,
		},
		{
			name:    "missing path",
			cfg:     Config{Database: DatabaseConfig{Driver: "sqlite3"}},
			wantErr: true,
		},
		{
			name:    "unknown driver",
			cfg:     Config{Database: DatabaseConfig{Driver: "mongo", Path: "x"}},
			wantErr: true,
		},
		{
			name: "http without jwt secret",
			cfg: Config{
				Database: DatabaseConfig{Driver: "sqlite3", Path: "path"},
				API:      APIConfig{HTTP: APIHTTPConfig{Enabled: true}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.Reservations.MaxOpenPerUser != models.DefaultMaxOpenPerUser {
		t.Errorf("expected default max open %d, got %d", models.DefaultMaxOpenPerUser, cfg.Reservations.MaxOpenPerUser)
	}
	if cfg.Reservations.ProjectionDays != 30 {
		t.Errorf("expected default projection days 30, got %d", cfg.Reservations.ProjectionDays)
	}
	if cfg.API.GRPC.Port != 8081 {
		t.Errorf("expected default gRPC port 8081, got %d", cfg.API.GRPC.Port)
	}
	if cfg.Events.Exchange != "equipres.events" {
		t.Errorf("expected default exchange, got %s", cfg.Events.Exchange)
	}
	if cfg.Scheduler.OverdueScan == "" {
		t.Errorf("expected default overdue scan spec")
	}
}

func TestValidateEquipment(t *testing.T) {
	tests := []struct {
		name    string
		items   []models.Equipment
		wantErr bool
	}{
		{
			name: "Valid equipment",
			items: []models.Equipment{
				{ID: 1, Name: "Item 1", TotalQuantity: 1},
				{ID: 2, Name: "Item 2", TotalQuantity: 3, Category: models.CategoryLab},
			},
			wantErr: false,
		},
		{
			name: "Duplicate ID",
			items: []models.Equipment{
				{ID: 1, Name: "Item 1", TotalQuantity: 1},
				{ID: 1, Name: "Item 2", TotalQuantity: 1},
			},
			wantErr: true,
		},
		{
			name:    "ID 0",
			items:   []models.Equipment{{ID: 0, Name: "Item 1", TotalQuantity: 1}},
			wantErr: true,
		},
		{
			name:    "Zero quantity",
			items:   []models.Equipment{{ID: 1, Name: "Item 1"}},
			wantErr: true,
		},
		{
			name:    "Unknown category",
			items:   []models.Equipment{{ID: 1, Name: "Item 1", TotalQuantity: 1, Category: "boat"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEquipment(tt.items)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEquipment() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

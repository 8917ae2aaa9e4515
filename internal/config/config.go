package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"equipres/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig          `yaml:"app"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Backup       BackupConfig       `yaml:"backup"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Logging      LoggingConfig      `yaml:"logging"`
	API          APIConfig          `yaml:"api"`
	Reservations ReservationsConfig `yaml:"reservations"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Events       EventsConfig       `yaml:"events"`
	Worker       WorkerConfig       `yaml:"worker"`
	Equipment    []models.Equipment `yaml:"equipment"`
	Exports      ExportConfig       `yaml:"exports"`
	Google       GoogleConfig       `yaml:"google"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type APIConfig struct {
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
	CORS      APICORSConfig      `yaml:"cors"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type APICORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	// Driver is either "sqlite3" or "postgres".
	Driver   string         `yaml:"driver"`
	Path     string         `yaml:"path"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	DBName         string `yaml:"dbname"`
	SSLMode        string `yaml:"sslmode"`
	MaxConnections int    `yaml:"max_connections"`
}

// DSN builds a lib/pq connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type ReservationsConfig struct {
	MaxOpenPerUser int           `yaml:"max_open_per_user"`
	ProjectionDays int           `yaml:"projection_days"`
	LockTTL        time.Duration `yaml:"lock_ttl"`
	LockWait       time.Duration `yaml:"lock_wait"`
}

// SchedulerConfig holds cron specs with a seconds field.
type SchedulerConfig struct {
	Enabled        bool   `yaml:"enabled"`
	OverdueScan    string `yaml:"overdue_scan"`
	PickupReminder string `yaml:"pickup_reminder"`
	Reconcile      string `yaml:"reconcile"`
	Backup         string `yaml:"backup"`
}

type EventsConfig struct {
	RabbitURL string `yaml:"rabbit_url"`
	Exchange  string `yaml:"exchange"`
}

type WorkerConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	BatchSize     int           `yaml:"batch_size"`
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type GoogleConfig struct {
	CredentialsFile         string `yaml:"credentials_file"`
	ReservationsSpreadsheet string `yaml:"reservations_spreadsheet_id"`
	ReservationsSheetName   string `yaml:"reservations_sheet_name"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" || c.Database.Postgres.DBName == "" {
			return errors.New("postgres host and dbname are required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	if c.API.HTTP.Enabled && c.API.Auth.JWTSecret == "" {
		return errors.New("api.auth.jwt_secret is required when http api is enabled")
	}

	return ValidateEquipment(c.Equipment)
}

func ValidateEquipment(items []models.Equipment) error {
	ids := make(map[int64]bool)
	for _, e := range items {
		if e.ID == 0 {
			return fmt.Errorf("equipment '%s' has invalid ID 0", e.Name)
		}
		if ids[e.ID] {
			return fmt.Errorf("duplicate equipment ID found: %d", e.ID)
		}
		if e.TotalQuantity < 1 {
			return fmt.Errorf("equipment %d: total_quantity must be at least 1", e.ID)
		}
		if e.Category != "" && !models.ValidCategory(e.Category) {
			return fmt.Errorf("equipment %d: unknown category %q", e.ID, e.Category)
		}
		if e.Status != "" && !models.ValidEquipmentStatus(e.Status) {
			return fmt.Errorf("equipment %d: unknown status %q", e.ID, e.Status)
		}
		ids[e.ID] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "equipres"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = 5432
	}
	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 20
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Reservations.MaxOpenPerUser == 0 {
		c.Reservations.MaxOpenPerUser = models.DefaultMaxOpenPerUser
	}
	if c.Reservations.ProjectionDays == 0 {
		c.Reservations.ProjectionDays = models.DefaultProjectionDays
	}
	if c.Reservations.LockTTL == 0 {
		c.Reservations.LockTTL = models.DefaultLockTTL * time.Second
	}
	if c.Reservations.LockWait == 0 {
		c.Reservations.LockWait = 5 * time.Second
	}

	if c.Scheduler.OverdueScan == "" {
		c.Scheduler.OverdueScan = "0 */15 * * * *"
	}
	if c.Scheduler.PickupReminder == "" {
		c.Scheduler.PickupReminder = "0 0 * * * *"
	}
	if c.Scheduler.Reconcile == "" {
		c.Scheduler.Reconcile = "0 30 2 * * *"
	}
	if c.Scheduler.Backup == "" {
		c.Scheduler.Backup = "0 0 3 * * *"
	}

	if c.Events.Exchange == "" {
		c.Events.Exchange = "equipres.events"
	}

	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = 2 * time.Second
	}
	if c.Worker.BatchSize == 0 {
		c.Worker.BatchSize = 20
	}

	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 7
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
	if c.Google.ReservationsSheetName == "" {
		c.Google.ReservationsSheetName = "Reservations"
	}
}

package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"equipres/internal/config"

	"github.com/rs/zerolog"
)

const (
	backupPrefix     = "equipres_"
	backupSuffix     = ".db"
	backupTimeLayout = "20060102_150405.000"
)

// BackupService writes VACUUM INTO snapshots of the SQLite database and
// prunes the ones older than the retention window.
type BackupService struct {
	db     *DB
	cfg    config.BackupConfig
	now    func() time.Time
	logger *zerolog.Logger
}

func NewBackupService(db *DB, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	return &BackupService{
		db:     db,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// Run takes one snapshot, then prunes.
func (s *BackupService) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Debug().Msg("Backups disabled")
		return nil
	}
	if s.db.Dialect() != DialectSQLite || s.db.Path() == ":memory:" {
		return errors.New("backups are supported for file based sqlite only")
	}

	if _, err := s.PerformBackup(ctx); err != nil {
		return err
	}
	if removed := s.Prune(); removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Pruned old backups")
	}
	return nil
}

// PerformBackup writes a consistent snapshot and returns its path.
func (s *BackupService) PerformBackup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.cfg.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := backupPrefix + s.now().Format(backupTimeLayout) + backupSuffix
	path := filepath.Join(s.cfg.StoragePath, name)

	// VACUUM INTO takes a string literal, not a bind parameter.
	quoted := "'" + strings.ReplaceAll(path, "'", "''") + "'"
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO "+quoted); err != nil {
		return "", fmt.Errorf("failed to back up database: %w", err)
	}

	s.logger.Info().Str("path", path).Msg("Database backup written")
	return path, nil
}

// backupTime reads the snapshot time from the file name, falling back to the
// modification time for files named some other way.
func backupTime(entry os.DirEntry) (time.Time, bool) {
	name := entry.Name()
	if !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), backupSuffix)
	if t, err := time.Parse(backupTimeLayout, stamp); err == nil {
		return t, true
	}
	info, err := entry.Info()
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// Prune deletes snapshots older than RetentionDays and reports how many went.
func (s *BackupService) Prune() int {
	if s.cfg.RetentionDays <= 0 {
		return 0
	}
	entries, err := os.ReadDir(s.cfg.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read backup directory")
		return 0
	}

	cutoff := s.now().AddDate(0, 0, -s.cfg.RetentionDays)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		taken, ok := backupTime(entry)
		if !ok || !taken.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.cfg.StoragePath, entry.Name())); err != nil {
			s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to delete old backup")
			continue
		}
		removed++
	}
	return removed
}

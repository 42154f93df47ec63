package usecase

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"stamp-cli/internal/domain"
)

// MigrationRepository はマイグレーション履歴を管理するリポジトリのインターフェース。
type MigrationRepository interface {
	EnsureTable(ctx context.Context) error
	FindAllApplied(ctx context.Context) ([]*domain.Migration, error)
	IsMigrationApplied(ctx context.Context, version string) (bool, error)
}

// MigrationService はストアのスキーマを最新に保つ。
type MigrationService struct {
	repo    MigrationRepository
	db      *gorm.DB
	fsys    fs.FS
	dialect string
}

// NewMigrationService は新しいMigrationServiceを生成する。fsys の dialect ディレクトリ配下のSQLを使う。
func NewMigrationService(repo MigrationRepository, db *gorm.DB, fsys fs.FS, dialect string) *MigrationService {
	return &MigrationService{
		repo:    repo,
		db:      db,
		fsys:    fsys,
		dialect: dialect,
	}
}

// scanMigrationFiles はドライバ用ディレクトリから.sqlファイルをバージョン順に列挙する。
func (s *MigrationService) scanMigrationFiles() ([]*domain.Migration, error) {
	entries, err := fs.ReadDir(s.fsys, s.dialect)
	if err != nil {
		return nil, fmt.Errorf("reading %s migrations: %w", s.dialect, err)
	}

	var migrations []*domain.Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, name, err := parseMigrationFileName(entry.Name())
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, &domain.Migration{
			Version:  version,
			Name:     name,
			Dialect:  s.dialect,
			FilePath: path.Join(s.dialect, entry.Name()),
			Status:   domain.MigrationStatusPending,
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// parseMigrationFileName はファイル名 {version}_{name}.sql からバージョンと名前を取り出す。
func parseMigrationFileName(filename string) (version, name string, err error) {
	parts := strings.SplitN(strings.TrimSuffix(filename, ".sql"), "_", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %s (expected format: {version}_{name}.sql)", domain.ErrInvalidMigrationFile, filename)
	}
	return parts[0], parts[1], nil
}

// ApplyMigrations は未適用のマイグレーションをバージョン順に適用し、適用数を返す。
func (s *MigrationService) ApplyMigrations(ctx context.Context) (int, error) {
	if err := s.repo.EnsureTable(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreIO, err)
	}
	all, err := s.scanMigrationFiles()
	if err != nil {
		slog.ErrorContext(ctx, "failed to scan migration files",
			"operation", "apply_migrations",
			"dialect", s.dialect,
			"error", err,
		)
		return 0, err
	}

	applied := 0
	for _, migration := range all {
		done, err := s.repo.IsMigrationApplied(ctx, migration.Version)
		if err != nil {
			return applied, fmt.Errorf("checking migration %s: %w", migration.Version, err)
		}
		if done {
			continue
		}
		if err := s.applyMigration(ctx, migration); err != nil {
			slog.ErrorContext(ctx, "failed to apply migration",
				"operation", "apply_migrations",
				"version", migration.Version,
				"error", err,
			)
			return applied, fmt.Errorf("%w: version %s: %v", domain.ErrMigrationFailed, migration.Version, err)
		}
		slog.DebugContext(ctx, "migration applied", "version", migration.Version, "name", migration.Name)
		applied++
	}
	return applied, nil
}

// applyMigration は1つのマイグレーションを実行し、同じトランザクション内で履歴を記録する。
func (s *MigrationService) applyMigration(ctx context.Context, migration *domain.Migration) error {
	sqlBytes, err := fs.ReadFile(s.fsys, migration.FilePath)
	if err != nil {
		return fmt.Errorf("reading migration file %s: %w", migration.FilePath, err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(string(sqlBytes)).Error; err != nil {
			return fmt.Errorf("executing migration SQL: %w", err)
		}
		record := map[string]interface{}{"version": migration.Version, "applied_at": time.Now().UTC()}
		if err := tx.Table("schema_migrations").Create(record).Error; err != nil {
			return fmt.Errorf("recording migration: %w", err)
		}
		return nil
	})
}

// GetMigrationStatus は全マイグレーションの適用状況を返す。
func (s *MigrationService) GetMigrationStatus(ctx context.Context) ([]*domain.Migration, error) {
	if err := s.repo.EnsureTable(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreIO, err)
	}
	all, err := s.scanMigrationFiles()
	if err != nil {
		return nil, err
	}
	applied, err := s.repo.FindAllApplied(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching applied migrations: %w", err)
	}

	appliedAt := make(map[string]*domain.Migration, len(applied))
	for _, m := range applied {
		appliedAt[m.Version] = m
	}
	for _, m := range all {
		if a, ok := appliedAt[m.Version]; ok {
			m.Status = domain.MigrationStatusApplied
			m.AppliedAt = a.AppliedAt
		}
	}
	return all, nil
}

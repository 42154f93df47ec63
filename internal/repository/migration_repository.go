package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"stamp-cli/internal/domain"
)

// SchemaMigrationModel はschema_migrationsテーブルのモデル。
// 列定義は migrations 配下のSQLが作るテーブルと一致させる。
type SchemaMigrationModel struct {
	Version   string    `gorm:"column:version;primaryKey;type:varchar(14)"`
	AppliedAt time.Time `gorm:"column:applied_at;not null"`
}

// TableName はテーブル名を指定。
func (SchemaMigrationModel) TableName() string {
	return "schema_migrations"
}

// MigrationRepository はマイグレーション履歴を管理するリポジトリ。
type MigrationRepository struct {
	db *gorm.DB
}

// NewMigrationRepository は新しいMigrationRepositoryを生成する。
func NewMigrationRepository(db *gorm.DB) *MigrationRepository {
	return &MigrationRepository{db: db}
}

// EnsureTable はschema_migrationsテーブルが無ければ作成する。
// 最初のマイグレーションより前に必要なため、このテーブルだけはSQLファイルでなくモデルから作る。
func (r *MigrationRepository) EnsureTable(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&SchemaMigrationModel{}); err != nil {
		slog.ErrorContext(ctx, "failed to ensure schema_migrations table",
			"operation", "ensure_table",
			"error", err,
		)
		return fmt.Errorf("%w: %w", domain.ErrStoreIO, err)
	}
	return nil
}

// FindAllApplied は適用済みマイグレーション一覧を取得する。
func (r *MigrationRepository) FindAllApplied(ctx context.Context) ([]*domain.Migration, error) {
	var models []SchemaMigrationModel
	if err := r.db.WithContext(ctx).Order("version ASC").Find(&models).Error; err != nil {
		slog.ErrorContext(ctx, "failed to find applied migrations",
			"operation", "find_all_applied",
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreIO, err)
	}

	applied := make([]*domain.Migration, len(models))
	for i := range models {
		at := models[i].AppliedAt.UTC()
		applied[i] = &domain.Migration{
			Version:   models[i].Version,
			AppliedAt: &at,
			Status:    domain.MigrationStatusApplied,
		}
	}
	return applied, nil
}

// RecordMigration はマイグレーション適用履歴を記録する。
// SQLを実行せずに適用済みとして扱う場合（既存ストアの取り込みなど）に使う。
func (r *MigrationRepository) RecordMigration(ctx context.Context, version string) error {
	model := &SchemaMigrationModel{
		Version:   version,
		AppliedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to record migration",
			"operation", "record_migration",
			"version", version,
			"error", err,
		)
		return fmt.Errorf("%w: %w", domain.ErrStoreIO, err)
	}
	return nil
}

// IsMigrationApplied はマイグレーションが適用済みか確認する。
func (r *MigrationRepository) IsMigrationApplied(ctx context.Context, version string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&SchemaMigrationModel{}).Where("version = ?", version).Count(&count).Error; err != nil {
		slog.ErrorContext(ctx, "failed to check if migration is applied",
			"operation", "is_migration_applied",
			"version", version,
			"error", err,
		)
		return false, fmt.Errorf("%w: %w", domain.ErrStoreIO, err)
	}
	return count > 0, nil
}

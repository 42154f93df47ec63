package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stamp-cli/internal/domain"
)

// IdentityModel はアイデンティティの適用済み履歴を保持するgormモデル。
type IdentityModel struct {
	ID        string    `gorm:"type:varchar(64);primaryKey"`
	Payload   []byte    `gorm:"type:blob;not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (IdentityModel) TableName() string {
	return "identities"
}

func (m *IdentityModel) toDomain() (*domain.TransactionLog, error) {
	var log domain.TransactionLog
	if err := json.Unmarshal(m.Payload, &log); err != nil {
		return nil, fmt.Errorf("%w: decoding identity %s: %w", domain.ErrStoreIO, m.ID, err)
	}
	return &log, nil
}

// IdentityRepository はアイデンティティ履歴へのアクセスを提供する。
type IdentityRepository struct {
	db *gorm.DB
}

// NewIdentityRepository は新しいIdentityRepositoryを生成する。
func NewIdentityRepository(db *gorm.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// Save は履歴全体を保存する。既存の履歴は置き換えられる。
func (r *IdentityRepository) Save(ctx context.Context, log *domain.TransactionLog) error {
	payload, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("encoding identity %s: %w", log.IdentityID, err)
	}
	model := &IdentityModel{ID: string(log.IdentityID), Payload: payload}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to save identity",
			"operation", "save",
			"identity_id", log.IdentityID,
			"error", err,
		)
		return fmt.Errorf("%w: %w", domain.ErrStoreIO, err)
	}
	return nil
}

// FindByID は指定IDの履歴を取得する。存在しない場合は nil を返す。
func (r *IdentityRepository) FindByID(ctx context.Context, id domain.IdentityID) (*domain.TransactionLog, error) {
	var model IdentityModel
	err := r.db.WithContext(ctx).Where("id = ?", string(id)).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find identity",
			"operation", "find_by_id",
			"identity_id", id,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreIO, err)
	}
	return model.toDomain()
}

// FindByPrefix はIDが前方一致する履歴を取得する。
func (r *IdentityRepository) FindByPrefix(ctx context.Context, prefix string) ([]*domain.TransactionLog, error) {
	if strings.ContainsAny(prefix, `%_\`) {
		return nil, nil
	}
	var models []IdentityModel
	err := r.db.WithContext(ctx).
		Where("id LIKE ?", prefix+"%").
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find identities by prefix",
			"operation", "find_by_prefix",
			"prefix", prefix,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreIO, err)
	}

	logs := make([]*domain.TransactionLog, 0, len(models))
	for _, m := range models {
		if !strings.HasPrefix(m.ID, prefix) {
			continue
		}
		log, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, nil
}

// FindAll は全アイデンティティの履歴を取得する。
func (r *IdentityRepository) FindAll(ctx context.Context) ([]*domain.TransactionLog, error) {
	return r.FindByPrefix(ctx, "")
}

// Package repository はデータアクセス層の実装を提供する。
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

// StagedTransactionModel はgorm用のモデル定義。
type StagedTransactionModel struct {
	ID         string    `gorm:"type:varchar(64);primaryKey"`
	IdentityID string    `gorm:"type:varchar(64);not null;index:idx_staged_identity_id"`
	Payload    []byte    `gorm:"type:blob;not null"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (StagedTransactionModel) TableName() string {
	return "staged_transactions"
}

// toDomain はモデルをドメインエンティティに変換する。
func (m *StagedTransactionModel) toDomain() (*domain.StagedTransaction, error) {
	var tx domain.Transaction
	if err := json.Unmarshal(m.Payload, &tx); err != nil {
		return nil, fmt.Errorf("%w: decoding staged transaction %s: %w", domain.ErrStoreIO, m.ID, err)
	}
	return &domain.StagedTransaction{
		ID:          domain.TransactionID(m.ID),
		IdentityID:  domain.IdentityID(m.IdentityID),
		Transaction: &tx,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}

// StagedRepository はステージングエリアへのアクセスを提供する。
// 同じIDへの書き込みは後勝ちで、ロックは行わない。
type StagedRepository struct {
	db *gorm.DB
}

// NewStagedRepository は新しいStagedRepositoryを生成する。
func NewStagedRepository(db *gorm.DB) *StagedRepository {
	return &StagedRepository{db: db}
}

// Put はトランザクションをIDをキーに保存する。既存の行は上書きされる。
func (r *StagedRepository) Put(ctx context.Context, identityID domain.IdentityID, tx *domain.Transaction) error {
	payload, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encoding transaction %s: %w", tx.ID, err)
	}
	model := &StagedTransactionModel{
		ID:         string(tx.ID),
		IdentityID: string(identityID),
		Payload:    payload,
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"identity_id", "payload", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to put staged transaction",
			"operation", "put",
			"transaction_id", tx.ID,
			"identity_id", identityID,
			"error", err,
		)
		return fmt.Errorf("%w: %w", domain.ErrStoreIO, err)
	}
	return nil
}

// FindByID はIDが一致するステージ済みトランザクションを取得する。存在しない場合は nil を返す。
func (r *StagedRepository) FindByID(ctx context.Context, id domain.TransactionID) (*domain.StagedTransaction, error) {
	var model StagedTransactionModel
	err := r.db.WithContext(ctx).
		Where("id = ?", string(id)).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find staged transaction",
			"operation", "find_by_id",
			"transaction_id", id,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreIO, err)
	}
	return model.toDomain()
}

// FindByPrefix はIDが前方一致するステージ済みトランザクションを取得する。
func (r *StagedRepository) FindByPrefix(ctx context.Context, prefix string) ([]*domain.StagedTransaction, error) {
	if prefix == "" || strings.ContainsAny(prefix, `%_\`) {
		return nil, nil
	}
	var models []StagedTransactionModel
	err := r.db.WithContext(ctx).
		Where("id LIKE ?", prefix+"%").
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find staged transactions by prefix",
			"operation", "find_by_prefix",
			"prefix", prefix,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreIO, err)
	}
	return toStagedList(models, func(m StagedTransactionModel) bool {
		// LIKE は照合順序によって大文字小文字を区別しない
		return strings.HasPrefix(m.ID, prefix)
	})
}

// FindAllByIdentityID は指定アイデンティティのステージ済みトランザクションを作成順に取得する。
func (r *StagedRepository) FindAllByIdentityID(ctx context.Context, identityID domain.IdentityID) ([]*domain.StagedTransaction, error) {
	var models []StagedTransactionModel
	err := r.db.WithContext(ctx).
		Where("identity_id = ?", string(identityID)).
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find staged transactions by identity_id",
			"operation", "find_all_by_identity_id",
			"identity_id", identityID,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreIO, err)
	}
	return toStagedList(models, nil)
}

// Delete は指定IDのステージ済みトランザクションを削除する。存在しない場合は何もしない。
func (r *StagedRepository) Delete(ctx context.Context, id domain.TransactionID) error {
	err := r.db.WithContext(ctx).
		Where("id = ?", string(id)).
		Delete(&StagedTransactionModel{}).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to delete staged transaction",
			"operation", "delete",
			"transaction_id", id,
			"error", err,
		)
		return fmt.Errorf("%w: %w", domain.ErrStoreIO, err)
	}
	return nil
}

func toStagedList(models []StagedTransactionModel, keep func(StagedTransactionModel) bool) ([]*domain.StagedTransaction, error) {
	staged := make([]*domain.StagedTransaction, 0, len(models))
	for _, m := range models {
		if keep != nil && !keep(m) {
			continue
		}
		s, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		staged = append(staged, s)
	}
	return staged, nil
}

package usecase

import "stamp-cli/internal/domain"

// Readiness はステージ済みトランザクションが適用可能かを判定する。
// 判定は履歴への追加を試して結果を捨てることで行い、独自の規則は持たない。
type Readiness struct {
	engine IdentityEngine
}

// NewReadiness は新しいReadinessを生成する。
func NewReadiness(engine IdentityEngine) *Readiness {
	return &Readiness{engine: engine}
}

// Check は log に tx を今追加した場合に拒否される理由を返す。追加できる場合は nil。
// log は変更しない。
func (r *Readiness) Check(log *domain.TransactionLog, tx *domain.Transaction) error {
	_, err := r.engine.Append(log, tx)
	return err
}

// IsReady は適用可能かどうかを返す。
func (r *Readiness) IsReady(log *domain.TransactionLog, tx *domain.Transaction) bool {
	return r.Check(log, tx) == nil
}

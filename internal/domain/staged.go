package domain

import (
	"fmt"
	"time"
)

// StagedTransaction はステージングエリアに保存された署名待ちトランザクション。
type StagedTransaction struct {
	ID          TransactionID
	IdentityID  IdentityID
	Transaction *Transaction
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StagedSummary はステージ済みトランザクションの一覧表示用情報。
type StagedSummary struct {
	ID         TransactionID   `json:"id"`
	IdentityID IdentityID      `json:"identity_id"`
	Kind       TransactionKind `json:"kind"`
	Signatures int             `json:"signatures"`
	Ready      bool            `json:"ready"`
	Created    time.Time       `json:"created"`
}

// SignResult は署名操作の結果。
type SignResult struct {
	ID         TransactionID `json:"id"`
	SignedWith KeyID         `json:"signed_with"`
	KeyName    string        `json:"key_name"`
	Signatures int           `json:"signatures"`
	Ready      bool          `json:"ready"`
}

// ApplyResult は適用操作の結果。
// 履歴への追記後にステージングからの削除が失敗した場合、CleanupErr と CleanupCommand が設定される。
type ApplyResult struct {
	ID             TransactionID `json:"id"`
	IdentityID     IdentityID    `json:"identity_id"`
	CleanupErr     error         `json:"-"`
	CleanupCommand string        `json:"cleanup_command,omitempty"`
}

// CleanupCommand はステージングから手動で削除するためのコマンドを返す。
func CleanupCommand(id TransactionID) string {
	return fmt.Sprintf("stamp stage delete %s", id)
}

// DeleteResult は削除操作の結果。
type DeleteResult struct {
	ID      TransactionID `json:"id"`
	Deleted bool          `json:"deleted"`
}

// ExportEnvelopeVersion はエクスポート形式のバージョン。
const ExportEnvelopeVersion = 1

// ExportEnvelope は他の署名者へ渡すためのトランザクション表現。
// 封緘データは転送用パスフレーズから導出した鍵で再封緘されている。
type ExportEnvelope struct {
	Version     int          `json:"version"`
	ExportID    string       `json:"export_id"`
	IdentityID  IdentityID   `json:"identity_id"`
	KDF         *ExportKDF   `json:"kdf,omitempty"`
	Transaction *Transaction `json:"transaction"`
}

// ExportKDF は転送鍵の導出パラメータ。
type ExportKDF struct {
	Salt     []byte `json:"salt"`
	Time     uint32 `json:"time"`
	MemoryKB uint32 `json:"memory_kb"`
	Threads  uint8  `json:"threads"`
}

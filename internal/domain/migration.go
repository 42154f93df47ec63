package domain

import "time"

// MigrationStatus はマイグレーションの適用状態を表す
type MigrationStatus string

const (
	MigrationStatusPending MigrationStatus = "pending"
	MigrationStatusApplied MigrationStatus = "applied"
)

// Migration はストアのスキーママイグレーションを表す
type Migration struct {
	Version   string          // バージョン（例: "001"）
	Name      string          // ファイル名から抽出した名前
	Dialect   string          // 対象ドライバ（sqlite / mysql）
	AppliedAt *time.Time      // 適用日時（未適用の場合はnil）
	FilePath  string          // 埋め込みファイルシステム内のパス
	Status    MigrationStatus // 適用状態
}

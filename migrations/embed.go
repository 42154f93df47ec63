// Package migrations はストアのスキーマ定義SQLを埋め込む。
package migrations

import "embed"

// FS はドライバごとのディレクトリ（sqlite, mysql）にSQLファイルを持つ。
//
//go:embed sqlite/*.sql mysql/*.sql
var FS embed.FS

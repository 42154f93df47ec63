// Package middleware は監査ログなどの横断的な処理を提供する。
package middleware

import (
	"context"
	"log/slog"
	"time"
)

// 監査ログの結果。
const (
	ResultSuccess = "SUCCESS"
	ResultFailed  = "FAILED"
	ResultPartial = "PARTIAL"
)

// AuditLog は監査ログの構造体。
type AuditLog struct {
	Operation     string `json:"operation"`
	IdentityID    string `json:"identity_id"`
	TransactionID string `json:"transaction_id,omitempty"`
	Result        string `json:"result"`
	Timestamp     string `json:"timestamp"`
}

// WriteAuditLog は監査ログを出力する。
func WriteAuditLog(ctx context.Context, operation string, identityID string, transactionID string, result string) {
	entry := AuditLog{
		Operation:     operation,
		IdentityID:    identityID,
		TransactionID: transactionID,
		Result:        result,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	slog.InfoContext(ctx, "stamp operation completed",
		"operation", entry.Operation,
		"identity_id", entry.IdentityID,
		"transaction_id", entry.TransactionID,
		"result", entry.Result,
		"timestamp", entry.Timestamp,
	)
}

// Result はエラーの有無から監査ログの結果を返す。
func Result(err error) string {
	if err != nil {
		return ResultFailed
	}
	return ResultSuccess
}

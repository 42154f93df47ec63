package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound は指定されたIDまたはプレフィックスに一致するものが存在しない場合のエラー。
	ErrNotFound = errors.New("not found")

	// ErrTransactionNotFound はステージ済みトランザクションが存在しない場合のエラー。
	ErrTransactionNotFound = fmt.Errorf("transaction %w", ErrNotFound)

	// ErrIdentityNotFound はアイデンティティが存在しない場合のエラー。
	ErrIdentityNotFound = fmt.Errorf("identity %w", ErrNotFound)

	// ErrAmbiguousMatch はプレフィックスが複数の候補に一致した場合のエラー。
	ErrAmbiguousMatch = errors.New("ambiguous match")

	// ErrInvalidChoice は選択番号が候補の範囲外、または数値でない場合のエラー。
	ErrInvalidChoice = errors.New("invalid choice")

	// ErrNoCapableKey は要求された能力を持つ鍵がキーチェーンに存在しない場合のエラー。
	ErrNoCapableKey = errors.New("no capable key found")

	// ErrNoMatch は検索文字列に一致する鍵が存在しない場合のエラー。
	ErrNoMatch = errors.New("no key matched the search")

	// ErrIncorrectCredential はパスフレーズまたはシェアからマスター鍵を復元できない場合のエラー。
	ErrIncorrectCredential = errors.New("incorrect passphrase or master key")

	// ErrPolicyUnsatisfied はトランザクションがポリシーを満たしていない場合のエラー。
	ErrPolicyUnsatisfied = errors.New("policy not satisfied")

	// ErrNotReady は署名が足りず適用できない場合のエラー。
	ErrNotReady = ErrPolicyUnsatisfied

	// ErrInvalidThreshold は閾値指定 M/N が 1 <= M <= N <= 255 を満たさない場合のエラー。
	ErrInvalidThreshold = errors.New("invalid threshold")

	// ErrRecoveryFailed はどの閾値推定でも検証に通る秘密が得られなかった場合のエラー。
	ErrRecoveryFailed = errors.New("recovery failed")

	// ErrStoreIO はストアへの読み書きに失敗した場合のエラー。
	ErrStoreIO = errors.New("store i/o failure")

	// ErrCryptoFailure は暗号処理の失敗を表すエラー。
	ErrCryptoFailure = errors.New("crypto failure")

	// ErrInvalidTransaction はトランザクションの内容やIDが不正な場合のエラー。
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrInvalidSignature は署名の検証に失敗した場合のエラー。
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrAlreadyApplied はトランザクションが既に履歴に存在する場合のエラー。
	ErrAlreadyApplied = errors.New("transaction already applied")

	// ErrDuplicateKeyName はキーチェーン内で鍵名が重複する場合のエラー。
	ErrDuplicateKeyName = errors.New("duplicate key name")

	// ErrConfirmationRequired は確認が得られない非対話環境で破壊的操作が要求された場合のエラー。
	ErrConfirmationRequired = errors.New("confirmation required")

	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")
)

// AmbiguousMatchError は一致した全候補を保持するエラー。
type AmbiguousMatchError struct {
	What       string
	Search     string
	Candidates []string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("%s %q matched %d candidates: %s",
		e.What, e.Search, len(e.Candidates), strings.Join(e.Candidates, ", "))
}

// Unwrap は ErrAmbiguousMatch を返す。
func (e *AmbiguousMatchError) Unwrap() error {
	return ErrAmbiguousMatch
}

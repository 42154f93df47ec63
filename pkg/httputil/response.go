// Package httputil はエージェントのJSONレスポンスを書き出す。
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorResponse はエラー時の本文。Code は機械判定用の大文字スネークケース。
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ステージ済みトランザクションは署名前の内容を含むため、どのレスポンスもキャッシュさせない。
func writeHeader(w http.ResponseWriter, status int, contentType string) {
	h := w.Header()
	h.Set("Cache-Control", "no-store")
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	w.WriteHeader(status)
}

// JSON は data をJSONで書き出す。data が nil の場合は本文を書かない。
func JSON(w http.ResponseWriter, status int, data interface{}) {
	writeHeader(w, status, "application/json")
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "status", status, "error", err)
	}
}

// NoContent は204を返す。
func NoContent(w http.ResponseWriter) {
	writeHeader(w, http.StatusNoContent, "")
}

// Error は ErrorResponse を書き出す。
func Error(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, ErrorResponse{Code: code, Message: message})
}

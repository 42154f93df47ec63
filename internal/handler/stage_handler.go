// Package handler はローカルエージェントのHTTPハンドラを提供する。
package handler

import (
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"

	"stamp-cli/internal/domain"
	"stamp-cli/internal/middleware"
	"stamp-cli/internal/usecase"
	"stamp-cli/pkg/httputil"
)

// base58 のアルファベット。IDとそのプレフィックスを受け付ける。
var idRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)

// StageHandler はステージングエリアのHTTPハンドラを提供する。
type StageHandler struct {
	service *usecase.StageService
}

// NewStageHandler は新しいStageHandlerを生成する。
func NewStageHandler(service *usecase.StageService) *StageHandler {
	return &StageHandler{service: service}
}

func validateID(id string) error {
	if id == "" || len(id) > 64 || !idRegex.MatchString(id) {
		return errInvalidID
	}
	return nil
}

var errInvalidID = errors.New("invalid id")

// StagedSummaryResponse は一覧のレスポンス形式。
type StagedSummaryResponse struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Signatures int    `json:"signatures"`
	Ready      bool   `json:"ready"`
	Created    string `json:"created"`
}

// StagedListResponse はステージ済み一覧のレスポンス形式。
type StagedListResponse struct {
	IdentityID string                  `json:"identity_id"`
	Staged     []StagedSummaryResponse `json:"staged"`
}

// StagedResponse はステージ済みトランザクションのレスポンス形式。
type StagedResponse struct {
	ID          string              `json:"id"`
	IdentityID  string              `json:"identity_id"`
	Ready       bool                `json:"ready"`
	Reason      string              `json:"reason,omitempty"`
	Transaction *domain.Transaction `json:"transaction"`
}

// ApplyResponse は適用のレスポンス形式。
type ApplyResponse struct {
	ID             string `json:"id"`
	IdentityID     string `json:"identity_id"`
	CleanupCommand string `json:"cleanup_command,omitempty"`
	CleanupError   string `json:"cleanup_error,omitempty"`
}

// ListStaged はアイデンティティのステージ済みトランザクションを適用可否付きで返す。
func (h *StageHandler) ListStaged(w http.ResponseWriter, r *http.Request) {
	identityID := chi.URLParam(r, "identity_id")
	if err := validateID(identityID); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_IDENTITY_ID", "invalid identity ID format")
		return
	}

	summaries, err := h.service.List(r.Context(), domain.IdentityID(identityID))
	if err != nil {
		writeError(w, err)
		return
	}

	resp := StagedListResponse{IdentityID: identityID, Staged: make([]StagedSummaryResponse, len(summaries))}
	for i, s := range summaries {
		resp.Staged[i] = StagedSummaryResponse{
			ID:         string(s.ID),
			Kind:       string(s.Kind),
			Signatures: s.Signatures,
			Ready:      s.Ready,
			Created:    s.Created.Format(time.RFC3339),
		}
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// GetStaged はステージ済みトランザクションを返す。
func (h *StageHandler) GetStaged(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "transaction_id")
	if err := validateID(txID); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_TRANSACTION_ID", "invalid transaction ID format")
		return
	}

	st, err := h.service.View(r.Context(), txID)
	if err != nil {
		writeError(w, err)
		return
	}
	ready, reason := h.service.Ready(r.Context(), st)
	resp := StagedResponse{
		ID:          string(st.ID),
		IdentityID:  string(st.IdentityID),
		Ready:       ready,
		Transaction: st.Transaction,
	}
	if reason != nil {
		resp.Reason = reason.Error()
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// ApplyStaged は適用可能なステージ済みトランザクションを履歴に追加する。
func (h *StageHandler) ApplyStaged(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "transaction_id")
	if err := validateID(txID); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_TRANSACTION_ID", "invalid transaction ID format")
		return
	}

	result, err := h.service.Apply(r.Context(), txID)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "APPLY", "", txID, middleware.ResultFailed)
		writeError(w, err)
		return
	}

	resp := ApplyResponse{ID: string(result.ID), IdentityID: string(result.IdentityID)}
	status := middleware.ResultSuccess
	if result.CleanupErr != nil {
		resp.CleanupCommand = result.CleanupCommand
		resp.CleanupError = result.CleanupErr.Error()
		status = middleware.ResultPartial
	}
	middleware.WriteAuditLog(r.Context(), "APPLY", string(result.IdentityID), string(result.ID), status)
	httputil.JSON(w, http.StatusOK, resp)
}

// DeleteStaged はステージ済みトランザクションを破棄する。
// リクエスト自体を明示的な確認として扱う。
func (h *StageHandler) DeleteStaged(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "transaction_id")
	if err := validateID(txID); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_TRANSACTION_ID", "invalid transaction ID format")
		return
	}

	result, err := h.service.Delete(r.Context(), txID, nil, true)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "DELETE", "", txID, middleware.ResultFailed)
		writeError(w, err)
		return
	}
	middleware.WriteAuditLog(r.Context(), "DELETE", "", string(result.ID), middleware.ResultSuccess)
	httputil.NoContent(w)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		httputil.Error(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrAmbiguousMatch):
		httputil.Error(w, http.StatusBadRequest, "AMBIGUOUS_MATCH", err.Error())
	case errors.Is(err, domain.ErrNotReady):
		httputil.Error(w, http.StatusConflict, "NOT_READY", err.Error())
	case errors.Is(err, domain.ErrAlreadyApplied):
		httputil.Error(w, http.StatusConflict, "ALREADY_APPLIED", err.Error())
	case errors.Is(err, domain.ErrDuplicateKeyName):
		httputil.Error(w, http.StatusConflict, "DUPLICATE_KEY_NAME", err.Error())
	case errors.Is(err, domain.ErrInvalidTransaction), errors.Is(err, domain.ErrInvalidSignature):
		httputil.Error(w, http.StatusUnprocessableEntity, "INVALID_TRANSACTION", err.Error())
	default:
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

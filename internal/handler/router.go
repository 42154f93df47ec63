package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stamp-cli/config"
	"stamp-cli/internal/middleware"
)

// NewRouter はルーターを生成する。
func NewRouter(h *StageHandler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequireJSON)

	// ルート定義
	r.Get("/v1/identities/{identity_id}/staged", h.ListStaged)
	r.Route("/v1/staged/{transaction_id}", func(r chi.Router) {
		r.Get("/", h.GetStaged)
		r.Post("/apply", h.ApplyStaged)
		r.Delete("/", h.DeleteStaged)
	})

	if cfg.OtelEnabled {
		return otelhttp.NewHandler(r, "stamp-agent")
	}
	return r
}

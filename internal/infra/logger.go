package infra

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"stamp-cli/config"
)

// TraceHandler はスパンのIDをログレコードに付与するslogハンドラ。
// レベル判定などは内側のハンドラに委ねる。
type TraceHandler struct {
	slog.Handler
	tracing bool
}

// NewTraceHandler は next を包む TraceHandler を生成する。
func NewTraceHandler(next slog.Handler, cfg *config.Config) *TraceHandler {
	return &TraceHandler{Handler: next, tracing: cfg.OtelEnabled}
}

// Handle は有効なスパンがあればそのIDを付けてから内側のハンドラに渡す。
func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.tracing {
		return h.Handler.Handle(ctx, r)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
			slog.Bool("trace_sampled", sc.IsSampled()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs), tracing: h.tracing}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name), tracing: h.tracing}
}

// ParseLevel はログレベル名を slog.Level に変換する。未知の名前は WARN として扱う。
func ParseLevel(name string) slog.Level {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// SetupLogger はグローバルロガーを設定する。
// 標準出力はコマンドの出力に使うため、ログは w（通常は標準エラー）に書く。
func SetupLogger(w io.Writer, cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.LogLevel)}
	slog.SetDefault(slog.New(NewTraceHandler(slog.NewJSONHandler(w, opts), cfg)))
}

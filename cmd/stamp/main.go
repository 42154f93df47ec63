// Package main はCLIツールのエントリポイント。
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/term"
	"gorm.io/gorm"

	"stamp-cli/config"
	"stamp-cli/internal/domain"
	"stamp-cli/internal/identity"
	"stamp-cli/internal/infra"
	"stamp-cli/internal/prompt"
	"stamp-cli/internal/repository"
	"stamp-cli/internal/usecase"
	"stamp-cli/migrations"
)

const version = "0.1.0"

// 設定の読み込みとDB接続を行わないコマンドに付ける注釈。
const skipSetup = "skip-setup"

var (
	configFile     string
	output         string
	identitySearch string
	nonInteractive bool
)

// app は1回の実行で使う依存関係をまとめる。
type app struct {
	cfg        *config.Config
	db         *gorm.DB
	tp         *sdktrace.TracerProvider
	span       trace.Span
	identities *usecase.IdentityService
	stages     *usecase.StageService
	recovery   *usecase.RecoveryService
	migrations *usecase.MigrationService
	passphrase *prompt.TerminalPassphrase
}

var application *app

func main() {
	rootCmd := &cobra.Command{
		Use:           "stamp",
		Short:         "Offline multi-party identity transactions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipSetup] == "true" || cmd.Name() == "help" {
				return nil
			}
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			application = a
			return nil
		},
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (or set STAMP_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().StringVar(&identitySearch, "id", "", "Identity ID or prefix (or set STAMP_DEFAULT_IDENTITY)")
	rootCmd.PersistentFlags().BoolVar(&nonInteractive, "non-interactive", false, "Never prompt for choices or confirmations")

	// サブコマンド登録
	rootCmd.AddCommand(idCmd())
	rootCmd.AddCommand(keychainCmd())
	rootCmd.AddCommand(policyCmd())
	rootCmd.AddCommand(claimCmd())
	rootCmd.AddCommand(stageCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(dbCmd())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.ExecuteContext(context.Background())
	if application != nil {
		application.close(err)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, prompt.RenderFail("error:"), err)
		os.Exit(1)
	}
}

// setup は設定、トレーサー、ロガー、DB、サービスを初期化する。
func setup(cmd *cobra.Command) (*app, error) {
	ctx := cmd.Context()

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// トレーサー初期化（ロガー設定の前に実行）
	tp, err := infra.InitTracer(ctx, cfg, version)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracer: %w", err)
	}

	// トレース情報付きロガーを設定
	infra.SetupLogger(os.Stderr, cfg)
	if cfg.KDFQuick {
		slog.WarnContext(ctx, "STAMP_KDF_QUICK is set, master keys are derived with the interactive KDF cost")
	}

	ctx, span := infra.Tracer().Start(ctx, cmd.CommandPath())
	cmd.SetContext(ctx)

	db, err := infra.NewDB(cfg)
	if err != nil {
		span.End()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	migrationService := usecase.NewMigrationService(repository.NewMigrationRepository(db), db, migrations.FS, cfg.DatabaseDriver)
	applied, err := migrationService.ApplyMigrations(ctx)
	if err != nil {
		span.End()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	if applied > 0 {
		slog.InfoContext(ctx, "applied migrations", "count", applied)
	}

	if identitySearch == "" {
		identitySearch = cfg.DefaultIdentity
	}

	// DI
	engine := identity.NewEngine()
	identityRepo := repository.NewIdentityRepository(db)
	stagedRepo := repository.NewStagedRepository(db)
	resolver := usecase.NewKeyResolver(chooser())
	stages := usecase.NewStageService(stagedRepo, identityRepo, engine, resolver, cfg.KDFParams())

	return &app{
		cfg:        cfg,
		db:         db,
		tp:         tp,
		span:       span,
		identities: usecase.NewIdentityService(identityRepo, engine, engine, stages, resolver, cfg.KDFParams()),
		stages:     stages,
		recovery:   usecase.NewRecoveryService(identityRepo, engine, cfg.KDFParams()),
		migrations: migrationService,
		passphrase: prompt.NewTerminalPassphrase(),
	}, nil
}

// close はスパンを終了し、トレーサーとDB接続を閉じる。
func (a *app) close(err error) {
	ctx := context.Background()
	if err != nil {
		a.span.RecordError(err)
	}
	a.span.SetAttributes(attribute.Bool("stamp.failed", err != nil))
	a.span.End()
	if a.tp != nil {
		if err := a.tp.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer", "error", err)
		}
	}
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// unlocker はパスフレーズからマスター鍵を導出する Unlocker を返す。
func (a *app) unlocker() usecase.Unlocker {
	return usecase.NewPassphraseUnlocker(a.passphrase, a.cfg.KDFParams())
}

// currentIdentity は --id で指定された、または唯一のアイデンティティを返す。
func (a *app) currentIdentity(ctx context.Context) (*domain.Identity, error) {
	return a.identities.Resolve(ctx, identitySearch)
}

func interactive() bool {
	return !nonInteractive && term.IsTerminal(int(os.Stdin.Fd()))
}

func chooser() usecase.Chooser {
	if !interactive() {
		return usecase.StrictChooser{}
	}
	return prompt.NewTerminalChooser(os.Stdin, os.Stderr)
}

func confirmer() usecase.Confirmer {
	if !interactive() {
		return nil
	}
	return prompt.NewTerminalConfirmer()
}

func jsonOutput() bool {
	return output == "json"
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipSetup: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("stamp version %s\n", version)
		},
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"llamad/internal/catalog"
	"llamad/internal/common/fsutil"
	"llamad/internal/config"
	"llamad/internal/confstore"
	"llamad/internal/httpapi"
	"llamad/internal/manager"
	"llamad/internal/proc"
	"llamad/internal/translate"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// serveFlags holds the serve command's flag values. Flags that are set
// explicitly override the config file.
type serveFlags struct {
	configPath   string
	addr         string
	modelsDir    string
	llamaBin     string
	stateDB      string
	logDir       string
	basePort     int
	portWindow   int
	defaultModel string
	ctxSize      int
	noAutostart  bool
}

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "llamad",
		Short: "Daemon exposing local llama-server processes behind an OpenAI-compatible API",
	}
	root.AddCommand(createServeCommand())
	return root
}

func createServeCommand() *cobra.Command {
	return serveCommand(&serveFlags{})
}

func serveCommand(flags *serveFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.configPath, "config", envOr("LLAMAD_CONFIG", ""), "path to config file (yaml/json/toml)")
	f.StringVar(&flags.addr, "addr", envOr("LLAMAD_ADDR", ":8080"), "HTTP listen address")
	f.StringVar(&flags.modelsDir, "models-dir", envOr("LLAMAD_MODELS_DIR", "~/models"), "directory scanned for *.gguf model files")
	f.StringVar(&flags.llamaBin, "llama-bin", envOr("LLAMAD_LLAMA_BIN", "llama-server"), "path to the llama-server executable")
	f.StringVar(&flags.stateDB, "state-db", envOr("LLAMAD_STATE_DB", ""), "sqlite file for per-model launch configs (empty disables persistence)")
	f.StringVar(&flags.logDir, "log-dir", envOr("LLAMAD_LOG_DIR", ""), "directory for rotated backend logs (empty disables file logging)")
	f.IntVar(&flags.basePort, "base-port", 8600, "first port of the backend allocation range")
	f.IntVar(&flags.portWindow, "port-window", 100, "size of the port allocation window")
	f.StringVar(&flags.defaultModel, "default-model", envOr("LLAMAD_DEFAULT_MODEL", ""), "model id used when a request omits one")
	f.IntVar(&flags.ctxSize, "ctx-size", 0, "default context size passed to llama-server (0 keeps server default)")
	f.BoolVar(&flags.noAutostart, "no-autostart", false, "disable launching models on demand")
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// buildConfig merges file config with flag overrides and fills defaults.
func buildConfig(cmd *cobra.Command, flags *serveFlags) (config.Config, error) {
	var cfg config.Config
	if flags.configPath != "" {
		var err error
		cfg, err = config.Load(flags.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
	}

	set := cmd.Flags().Changed
	if cfg.Addr == "" || set("addr") {
		cfg.Addr = flags.addr
	}
	if cfg.ModelsDir == "" || set("models-dir") {
		cfg.ModelsDir = flags.modelsDir
	}
	if cfg.LlamaBin == "" || set("llama-bin") {
		cfg.LlamaBin = flags.llamaBin
	}
	if cfg.StateDB == "" || set("state-db") {
		cfg.StateDB = flags.stateDB
	}
	if cfg.LogDir == "" || set("log-dir") {
		cfg.LogDir = flags.logDir
	}
	if cfg.BasePort == 0 || set("base-port") {
		cfg.BasePort = flags.basePort
	}
	if cfg.PortWindow == 0 || set("port-window") {
		cfg.PortWindow = flags.portWindow
	}
	if cfg.DefaultModel == "" || set("default-model") {
		cfg.DefaultModel = flags.defaultModel
	}
	if cfg.CtxSize == 0 || set("ctx-size") {
		cfg.CtxSize = flags.ctxSize
	}
	if flags.noAutostart {
		off := false
		cfg.Autostart = &off
	}
	if cfg.BackendHost == "" {
		cfg.BackendHost = "127.0.0.1"
	}
	if cfg.HealthTimeoutSec == 0 {
		cfg.HealthTimeoutSec = 120
	}
	if cfg.StopTimeoutSec == 0 {
		cfg.StopTimeoutSec = 5
	}

	dir, err := fsutil.ExpandHome(cfg.ModelsDir)
	if err != nil {
		return cfg, err
	}
	cfg.ModelsDir = dir
	return cfg, nil
}

func runServe(cmd *cobra.Command, flags *serveFlags) error {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	if lvl, err := zerolog.ParseLevel(envOr("LLAMAD_LOG_LEVEL", "info")); err == nil && lvl != zerolog.NoLevel {
		logger = logger.Level(lvl)
	}
	httpapi.SetLogger(logger)
	translate.SetLogger(logger.With().Str("component", "translate").Logger())

	cfg, err := buildConfig(cmd, flags)
	if err != nil {
		return err
	}

	models, err := catalog.LoadDir(cfg.ModelsDir)
	if err != nil {
		return fmt.Errorf("scan models dir: %w", err)
	}
	logger.Info().Int("models", len(models)).Str("dir", cfg.ModelsDir).Msg("model catalog loaded")

	var store manager.ConfigStore
	if cfg.StateDB != "" {
		db, err := confstore.Open(cfg.StateDB)
		if err != nil {
			return fmt.Errorf("open state db: %w", err)
		}
		defer db.Close()
		store = db
	}

	runner := &proc.Runner{
		Log:    proc.LogConfig{Dir: cfg.LogDir},
		Logger: logger.With().Str("component", "proc").Logger(),
	}

	mgr := manager.New(manager.Options{
		Config:   cfg,
		Models:   models,
		Launcher: runner,
		Store:    store,
		Logger:   logger.With().Str("component", "manager").Logger(),
	})

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	if cfg.AutostartEnabled() && cfg.DefaultModel != "" {
		go func() {
			if err := mgr.StartDefault(baseCtx); err != nil {
				logger.Error().Err(err).Msg("default model autostart failed")
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("llamad listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		mgr.Shutdown()
		return err
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	// Cancel in-flight generations, drain the HTTP server, then stop every
	// backend so no llama-server outlives the daemon.
	cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown error")
	}
	mgr.Shutdown()
	return nil
}

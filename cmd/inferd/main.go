package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/archive"
	"inferd/internal/common/fsutil"
	"inferd/internal/config"
	"inferd/internal/httpapi"
	"inferd/internal/serving"
	"inferd/pkg/wire"
)

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	addr := flag.String("addr", envDefault("INFERD_ADDR", ":50000"), "HTTP listen address, e.g. :50000")
	modelPath := flag.String("model-path", "", "Path to the initial model directory (required)")
	device := flag.String("device", envDefault("INFERD_DEVICE", "cpu"), "Execution device, e.g. cuda:0, cpu")
	workDir := flag.String("work-dir", "", "Directory for extracted model uploads (default: system temp)")
	cfgPath := flag.String("config", "", "Optional config file (yaml/json/toml); flags take precedence")
	maxArchiveMB := flag.Int("max-archive-mb", 0, "Maximum uploaded archive size in MB (0=default 1024)")
	maxBodyMB := flag.Int("max-body-mb", 0, "Maximum /infer body size in MB (0=default 64)")
	logLevel := flag.String("log-level", envDefault("INFERD_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	flag.Parse()

	var cfg config.Config
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			lg := zerolog.New(os.Stderr)
			lg.Fatal().Err(err).Str("path", *cfgPath).Msg("load config")
		}
	}
	// Flags override file values; file values override defaults.
	if *modelPath == "" {
		*modelPath = cfg.ModelPath
	}
	if cfg.Addr != "" && !flagWasSet("addr") {
		*addr = cfg.Addr
	}
	if cfg.Device != "" && !flagWasSet("device") {
		*device = cfg.Device
	}
	if *workDir == "" {
		*workDir = cfg.WorkDir
	}
	if *workDir == "" {
		*workDir = filepath.Join(os.TempDir(), "inferd")
	}
	if *maxArchiveMB == 0 {
		*maxArchiveMB = cfg.MaxArchiveMB
	}
	if *maxBodyMB == 0 {
		*maxBodyMB = cfg.MaxBodyMB
	}
	if cfg.LogLevel != "" && !flagWasSet("log-level") {
		*logLevel = cfg.LogLevel
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(*logLevel))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Str("svc", "inferd").Logger()

	if *modelPath == "" {
		logger.Fatal().Msg("model-path is required")
	}
	if p, err := fsutil.ExpandHome(*modelPath); err == nil {
		*modelPath = p
	}
	if p, err := fsutil.ExpandHome(*workDir); err == nil {
		*workDir = p
	}
	if !fsutil.PathExists(*modelPath) {
		logger.Fatal().Str("path", *modelPath).Msg("model path does not exist")
	}
	if err := fsutil.EnsureDir(*workDir); err != nil {
		logger.Fatal().Err(err).Str("path", *workDir).Msg("create work dir")
	}

	core := serving.New(serving.Config{
		Load:   demoLoad,
		Infer:  demoInfer,
		Logger: logger,
	})
	loader := archive.New(*workDir, int64(*maxArchiveMB)<<20, core, logger)

	httpapi.SetLogger(logger)
	if *maxBodyMB > 0 {
		httpapi.SetMaxBodyBytes(int64(*maxBodyMB) << 20)
	}
	if *maxArchiveMB > 0 {
		httpapi.SetMaxArchiveBytes(int64(*maxArchiveMB) << 20)
	}
	if len(cfg.CORSOrigins) > 0 {
		httpapi.SetCORSOptions(true, cfg.CORSOrigins,
			[]string{"GET", "POST"}, []string{"Content-Type", "X-Log-Level"})
	}

	baseCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	httpapi.SetBaseContext(baseCtx)

	// A startup load failure is fatal: never expose a partially
	// initialized server.
	logger.Info().Str("path", *modelPath).Str("device", *device).Msg("loading model")
	if err := core.Start(baseCtx, *modelPath, *device); err != nil {
		logger.Fatal().Err(err).Msg("startup model load failed")
	}

	mux := httpapi.NewMux(core, loader)
	srv := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		logger.Info().Str("addr", *addr).Msg("inferd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-baseCtx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown error")
	}
}

func flagWasSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// The callbacks below are placeholders: they validate the model
// directory and answer every call with a fixed-size action vector.
// Embedders replace them with real model loading and inference.

type demoModel struct {
	dir    string
	device string
}

func (m *demoModel) Close() error { return nil }

func demoLoad(ctx context.Context, path, device string) (serving.Model, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, os.ErrInvalid
	}
	return &demoModel{dir: path, device: device}, nil
}

func demoInfer(ctx context.Context, m serving.Model, device string, req *wire.Map) (*wire.Map, error) {
	out, err := wire.Float32Array([]uint32{7}, make([]float32, 7))
	if err != nil {
		return nil, err
	}
	return wire.NewMap().Set("output", out), nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/antigravity-dev/taskflow/internal/api"
	"github.com/antigravity-dev/taskflow/internal/calendar"
	"github.com/antigravity-dev/taskflow/internal/config"
	"github.com/antigravity-dev/taskflow/internal/event"
	"github.com/antigravity-dev/taskflow/internal/schedule"
	"github.com/antigravity-dev/taskflow/internal/store"
	"github.com/antigravity-dev/taskflow/internal/timetrack"
)

func configureLogger(logLevel string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func buildCalendar(cfg config.Calendar) (*calendar.WorkCalendar, error) {
	weekdays, err := cfg.WorkingWeekdays()
	if err != nil {
		return nil, err
	}
	startMin, endMin, err := cfg.DayWindow()
	if err != nil {
		return nil, err
	}
	return calendar.New(calendar.Config{
		Timezone:        cfg.Timezone,
		Weekdays:        weekdays,
		DayStartMinutes: startMin,
		DayEndMinutes:   endMin,
		Holidays:        cfg.Holidays,
	})
}

func validateRuntimeConfigReload(oldCfg, newCfg *config.Config) error {
	if oldCfg == nil || newCfg == nil {
		return fmt.Errorf("invalid config state during reload")
	}

	oldStateDB := strings.TrimSpace(oldCfg.General.StateDB)
	newStateDB := strings.TrimSpace(newCfg.General.StateDB)
	if oldStateDB != newStateDB {
		return fmt.Errorf("state_db changed (%q -> %q) and requires restart", oldStateDB, newStateDB)
	}

	oldAPIBind := strings.TrimSpace(oldCfg.API.Bind)
	newAPIBind := strings.TrimSpace(newCfg.API.Bind)
	if oldAPIBind != newAPIBind {
		return fmt.Errorf("api.bind changed (%q -> %q) and requires restart", oldAPIBind, newAPIBind)
	}
	return nil
}

func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("config file not found, using defaults", "config", path)
		return config.Default(), nil
	}
	return nil, err
}

func main() {
	configPath := flag.String("config", "taskflow.toml", "path to config file")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	validateOnly := flag.Bool("validate-config", false, "load and validate the config, then exit")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	logger.Info("taskflowd starting", "config", *configPath)

	if *validateOnly {
		if _, err := config.Load(*configPath); err != nil {
			logger.Error("config validation failed", "error", err)
			os.Exit(1)
		}
		logger.Info("config is valid", "config", *configPath)
		return
	}

	cfg, err := loadConfig(*configPath, logger)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfgManager := config.NewManager(cfg)

	logger = configureLogger(cfg.General.LogLevel, *dev)
	slog.SetDefault(logger)

	dbPath := config.ExpandHome(cfg.General.StateDB)
	st, err := store.Open(dbPath)
	if err != nil {
		logger.Error("failed to open store", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	cal, err := buildCalendar(cfg.Calendar)
	if err != nil {
		logger.Error("failed to build work calendar", "error", err)
		os.Exit(1)
	}

	sink := event.LogSink{Logger: logger.With("component", "events")}
	sched := schedule.New(st, cal, nil, sink, logger.With("component", "schedule"))
	tracker := timetrack.New(st, sink, logger.With("component", "timetrack"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	apiSrv, err := api.NewServer(cfgManager, st, sched, tracker, cal, logger.With("component", "api"))
	if err != nil {
		logger.Error("failed to create api server", "error", err)
		os.Exit(1)
	}
	defer apiSrv.Close()

	go func() {
		if err := apiSrv.Start(ctx); err != nil {
			logger.Error("api server error", "error", err)
		}
	}()

	logger.Info("taskflowd running",
		"bind", cfg.API.Bind,
		"state_db", dbPath,
		"timezone", cfg.Calendar.Timezone,
	)

	applyReload := func() error {
		updatedCfg, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		if err := validateRuntimeConfigReload(cfgManager.Get(), updatedCfg); err != nil {
			return err
		}
		cfgManager.Set(updatedCfg)
		logger = configureLogger(updatedCfg.General.LogLevel, *dev)
		slog.SetDefault(logger)
		return nil
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	for {
		sig := <-sigCh
		switch sig {
		case syscall.SIGHUP:
			if err := applyReload(); err != nil {
				logger.Error(fmt.Sprintf("config reload failed: %v", err))
				continue
			}
			logger.Info("config reloaded")
		default:
			shutdownStart := time.Now()
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			logger.Info("taskflowd stopped", "shutdown_duration", time.Since(shutdownStart).String())
			return
		}
	}
}

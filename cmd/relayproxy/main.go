// Command relayproxy runs the caching forward proxy and its admin
// interface, as one reactor loop, until SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/oferbear/HTTP-proxy/internal/app"
	"github.com/oferbear/HTTP-proxy/internal/config"
	"github.com/oferbear/HTTP-proxy/internal/logger"
)

func main() {
	startTime := time.Now()

	fs := pflag.NewFlagSet("relayproxy", pflag.ExitOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse flags: %v\n", err)
		os.Exit(1)
	}

	cfg, v, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logInstance, styledLogger, cleanup, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		LogFile:    cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	slog.SetDefault(logInstance)

	styledLogger.Info("initialising", "pid", os.Getpid())

	application, err := app.New(cfg, styledLogger)
	if err != nil {
		logger.FatalWithLogger(logInstance, "failed to create application", "error", err)
	}
	defer application.Close()

	config.WatchBaseDir(v, styledLogger, application.SetBaseDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		styledLogger.Info("shutdown signal received", "signal", sig.String())
		cancel()
		application.Stop()
	}()

	if err := application.Run(ctx); err != nil {
		logger.FatalWithLogger(logInstance, "reactor loop exited with error", "error", err)
	}

	reportProcessStats(styledLogger, startTime)
	styledLogger.Info("shutdown complete")
}

func reportProcessStats(log *logger.StyledLogger, startTime time.Time) {
	runtime.GC()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	log.Info("process memory stats",
		"heap_alloc_bytes", m.HeapAlloc,
		"heap_sys_bytes", m.HeapSys,
		"total_alloc_bytes", m.TotalAlloc,
		"num_gc", m.NumGC,
	)
	log.Info("runtime stats",
		"uptime", time.Since(startTime).Round(time.Millisecond),
		"go_version", runtime.Version(),
		"num_goroutine", runtime.NumGoroutine(),
		"gomaxprocs", runtime.GOMAXPROCS(0),
	)
}

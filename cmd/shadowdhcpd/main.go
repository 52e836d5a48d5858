// Command shadowdhcpd runs the reservation-only DHCPv4/v6 relay server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/shadowdhcp/shadowdhcpd/internal/extract"
	"github.com/shadowdhcp/shadowdhcpd/internal/server"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	var (
		configDir           = flag.String("config-dir", ".", "directory containing ids.json, config.json, reservations.json")
		logLevel            = flag.String("log-level", "info", "log level: debug, info, warn, error")
		logFile             = flag.String("log-file", "", "path to log file; if empty, logs go to stderr")
		availableExtractors = flag.Bool("available-extractors", false, "print the closed set of extractor names and exit")
		serviceAction       = flag.String("service", "", "service control action: install, uninstall, start, stop, restart, status")
	)
	flag.Parse()

	if *availableExtractors {
		printAvailableExtractors()

		return
	}

	logger := newLogger(*logLevel, *logFile)

	if *serviceAction != "" {
		handleServiceControlAction(logger, *serviceAction, *configDir)

		return
	}

	run(logger, *configDir)
}

// printAvailableExtractors implements the `--available-extractors` flag
// (spec.md §6): it prints the closed, compiled-in extractor set and
// exits without starting the server.
func printAvailableExtractors() {
	option82, option1837, mac := extract.AvailableNames()

	fmt.Println("option82:")
	for _, name := range option82 {
		fmt.Println("  " + name)
	}

	fmt.Println("option18/37:")
	for _, name := range option1837 {
		fmt.Println("  " + name)
	}

	fmt.Println("mac:")
	for _, name := range mac {
		fmt.Println("  " + name)
	}
}

// newLogger builds the program's structured logger, writing to logFile
// (rotated via lumberjack) when given, else to stderr.
func newLogger(level, logFile string) (l *slog.Logger) {
	lvl := slog.LevelInfo
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	cfg := &slogutil.Config{
		Format:       slogutil.FormatAdGuardLegacy,
		Level:        lvl,
		AddTimestamp: true,
	}

	if logFile != "" {
		cfg.Output = &lumberjack.Logger{
			Filename: logFile,
			MaxSize:  100,
			MaxAge:   30,
			Compress: true,
		}
	}

	return slogutil.New(cfg)
}

// run starts the server in the foreground and blocks until SIGINT/SIGTERM.
func run(logger *slog.Logger, configDir string) {
	srv, err := server.New(configDir, logger)
	if err != nil {
		logger.Error("initializing server", slogutil.KeyError, err)
		os.Exit(osutil.ExitCodeFailure)
	}

	if err = srv.Start(); err != nil {
		logger.Error("starting server", slogutil.KeyError, err)
		os.Exit(osutil.ExitCodeFailure)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err = srv.Shutdown(ctx); err != nil {
		logger.Error("shutting down server", slogutil.KeyError, err)
		os.Exit(osutil.ExitCodeFailure)
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"dashsync/internal/cli"
	"dashsync/internal/config"
	"dashsync/internal/logger"
	"dashsync/internal/output"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "config file (env: DASHSYNC_CONFIG)")
		envOnly = flag.Bool("env-only", false, "skip the config file (env: DASHSYNC_ENV_ONLY)")
		outFmt  = flag.String("output", "text", "Output format: json|text")
	)
	flag.Usage = func() { cli.Usage(os.Stderr) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		cli.Usage(os.Stderr)
		os.Exit(2)
	}

	path := strings.TrimSpace(*cfgPath)
	if path == "" {
		path = os.Getenv("DASHSYNC_CONFIG")
	}
	if path == "" {
		path = "config/config.yaml"
	}
	if v := os.Getenv("DASHSYNC_ENV_ONLY"); v != "" {
		*envOnly = *envOnly || strings.EqualFold(v, "true") || v == "1"
	}

	cfg, err := config.Load(path, *envOnly)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	// stdout carries command output.
	cfg.Log.Output = "stderr"

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger error:", err)
		os.Exit(1)
	}
	defer log.Sync()

	format, err := output.ParseFormat(*outFmt)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = cli.Dispatch(ctx, cli.Context{
		Config: cfg,
		Logger: log,
		Output: format,
		Stdout: os.Stdout,
	}, args)
	if err != nil {
		if !errors.Is(err, cli.ErrPassFailed) {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		stop()
		_ = log.Sync()
		os.Exit(1)
	}
}

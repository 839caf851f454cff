// webserver serves a document root over HTTP/1.1 with an epoll reactor
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/s00inx/webserver/server"
	"github.com/s00inx/webserver/server/auth"
	"github.com/s00inx/webserver/server/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "webserver:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := parseFlags(args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	lvl, _ := cfg.LogLevel()
	log := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
		stumpy.L.WithLevel(lvl),
	).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	srv, err := server.New(cfg, store, log)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// defaults, then the -config file, then every flag set on the command line
func parseFlags(args []string) (config.Config, error) {
	fs := flag.NewFlagSet("webserver", flag.ContinueOnError)
	path := fs.String("config", "", "toml configuration file")

	def := config.Default()
	port := fs.Int("p", def.Port, "listen port")
	trig := fs.Int("m", def.TrigMode, "trigger mode: 0 LT/LT, 1 LT/ET conn, 2 ET/LT listen, 3 ET/ET")
	linger := fs.Bool("o", def.Linger, "enable SO_LINGER")
	workers := fs.Int("t", def.Workers, "worker goroutines")
	timeout := fs.Duration("timeout", def.Timeout.Duration, "idle connection timeout, 0 disables")
	root := fs.String("root", def.Root, "document root")
	level := fs.String("level", def.Level, "log level: trace, debug, info, warn, error")
	dsn := fs.String("dsn", def.DSN, "mysql dsn for the user store, empty keeps users in memory")
	if err := fs.Parse(args); err != nil {
		return def, err
	}

	cfg := def
	if *path != "" {
		var err error
		if cfg, err = config.Load(*path); err != nil {
			return cfg, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "p":
			cfg.Port = *port
		case "m":
			cfg.TrigMode = *trig
		case "o":
			cfg.Linger = *linger
		case "t":
			cfg.Workers = *workers
		case "timeout":
			cfg.Timeout = config.Duration{Duration: *timeout}
		case "root":
			cfg.Root = *root
		case "level":
			cfg.Level = *level
		case "dsn":
			cfg.DSN = *dsn
		}
	})
	return cfg, nil
}

func openStore(ctx context.Context, cfg config.Config, log *logiface.Logger[logiface.Event]) (auth.Verifier, func(), error) {
	if cfg.DSN == "" {
		log.Warning().Log("no dsn configured, users are kept in memory")
		return auth.NewMemoryStore(cfg.BcryptCost), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	store, err := auth.OpenSQL(ctx, cfg.DSN, cfg.DBPool, cfg.BcryptCost)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Int("pool", cfg.DBPool).Log("user store connected")
	return store, func() { store.Close() }, nil
}

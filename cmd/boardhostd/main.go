// boardhostd is the collaborative drawing host server: it terminates
// client connections, runs the session/raster-sync core, and dispatches
// host administration instructions.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/inkfall/boardhost/internal/auth"
	"github.com/inkfall/boardhost/internal/config"
	"github.com/inkfall/boardhost/internal/host"
	"github.com/inkfall/boardhost/internal/reactor"
	"github.com/inkfall/boardhost/internal/telemetry"
	"github.com/inkfall/boardhost/internal/transport"
)

// VERSION is populated via build flags when packaging official binaries,
// following kcptun's own SELFBUILD placeholder convention.
var VERSION = "SELFBUILD"

// Exit codes returned by main on the various failure paths below.
const (
	exitClean     = 0
	exitBadArgs   = 2
	exitPortInUse = 3
	exitFatal     = 4
)

func main() {
	app := cli.NewApp()
	app.Name = "boardhostd"
	app.Usage = "collaborative drawing session host"
	app.Version = VERSION
	app.Flags = config.Flags
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitBadArgs)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(exitBadArgs)
	}

	log, err := telemetry.NewLogger(cfg.Log, cfg.Quiet)
	if err != nil {
		fmt.Fprintln(os.Stderr, "log:", err)
		os.Exit(exitBadArgs)
	}

	var passwordHash string
	if cfg.Password != "" {
		passwordHash, err = auth.HashPassword(cfg.Password)
		if err != nil {
			log.Error("failed hashing host password", "err", err)
			os.Exit(exitFatal)
		}
	}

	var authToken []byte
	if cfg.AuthKey != "" {
		authToken = auth.DeriveToken([]byte(cfg.AuthKey))
	}

	h := host.New(host.Config{
		Title:            cfg.Title,
		PasswordHash:     passwordHash,
		AuthToken:        authToken,
		MaxUsersTotal:    cfg.MaxUsersTotal,
		MaxSessionsTotal: cfg.MaxSessionsTotal,
		BackpressureHigh: cfg.BackpressureHigh,
		RasterCacheTTL:   cfg.RasterCacheTTLDuration(),
	}, log)

	stop := make(chan struct{})
	go telemetry.RunCounterLog(log, &h.Counters, cfg.SnmpLog, cfg.SnmpPeriod, stop)
	defer close(stop)

	l, err := transport.Listen(transport.Config{
		Kind:    cfg.Transport,
		Listen:  cfg.Listen,
		Crypt:   cfg.Crypt,
		AuthKey: cfg.AuthKey,
	}, log)
	if err != nil {
		log.Error("listen failed", "err", err)
		os.Exit(exitPortInUse)
	}

	log.Info("boardhostd listening", "addr", cfg.Listen, "transport", cfg.Transport, "title", cfg.Title)
	if err := reactor.Run(l, h, log); err != nil {
		log.Error("reactor stopped", "err", err)
		os.Exit(exitFatal)
	}
	os.Exit(exitClean)
	return nil
}

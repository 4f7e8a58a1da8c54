// Package config builds the boardhostd Config from CLI flags (via
// urfave/cli, kcptun's own flag library) with an optional JSON override
// file layered on top, the same two-stage parse kcptun uses for its own
// server config.
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/urfave/cli"
)

// Config is the fully resolved set of boardhostd settings.
type Config struct {
	Listen           string `json:"listen"`
	Transport        string `json:"transport"` // "tcp" or "kcp"
	Title            string `json:"title"`
	Password         string `json:"password"`
	AuthKey          string `json:"key"`
	MaxUsersTotal    int    `json:"maxusers"`
	MaxSessionsTotal int    `json:"maxsessions"`
	BackpressureHigh int    `json:"backpressurehigh"`
	RasterCacheTTL   int    `json:"rastercachettl"` // seconds; 0 disables caching
	Crypt            string `json:"crypt"`
	Log              string `json:"log"`
	SnmpLog          string `json:"snmplog"`
	SnmpPeriod       int    `json:"snmpperiod"`
	Quiet            bool   `json:"quiet"`
}

// RasterCacheTTLDuration converts the configured seconds into a
// time.Duration for session.NewRasterCache.
func (c Config) RasterCacheTTLDuration() time.Duration {
	return time.Duration(c.RasterCacheTTL) * time.Second
}

// Flags is the CLI surface, mirroring kcptun's server flags plus the
// boardhost-specific additions.
var Flags = []cli.Flag{
	cli.StringFlag{
		Name:  "listen,l",
		Value: ":9921",
		Usage: `board server listen address, eg: "IP:9921"`,
	},
	cli.StringFlag{
		Name:  "transport",
		Value: "tcp",
		Usage: "transport: tcp, or kcp for a UDP-backed reliable session",
	},
	cli.StringFlag{
		Name:  "title",
		Value: "boardhost",
		Usage: "host title advertised in HostInfo",
	},
	cli.StringFlag{
		Name:  "password",
		Value: "",
		Usage: "host password; empty disables the Password handshake requirement",
	},
	cli.StringFlag{
		Name:   "key",
		Value:  "",
		Usage:  "pre-shared secret for the Authentication handshake; empty disables it",
		EnvVar: "BOARDHOST_KEY",
	},
	cli.StringFlag{
		Name:  "crypt",
		Value: "aes",
		Usage: "symmetric cipher for an encrypted kcp transport: aes, aes-128, salsa20, none",
	},
	cli.IntFlag{
		Name:  "maxusers",
		Value: 254,
		Usage: "max simultaneously connected users",
	},
	cli.IntFlag{
		Name:  "maxsessions",
		Value: 64,
		Usage: "max simultaneously open sessions",
	},
	cli.IntFlag{
		Name:  "backpressurehigh",
		Value: 64 << 10,
		Usage: "outbound byte threshold past which a slow subscriber is evicted",
	},
	cli.IntFlag{
		Name:  "rastercachettl",
		Value: 30,
		Usage: "seconds a completed raster stays cached for fast-path joins; 0 disables caching",
	},
	cli.StringFlag{
		Name:  "log",
		Value: "",
		Usage: "log file path; empty logs to stderr",
	},
	cli.StringFlag{
		Name:  "snmplog",
		Value: "",
		Usage: "periodic CSV counter log path (strftime-style), empty disables it",
	},
	cli.IntFlag{
		Name:  "snmpperiod",
		Value: 60,
		Usage: "snmplog write interval in seconds",
	},
	cli.BoolFlag{
		Name:  "quiet",
		Usage: "suppress per-connection info logging",
	},
	cli.StringFlag{
		Name:  "c",
		Value: "",
		Usage: "JSON config file overriding the flags above",
	},
}

// FromContext builds a Config from parsed CLI flags, then applies a JSON
// override file if -c was given — the same two-stage resolution kcptun
// uses in its server main().
func FromContext(c *cli.Context) (Config, error) {
	cfg := Config{
		Listen:           c.String("listen"),
		Transport:        c.String("transport"),
		Title:            c.String("title"),
		Password:         c.String("password"),
		AuthKey:          c.String("key"),
		Crypt:            c.String("crypt"),
		MaxUsersTotal:    c.Int("maxusers"),
		MaxSessionsTotal: c.Int("maxsessions"),
		BackpressureHigh: c.Int("backpressurehigh"),
		RasterCacheTTL:   c.Int("rastercachettl"),
		Log:              c.String("log"),
		SnmpLog:          c.String("snmplog"),
		SnmpPeriod:       c.Int("snmpperiod"),
		Quiet:            c.Bool("quiet"),
	}
	if path := c.String("c"); path != "" {
		if err := applyJSONOverride(&cfg, path); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func applyJSONOverride(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(cfg)
}

// lhkeeper keeps a Vive v1 lighthouse (base station) powered on.
//
// It connects to the station over Bluetooth LE, writes the wake command,
// disconnects, and repeats before the station's own off-timeout expires.
// Cycle history, MQTT state and InfluxDB metrics are optional.
//
// Usage:
//
//	lhkeeper -b DEADBEEF --lh_b_mac aa:bb:cc:dd:ee:ff -g 3600 -p 20 -v 1
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/nerrad567/lhkeeper/internal/infrastructure/config"
	"github.com/nerrad567/lhkeeper/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newApp(ctx, openBluetoothLink).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newApp builds the command line. The action loads configuration, applies
// explicitly set flags on top of it and runs the keep-alive loop.
func newApp(ctx context.Context, open linkOpener) *cli.App {
	// -v selects verbosity, as in the original tool.
	cli.VersionFlag = cli.BoolFlag{Name: "version", Usage: "print the version"}

	app := cli.NewApp()
	app.Name = "lhkeeper"
	app.Usage = "keep a lighthouse base station powered on over Bluetooth LE"
	app.Version = fmt.Sprintf("%s (%s, %s)", version, commit, date)
	app.Flags = appFlags()
	app.Action = func(c *cli.Context) error {
		if c.NArg() > 0 {
			return fmt.Errorf("unexpected arguments: %v", c.Args())
		}

		cfg, err := config.Load(c.String("config"), flagOverrides(c))
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return run(ctx, cfg, logging.New(cfg.Logging, version), open)
	}
	return app
}

func appFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{Name: "config", EnvVar: config.EnvConfigPath, Usage: "YAML configuration file"},
		cli.StringFlag{Name: "lh_b_id, b", Usage: `hex ID of the lighthouse (as in LHB-<8_char_id>)`},
		cli.StringFlag{Name: "lh_b_mac", Usage: "BT MAC of the lighthouse (XX:XX:XX:XX:XX:XX)"},
		cli.IntFlag{Name: "lh_timeout", Usage: "time (sec) in which the lighthouse powers off if not pinged"},
		cli.IntFlag{Name: "hndl", Usage: "characteristic handle"},
		cli.IntFlag{Name: "global_timeout, g", Usage: "time (sec) to keep the lighthouse alive (0=forever)"},
		cli.IntFlag{Name: "ping_sleep, p", Usage: "time (sec) between two consecutive pings"},
		cli.IntFlag{Name: "try_count", Usage: "number of tries to set up a connection"},
		cli.IntFlag{Name: "try_pause", Usage: "sleep time (sec) when reconnecting"},
		cli.IntFlag{Name: "cmd2", Usage: "second byte in the data written to the lighthouse"},
		cli.IntFlag{Name: "verbose, v", Usage: "verbosity: 0 silent, 1 progress, 2 progress and read-back"},
	}
}

// flagOverrides applies only the flags given on the command line, so file and
// environment values survive when a flag is omitted.
func flagOverrides(c *cli.Context) config.Override {
	return func(cfg *config.Config) {
		if c.IsSet("lh_b_id") {
			cfg.Lighthouse.ID = c.String("lh_b_id")
		}
		if c.IsSet("lh_b_mac") {
			cfg.Lighthouse.Address = c.String("lh_b_mac")
		}
		if c.IsSet("lh_timeout") {
			cfg.Lighthouse.DeviceTimeout = c.Int("lh_timeout")
		}
		if c.IsSet("hndl") {
			cfg.Lighthouse.Handle = c.Int("hndl")
		}
		if c.IsSet("cmd2") {
			cfg.Lighthouse.SecondaryHeader = c.Int("cmd2")
		}
		if c.IsSet("global_timeout") {
			cfg.KeepAlive.GlobalTimeout = c.Int("global_timeout")
		}
		if c.IsSet("ping_sleep") {
			cfg.KeepAlive.PingInterval = c.Int("ping_sleep")
		}
		if c.IsSet("try_count") {
			cfg.KeepAlive.Retry.Count = c.Int("try_count")
		}
		if c.IsSet("try_pause") {
			cfg.KeepAlive.Retry.Pause = c.Int("try_pause")
		}
		if c.IsSet("verbose") {
			cfg.KeepAlive.Verbosity = c.Int("verbose")
		}
	}
}

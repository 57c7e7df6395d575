// Command sensorctl talks to the fingerprint sensor directly, without the
// ledger. It is meant for bench testing a board.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/aryan-thawkar/minipr2/internal/config"
	"github.com/aryan-thawkar/minipr2/internal/device"
	"github.com/aryan-thawkar/minipr2/internal/identity"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.LoadContext(context.Background())
	if err != nil {
		fatal("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "ports":
		if err := cmdPorts(); err != nil {
			fatal("ports: %v", err)
		}
	case "verify":
		fs := flag.NewFlagSet("verify", flag.ExitOnError)
		port := fs.String("port", cfg.Sensor.Port, "serial port (empty: discover)")
		verbose := fs.Bool("v", false, "log device chatter")
		_ = fs.Parse(os.Args[2:])
		cfg.Sensor.Port = *port
		if err := cmdVerify(ctx, cfg, *verbose); err != nil {
			fatal("verify: %v", err)
		}
	case "enroll":
		fs := flag.NewFlagSet("enroll", flag.ExitOnError)
		port := fs.String("port", cfg.Sensor.Port, "serial port (empty: discover)")
		slot := fs.Int("slot", -1, "sensor slot to store the template in")
		verbose := fs.Bool("v", false, "log device chatter")
		_ = fs.Parse(os.Args[2:])
		if *slot < 0 {
			fmt.Fprintln(os.Stderr, "enroll: --slot N is required")
			os.Exit(2)
		}
		cfg.Sensor.Port = *port
		if err := cmdEnroll(ctx, cfg, *slot, *verbose); err != nil {
			fatal("enroll: %v", err)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	prog := filepath.Base(os.Args[0])
	fmt.Fprintf(os.Stderr, `Usage:
  %s ports                          # list serial ports, board candidates marked
  %s verify [--port PATH] [-v]      # read a finger and print the match
  %s enroll --slot N [--port PATH] [-v]
`, prog, prog, prog)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func cmdPorts() error {
	ports, err := device.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("no serial ports found")
		return nil
	}
	picked, _ := device.DiscoverPort("")
	for _, p := range ports {
		mark := " "
		if p.Name == picked {
			mark = "*"
		}
		fmt.Printf("%s %-20s %s:%s %s\n", mark, p.Name, p.VID, p.PID, p.Product)
	}
	return nil
}

func newSensor(cfg *config.Config, verbose bool) *identity.Sensor {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	verifier := identity.NewVerifier(cfg.Protocol(logger), cfg.Timeouts(), logger)
	return identity.NewSensor(identity.DeviceDialer(cfg.Device(), device.SerialOpener, logger), verifier, logger)
}

func cmdVerify(ctx context.Context, cfg *config.Config, verbose bool) error {
	fmt.Println("place finger on the sensor")
	match, err := newSensor(cfg, verbose).Verify(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("matched slot %d with confidence %d\n", match.IdentityID, match.Confidence)
	return nil
}

func cmdEnroll(ctx context.Context, cfg *config.Config, slot int, verbose bool) error {
	fmt.Printf("enrolling into slot %d, follow the prompts on the device\n", slot)
	if err := newSensor(cfg, verbose).Enroll(ctx, slot); err != nil {
		return err
	}
	fmt.Println("stored")
	return nil
}

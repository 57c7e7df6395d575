package identity

import (
	"context"
	"log/slog"
	"time"

	"github.com/aryan-thawkar/minipr2/internal/device"
	"github.com/aryan-thawkar/minipr2/internal/errors"
	"github.com/aryan-thawkar/minipr2/internal/metrics"
	"github.com/aryan-thawkar/minipr2/internal/protocol"
)

// Link is an open connection to the sensor, released with Close.
type Link interface {
	protocol.Conn
	Close()
}

// Dialer opens a fresh link. Cancelling ctx must close the link.
type Dialer func(ctx context.Context) (Link, error)

// DeviceDialer dials the serial sensor described by cfg. An empty cfg.Port
// is resolved with port discovery on every dial, so a re-plugged board is
// picked up.
func DeviceDialer(cfg device.Config, open device.Opener, logger *slog.Logger) Dialer {
	return func(ctx context.Context) (Link, error) {
		path, err := device.DiscoverPort(cfg.Port)
		if err != nil {
			return nil, err
		}
		c := cfg
		c.Port = path
		l, err := device.Connect(ctx, c, open, logger)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
}

// Sensor owns the physical device. Operations are serialized: one holds the
// device from connect to close, and each gets a freshly reset link.
type Sensor struct {
	dial     Dialer
	verifier *Verifier
	sem      chan struct{}
	logger   *slog.Logger
}

func NewSensor(dial Dialer, verifier *Verifier, logger *slog.Logger) *Sensor {
	return &Sensor{
		dial:     dial,
		verifier: verifier,
		sem:      make(chan struct{}, 1),
		logger:   logger,
	}
}

func (s *Sensor) Verify(ctx context.Context) (Match, error) {
	var m Match
	err := s.withLink(ctx, protocol.CommandVerify, func(link Link) error {
		var err error
		m, err = s.verifier.Verify(ctx, link)
		return err
	})
	return m, err
}

func (s *Sensor) Enroll(ctx context.Context, slot int) error {
	return s.withLink(ctx, protocol.CommandEnroll, func(link Link) error {
		return s.verifier.Enroll(ctx, link, slot)
	})
}

func (s *Sensor) withLink(ctx context.Context, kind protocol.CommandKind, fn func(Link) error) error {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return errors.ErrConnection.WithDetails("sensor busy").WithCause(ctx.Err())
	}
	defer func() { <-s.sem }()

	start := time.Now()
	defer func() {
		metrics.SensorCommandDuration.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
	}()

	link, err := s.dial(ctx)
	if err != nil {
		metrics.SensorCommandsTotal.WithLabelValues(kind.String(), "connection_error").Inc()
		s.logger.Error("Sensor unavailable", "command", kind.String(), "error", err)
		return err
	}
	defer link.Close()

	return fn(link)
}

// NextSlot returns the smallest non-negative slot not in used.
func NextSlot(used []int) int {
	taken := make(map[int]struct{}, len(used))
	for _, id := range used {
		taken[id] = struct{}{}
	}
	slot := 0
	for {
		if _, ok := taken[slot]; !ok {
			return slot
		}
		slot++
	}
}

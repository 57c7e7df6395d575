package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/aryan-thawkar/minipr2/internal/errors"
)

const (
	DefaultBaudRate     = 9600
	DefaultResetPulse   = 100 * time.Millisecond
	DefaultBootDelay    = 2 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// Port is the subset of serial.Port the link relies on.
type Port interface {
	io.ReadWriteCloser
	SetDTR(dtr bool) error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	ResetOutputBuffer() error
	Drain() error
}

// Opener opens the named serial port in the given mode.
type Opener func(path string, mode *serial.Mode) (Port, error)

// SerialOpener opens a real serial port.
func SerialOpener(path string, mode *serial.Mode) (Port, error) {
	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

type Config struct {
	Port         string
	BaudRate     int
	ResetPulse   time.Duration
	BootDelay    time.Duration
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaudRate <= 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Link is an open byte stream to the sensor board. A Link serves a single
// command exchange at a time and is not safe for concurrent use, except
// for Close.
type Link struct {
	port   Port
	cfg    Config
	logger *slog.Logger

	buf   []byte
	chunk []byte

	closed    atomic.Bool
	closeOnce sync.Once

	mu        sync.Mutex
	stopWatch func() bool
}

// Connect opens the configured port at 8N1 without flow control and resets
// the board: DTR is pulsed low, the board is given BootDelay to come up,
// and any bytes it printed while booting are discarded. Cancelling ctx at
// any point closes the link.
func Connect(ctx context.Context, cfg Config, open Opener, logger *slog.Logger) (*Link, error) {
	cfg = cfg.withDefaults()
	if open == nil {
		open = SerialOpener
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := open(cfg.Port, mode)
	if err != nil {
		logger.Error("Failed to open sensor port", "port", cfg.Port, "error", err)
		return nil, errors.ErrConnection.WithCause(err)
	}

	l := &Link{
		port:   port,
		cfg:    cfg,
		logger: logger,
		chunk:  make([]byte, 256),
	}

	if err := l.reset(ctx); err != nil {
		l.Close()
		logger.Error("Failed to reset sensor board", "port", cfg.Port, "error", err)
		return nil, errors.ErrConnection.WithCause(err)
	}

	stop := context.AfterFunc(ctx, l.Close)
	l.mu.Lock()
	l.stopWatch = stop
	l.mu.Unlock()
	logger.Debug("Sensor link open", "port", cfg.Port, "baud", cfg.BaudRate)
	return l, nil
}

func (l *Link) reset(ctx context.Context) error {
	if err := l.port.SetReadTimeout(l.cfg.PollInterval); err != nil {
		return fmt.Errorf("set read timeout: %w", err)
	}
	if err := l.port.SetDTR(false); err != nil {
		return fmt.Errorf("deassert DTR: %w", err)
	}
	if err := sleep(ctx, l.cfg.ResetPulse); err != nil {
		return err
	}
	if err := l.port.SetDTR(true); err != nil {
		return fmt.Errorf("assert DTR: %w", err)
	}
	if err := sleep(ctx, l.cfg.BootDelay); err != nil {
		return err
	}
	if err := l.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("reset input buffer: %w", err)
	}
	if err := l.port.ResetOutputBuffer(); err != nil {
		return fmt.Errorf("reset output buffer: %w", err)
	}
	return nil
}

// Send writes data in full and waits for it to leave the output buffer.
func (l *Link) Send(data []byte) error {
	if l.closed.Load() {
		return errors.ErrWrite.WithDetails("link closed")
	}

	n, err := l.port.Write(data)
	if err != nil {
		l.logger.Error("Sensor write failed", "port", l.cfg.Port, "error", err)
		return errors.ErrWrite.WithCause(err)
	}
	if n != len(data) {
		return errors.ErrWrite.WithDetails(fmt.Sprintf("short write: %d of %d bytes", n, len(data)))
	}
	if err := l.port.Drain(); err != nil {
		return errors.ErrWrite.WithCause(err)
	}

	l.logger.Debug("Sent to sensor", "data", string(data))
	return nil
}

// ReadLine returns the next non-empty line from the device, decoded as
// UTF-8 with invalid bytes dropped and surrounding whitespace trimmed. It
// returns ErrDeviceTimeout once deadline passes without a complete line and
// ErrTransport if the link is closed, ctx is done or the port fails.
func (l *Link) ReadLine(ctx context.Context, deadline time.Time) (string, error) {
	for {
		if line, ok := l.nextLine(); ok {
			return line, nil
		}
		if l.closed.Load() {
			return "", errors.ErrTransport.WithDetails("link closed")
		}
		if err := ctx.Err(); err != nil {
			return "", errors.ErrTransport.WithCause(err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", errors.ErrDeviceTimeout
		}
		if err := l.port.SetReadTimeout(min(l.cfg.PollInterval, remaining)); err != nil {
			return "", l.readFailure(err)
		}

		n, err := l.port.Read(l.chunk)
		if n > 0 {
			l.buf = append(l.buf, l.chunk[:n]...)
		}
		if err != nil {
			return "", l.readFailure(err)
		}
	}
}

func (l *Link) readFailure(err error) error {
	if l.closed.Load() {
		return errors.ErrTransport.WithDetails("link closed")
	}
	l.logger.Error("Sensor read failed", "port", l.cfg.Port, "error", err)
	return errors.ErrTransport.WithCause(err)
}

func (l *Link) nextLine() (string, bool) {
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			return "", false
		}
		raw := l.buf[:i]
		l.buf = l.buf[i+1:]

		line := strings.TrimSpace(strings.ToValidUTF8(string(raw), ""))
		if line != "" {
			return line, true
		}
	}
}

// Close releases the port. It is idempotent and safe to call from any
// goroutine; errors from an already broken port are ignored.
func (l *Link) Close() {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.mu.Lock()
		stop := l.stopWatch
		l.mu.Unlock()
		if stop != nil {
			stop()
		}
		if err := l.port.Close(); err != nil {
			l.logger.Debug("Sensor port close", "port", l.cfg.Port, "error", err)
		}
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

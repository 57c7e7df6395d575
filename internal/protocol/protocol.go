package protocol

import (
	"context"
	"log/slog"
	"time"

	"github.com/aryan-thawkar/minipr2/internal/errors"
)

// Conn is the line-oriented byte stream a command runs over.
type Conn interface {
	Send(data []byte) error
	ReadLine(ctx context.Context, deadline time.Time) (string, error)
}

type Protocol struct {
	terminator    string
	maxConfidence int
	logger        *slog.Logger
}

type Option func(*Protocol)

// WithMaxConfidence sets the highest confidence a match line may carry.
// n <= 0 removes the ceiling.
func WithMaxConfidence(n int) Option {
	return func(p *Protocol) {
		p.maxConfidence = n
	}
}

// New returns a Protocol that appends terminator to every command. Most
// sketches read a single byte and need none; some expect "\n".
func New(terminator string, logger *slog.Logger, opts ...Option) *Protocol {
	p := &Protocol{
		terminator:    terminator,
		maxConfidence: DefaultMaxConfidence,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute sends cmd and waits up to timeout for a terminal marker. It never
// retries. Timeouts and transport failures are reported as outcomes; the
// returned error is non-nil only for a malformed match line.
func (p *Protocol) Execute(ctx context.Context, conn Conn, cmd Command, timeout time.Duration) (Outcome, error) {
	deadline := time.Now().Add(timeout)

	if err := conn.Send(cmd.Wire(p.terminator)); err != nil {
		p.logger.Error("Failed to send sensor command", "command", cmd.String(), "error", err)
		return Outcome{Kind: OutcomeTransportError, Err: err}, nil
	}

	for {
		line, err := conn.ReadLine(ctx, deadline)
		if err != nil {
			if errors.Is(err, errors.ErrDeviceTimeout) {
				p.logger.Info("Sensor command timed out", "command", cmd.String(), "timeout", timeout)
				return Outcome{Kind: OutcomeTimeout}, nil
			}
			p.logger.Error("Sensor link failed during command", "command", cmd.String(), "error", err)
			return Outcome{Kind: OutcomeTransportError, Err: err}, nil
		}

		outcome, terminal, err := decodeLine(line, p.maxConfidence)
		if err != nil {
			p.logger.Warn("Malformed sensor response", "command", cmd.String(), "line", line)
			return Outcome{}, err
		}
		if !terminal {
			p.logger.Debug("Sensor output", "line", line)
			continue
		}

		p.logger.Info("Sensor command completed",
			"command", cmd.String(),
			"outcome", outcome.Kind.String(),
			"identity_id", outcome.IdentityID,
			"confidence", outcome.Confidence)
		return outcome, nil
	}
}

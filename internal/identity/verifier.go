package identity

import (
	"context"
	"log/slog"

	"github.com/aryan-thawkar/minipr2/internal/errors"
	"github.com/aryan-thawkar/minipr2/internal/metrics"
	"github.com/aryan-thawkar/minipr2/internal/protocol"
)

// Match is a positive identification: the sensor slot whose template
// matched and the sensor's confidence in it.
type Match struct {
	IdentityID int `json:"identity_id"`
	Confidence int `json:"confidence"`
}

// Verifier turns raw command outcomes into identification results.
type Verifier struct {
	proto    *protocol.Protocol
	timeouts protocol.Timeouts
	logger   *slog.Logger
}

func NewVerifier(proto *protocol.Protocol, timeouts protocol.Timeouts, logger *slog.Logger) *Verifier {
	return &Verifier{
		proto:    proto,
		timeouts: timeouts,
		logger:   logger,
	}
}

// Verify asks the sensor to identify the finger on it. Every outcome other
// than a match is ErrIdentityVerificationFailed; the precise reason stays in
// the error chain for logs and metrics.
func (v *Verifier) Verify(ctx context.Context, conn protocol.Conn) (Match, error) {
	cmd := protocol.Verify()
	outcome, err := v.proto.Execute(ctx, conn, cmd, v.timeouts.For(cmd))
	if err != nil {
		record(cmd, "malformed")
		v.logger.Warn("Identity verification failed", "reason", errors.MalformedResponse, "error", err)
		return Match{}, errors.ErrIdentityVerificationFailed.WithCause(err)
	}
	record(cmd, outcome.Kind.String())

	if outcome.Kind == protocol.OutcomeMatchFound {
		return Match{IdentityID: outcome.IdentityID, Confidence: outcome.Confidence}, nil
	}

	cause := outcomeError(outcome)
	v.logger.Warn("Identity verification failed", "reason", outcome.Kind.String(), "line", outcome.Line)
	return Match{}, errors.ErrIdentityVerificationFailed.WithCause(cause)
}

// Enroll stores a new template under slot. Only a "Stored!" confirmation
// counts as success.
func (v *Verifier) Enroll(ctx context.Context, conn protocol.Conn, slot int) error {
	cmd, err := protocol.Enroll(slot)
	if err != nil {
		return err
	}

	outcome, err := v.proto.Execute(ctx, conn, cmd, v.timeouts.For(cmd))
	if err != nil {
		record(cmd, "malformed")
		return errors.ErrEnrollmentFailed.WithCause(err)
	}
	record(cmd, outcome.Kind.String())

	switch outcome.Kind {
	case protocol.OutcomeStored:
		v.logger.Info("Fingerprint enrolled", "slot", cmd.Slot())
		return nil
	case protocol.OutcomeTimeout, protocol.OutcomeTransportError:
		return outcomeError(outcome)
	default:
		v.logger.Warn("Fingerprint enrollment rejected", "slot", cmd.Slot(), "outcome", outcome.Kind.String(), "line", outcome.Line)
		return errors.ErrEnrollmentFailed.WithDetails(outcome.Line)
	}
}

func outcomeError(o protocol.Outcome) error {
	switch o.Kind {
	case protocol.OutcomeNoMatch:
		return errors.ErrNoMatch
	case protocol.OutcomeFailed:
		return errors.ErrSensorFailed.WithDetails(o.Line)
	case protocol.OutcomeTimeout:
		return errors.ErrDeviceTimeout
	case protocol.OutcomeTransportError:
		return errors.ErrTransport.WithCause(o.Err)
	case protocol.OutcomeStored:
		return errors.NewAppError(errors.SensorFailed, "unexpected enrollment confirmation")
	}
	return errors.NewAppErrorf(errors.InternalError, "unexpected outcome %s", o.Kind)
}

func record(cmd protocol.Command, outcome string) {
	metrics.SensorCommandsTotal.WithLabelValues(cmd.Kind().String(), outcome).Inc()
}

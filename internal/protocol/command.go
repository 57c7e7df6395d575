package protocol

import (
	"strconv"
	"time"

	"github.com/aryan-thawkar/minipr2/internal/errors"
)

type CommandKind int

const (
	CommandVerify CommandKind = iota
	CommandEnroll
)

func (k CommandKind) String() string {
	switch k {
	case CommandVerify:
		return "verify"
	case CommandEnroll:
		return "enroll"
	}
	return "unknown"
}

// Command is one request to the sensor firmware. The zero value is a
// Verify command.
type Command struct {
	kind CommandKind
	slot int
}

func Verify() Command {
	return Command{kind: CommandVerify}
}

// Enroll asks the sensor to store a new template under slot.
func Enroll(slot int) (Command, error) {
	if slot < 0 {
		return Command{}, errors.NewAppErrorf(errors.InvalidInput, "enroll slot must be non-negative, got %d", slot)
	}
	return Command{kind: CommandEnroll, slot: slot}, nil
}

func (c Command) Kind() CommandKind { return c.kind }
func (c Command) Slot() int         { return c.slot }

// Wire returns the bytes the firmware expects: "V" to verify, "E<slot>" to
// enroll, followed by terminator.
func (c Command) Wire(terminator string) []byte {
	var b []byte
	switch c.kind {
	case CommandEnroll:
		b = strconv.AppendInt([]byte{'E'}, int64(c.slot), 10)
	default:
		b = []byte{'V'}
	}
	return append(b, terminator...)
}

func (c Command) String() string {
	if c.kind == CommandEnroll {
		return "E" + strconv.Itoa(c.slot)
	}
	return "V"
}

const (
	DefaultVerifyTimeout = 10 * time.Second
	DefaultEnrollTimeout = 30 * time.Second
)

// Timeouts is the per-command response budget. Enrollment needs several
// finger placements and gets the longer budget.
type Timeouts struct {
	Verify time.Duration
	Enroll time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{Verify: DefaultVerifyTimeout, Enroll: DefaultEnrollTimeout}
}

func (t Timeouts) For(cmd Command) time.Duration {
	if cmd.kind == CommandEnroll {
		if t.Enroll > 0 {
			return t.Enroll
		}
		return DefaultEnrollTimeout
	}
	if t.Verify > 0 {
		return t.Verify
	}
	return DefaultVerifyTimeout
}

package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aryan-thawkar/minipr2/internal/errors"
)

type OutcomeKind int

const (
	OutcomeTimeout OutcomeKind = iota
	OutcomeStored
	OutcomeFailed
	OutcomeMatchFound
	OutcomeNoMatch
	OutcomeTransportError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeStored:
		return "stored"
	case OutcomeFailed:
		return "failed"
	case OutcomeMatchFound:
		return "match_found"
	case OutcomeNoMatch:
		return "no_match"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeTransportError:
		return "transport_error"
	}
	return "unknown"
}

// Outcome is the single terminal result of one command. IdentityID and
// Confidence are set only for OutcomeMatchFound; Err only for
// OutcomeTransportError. Line holds the device text that ended the wait.
type Outcome struct {
	Kind       OutcomeKind
	IdentityID int
	Confidence int
	Err        error
	Line       string
}

// Firmware markers, checked in this order.
const (
	markerMatch   = "Found ID"
	markerNoMatch = "Did not find a match"
	markerStored  = "Stored!"
	markerFailed  = "Failed"
)

// DefaultMaxConfidence is the score ceiling of the stock sensor library.
// Some sensor firmware reports raw match scores well above 100; raise the
// bound with WithMaxConfidence for those boards.
const DefaultMaxConfidence = 100

// DecodeLine classifies one line of device output. terminal is false for
// chatter such as "Place finger". A line carrying the match marker with an
// unparsable payload, or a confidence above DefaultMaxConfidence, yields
// ErrMalformedResponse.
func DecodeLine(line string) (o Outcome, terminal bool, err error) {
	return decodeLine(line, DefaultMaxConfidence)
}

// decodeLine is DecodeLine with an explicit confidence ceiling. A ceiling of
// zero or less accepts any non-negative confidence.
func decodeLine(line string, maxConfidence int) (o Outcome, terminal bool, err error) {
	o.Line = line
	switch {
	case strings.Contains(line, markerMatch):
		id, confidence, err := parseMatch(line, maxConfidence)
		if err != nil {
			return Outcome{}, true, errors.ErrMalformedResponse.WithDetails(fmt.Sprintf("%s: %q", err, line))
		}
		o.Kind = OutcomeMatchFound
		o.IdentityID = id
		o.Confidence = confidence
	case strings.Contains(line, markerNoMatch):
		o.Kind = OutcomeNoMatch
	case strings.Contains(line, markerStored):
		o.Kind = OutcomeStored
	case strings.Contains(line, markerFailed):
		o.Kind = OutcomeFailed
	default:
		return Outcome{}, false, nil
	}
	return o, true, nil
}

// parseMatch reads "... #<id> ... of <confidence>...". The id runs from the
// first '#' to the next whitespace; the confidence is the leading integer of
// the token after the first standalone "of" that follows the id.
func parseMatch(line string, maxConfidence int) (id, confidence int, err error) {
	hash := strings.IndexByte(line, '#')
	if hash < 0 {
		return 0, 0, fmt.Errorf("missing '#'")
	}

	fields := strings.Fields(line[hash+1:])
	if len(fields) == 0 {
		return 0, 0, fmt.Errorf("missing identity")
	}
	id, err = strconv.Atoi(fields[0])
	if err != nil || id < 0 {
		return 0, 0, fmt.Errorf("bad identity %q", fields[0])
	}

	for i := 1; i < len(fields); i++ {
		if fields[i] != "of" {
			continue
		}
		if i+1 >= len(fields) {
			break
		}
		digits := leadingDigits(fields[i+1])
		if digits == "" {
			return 0, 0, fmt.Errorf("bad confidence %q", fields[i+1])
		}
		confidence, err = strconv.Atoi(digits)
		if err != nil || (maxConfidence > 0 && confidence > maxConfidence) {
			return 0, 0, fmt.Errorf("confidence %q out of range", digits)
		}
		return id, confidence, nil
	}
	return 0, 0, fmt.Errorf("missing confidence")
}

func leadingDigits(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i]
}

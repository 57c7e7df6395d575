package identity

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan-thawkar/minipr2/internal/errors"
	"github.com/aryan-thawkar/minipr2/internal/metrics"
	"github.com/aryan-thawkar/minipr2/internal/protocol"
)

type fakeLink struct {
	mu     sync.Mutex
	lines  []string
	sent   []string
	closed int
	delay  time.Duration
}

func (l *fakeLink) Send(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, string(data))
	return nil
}

func (l *fakeLink) ReadLine(ctx context.Context, deadline time.Time) (string, error) {
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.lines) == 0 {
		return "", errors.ErrDeviceTimeout
	}
	line := l.lines[0]
	l.lines = l.lines[1:]
	return line, nil
}

func (l *fakeLink) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed++
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestVerifier() *Verifier {
	return NewVerifier(protocol.New("", discardLogger()), protocol.DefaultTimeouts(), discardLogger())
}

func TestVerifier_Verify(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		cause *errors.AppError
	}{
		{name: "no match", lines: []string{"Place finger", "Did not find a match"}, cause: errors.ErrNoMatch},
		{name: "sensor failure", lines: []string{"Failed"}, cause: errors.ErrSensorFailed},
		{name: "timeout", lines: []string{"Place finger"}, cause: errors.ErrDeviceTimeout},
		{name: "malformed", lines: []string{"Found ID #a with confidence of 9"}, cause: errors.ErrMalformedResponse},
		{name: "unexpected stored", lines: []string{"Stored!"}, cause: errors.ErrSensorFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestVerifier().Verify(context.Background(), &fakeLink{lines: tt.lines})
			require.Error(t, err)
			assert.Equal(t, errors.IdentityVerificationFailed, errors.CodeOf(err))
			assert.True(t, errors.Is(err, tt.cause), "cause should be preserved: %v", err)
		})
	}

	t.Run("match", func(t *testing.T) {
		link := &fakeLink{lines: []string{"Found ID #3 with confidence of 87"}}
		m, err := newTestVerifier().Verify(context.Background(), link)
		require.NoError(t, err)
		assert.Equal(t, Match{IdentityID: 3, Confidence: 87}, m)
		assert.Equal(t, []string{"V"}, link.sent)
	})
}

func TestVerifier_Enroll(t *testing.T) {
	t.Run("stored", func(t *testing.T) {
		link := &fakeLink{lines: []string{"Place finger", "Remove finger", "Stored!"}}
		require.NoError(t, newTestVerifier().Enroll(context.Background(), link, 7))
		assert.Equal(t, []string{"E7"}, link.sent)
	})

	t.Run("failed", func(t *testing.T) {
		err := newTestVerifier().Enroll(context.Background(), &fakeLink{lines: []string{"Fingerprints did not match, Failed"}}, 1)
		assert.True(t, errors.Is(err, errors.ErrEnrollmentFailed))
	})

	t.Run("timeout", func(t *testing.T) {
		err := newTestVerifier().Enroll(context.Background(), &fakeLink{}, 1)
		assert.True(t, errors.Is(err, errors.ErrDeviceTimeout))
	})

	t.Run("negative slot", func(t *testing.T) {
		link := &fakeLink{}
		err := newTestVerifier().Enroll(context.Background(), link, -1)
		assert.True(t, errors.Is(err, errors.ErrInvalidInput))
		assert.Empty(t, link.sent)
	})
}

func TestVerifier_RecordsOutcomeMetrics(t *testing.T) {
	counter := metrics.SensorCommandsTotal.WithLabelValues("verify", "no_match")
	before := testutil.ToFloat64(counter)

	_, _ = newTestVerifier().Verify(context.Background(), &fakeLink{lines: []string{"Did not find a match"}})

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestSensor_ClosesLinkOnEveryPath(t *testing.T) {
	links := []*fakeLink{
		{lines: []string{"Found ID #1 with confidence of 60"}},
		{lines: []string{"Did not find a match"}},
		{},
	}
	i := 0
	dial := func(context.Context) (Link, error) {
		l := links[i]
		i++
		return l, nil
	}
	s := NewSensor(dial, newTestVerifier(), discardLogger())

	_, err := s.Verify(context.Background())
	require.NoError(t, err)
	_, err = s.Verify(context.Background())
	require.Error(t, err)
	err = s.Enroll(context.Background(), 2)
	require.Error(t, err)

	for _, l := range links {
		assert.Equal(t, 1, l.closed)
	}
}

func TestSensor_DialFailure(t *testing.T) {
	dial := func(context.Context) (Link, error) {
		return nil, errors.ErrConnection.WithDetails("no serial ports found")
	}
	s := NewSensor(dial, newTestVerifier(), discardLogger())

	_, err := s.Verify(context.Background())
	assert.True(t, errors.Is(err, errors.ErrConnection))
}

func TestSensor_SerializesDeviceAccess(t *testing.T) {
	var active, maxActive atomic.Int32
	dial := func(context.Context) (Link, error) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		return &trackedLink{
			fakeLink: fakeLink{lines: []string{"Found ID #1 with confidence of 60"}, delay: 5 * time.Millisecond},
			onClose:  func() { active.Add(-1) },
		}, nil
	}
	s := NewSensor(dial, newTestVerifier(), discardLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Verify(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestSensor_BusyRespectsContext(t *testing.T) {
	release := make(chan struct{})
	dial := func(ctx context.Context) (Link, error) {
		<-release
		return &fakeLink{lines: []string{"Found ID #1 with confidence of 60"}}, nil
	}
	s := NewSensor(dial, newTestVerifier(), discardLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Verify(context.Background())
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Verify(ctx)
	assert.True(t, errors.Is(err, errors.ErrConnection))

	close(release)
	<-done
}

type trackedLink struct {
	fakeLink
	onClose func()
}

func (l *trackedLink) Close() {
	l.fakeLink.Close()
	l.onClose()
}

func TestNextSlot(t *testing.T) {
	assert.Equal(t, 0, NextSlot(nil))
	assert.Equal(t, 0, NextSlot([]int{1, 2}))
	assert.Equal(t, 3, NextSlot([]int{0, 1, 2}))
	assert.Equal(t, 2, NextSlot([]int{4, 0, 1, 3}))
	assert.Equal(t, 1, NextSlot([]int{0, 0, 2}))
}

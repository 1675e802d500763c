package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KTo1/ai-friend-sub000/internal/platform"
)

type scriptedSender struct {
	mu      sync.Mutex
	errs    []error // one per call; nil means success
	calls   int
	sentTo  []string
	lastMsg string
}

func (s *scriptedSender) Send(_ context.Context, conversationID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.calls < len(s.errs) {
		err = s.errs[s.calls]
	}
	s.calls++
	s.sentTo = append(s.sentTo, conversationID)
	s.lastMsg = text
	return err
}

func newTestDispatcher(sender platform.Sender) (*Dispatcher, *[]time.Duration) {
	bucket := NewTokenBucket(1000, 1000)
	guard := NewBurstGuard(1000, 10*time.Second, time.Hour, 24*time.Hour)
	d := NewDispatcher(sender, bucket, guard, 3, time.Second, time.Second)

	sleeps := &[]time.Duration{}
	d.sleep = func(_ context.Context, dur time.Duration) error {
		*sleeps = append(*sleeps, dur)
		return nil
	}
	return d, sleeps
}

func TestDispatcher_SuccessFirstTry(t *testing.T) {
	s := &scriptedSender{}
	d, sleeps := newTestDispatcher(s)

	require.NoError(t, d.Send(context.Background(), "a@example.org", "hi"))
	assert.Equal(t, 1, s.calls)
	assert.Empty(t, *sleeps)
}

func TestDispatcher_RetryAfterSleepsExactlyThenRetries(t *testing.T) {
	s := &scriptedSender{errs: []error{
		&platform.RetryAfterError{After: 7 * time.Second},
		nil,
	}}
	d, sleeps := newTestDispatcher(s)

	require.NoError(t, d.Send(context.Background(), "a@example.org", "hi"))
	assert.Equal(t, 2, s.calls)
	require.Len(t, *sleeps, 1)
	assert.Equal(t, 7*time.Second, (*sleeps)[0])
}

func TestDispatcher_TimeoutBacksOffExponentially(t *testing.T) {
	s := &scriptedSender{errs: []error{
		platform.ErrTimeout,
		platform.ErrTimeout,
		nil,
	}}
	d, sleeps := newTestDispatcher(s)

	require.NoError(t, d.Send(context.Background(), "a@example.org", "hi"))
	assert.Equal(t, 3, s.calls)
	require.Len(t, *sleeps, 2)
	assert.Equal(t, 1*time.Second, (*sleeps)[0])
	assert.Equal(t, 2*time.Second, (*sleeps)[1])
}

func TestDispatcher_TimeoutExhaustionReportsKind(t *testing.T) {
	s := &scriptedSender{errs: []error{
		platform.ErrTimeout, platform.ErrTimeout, platform.ErrTimeout,
	}}
	d, _ := newTestDispatcher(s)

	err := d.Send(context.Background(), "a@example.org", "hi")
	require.Error(t, err)

	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, FailTimeout, de.Kind)
	assert.Equal(t, 3, de.Attempts)
	assert.False(t, de.Terminal())
	assert.Equal(t, 3, s.calls)
}

func TestDispatcher_UnreachableExhaustionIsTerminal(t *testing.T) {
	s := &scriptedSender{errs: []error{
		platform.ErrRecipientUnreachable,
		platform.ErrRecipientUnreachable,
		platform.ErrRecipientUnreachable,
	}}
	d, _ := newTestDispatcher(s)

	err := d.Send(context.Background(), "gone@example.org", "hi")
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, FailUnreachable, de.Kind)
	assert.True(t, de.Terminal())
}

func TestDispatcher_ProviderErrorCarriesClass(t *testing.T) {
	provider := &platform.ProviderError{Class: "policy-violation", Message: "stanza rejected"}
	s := &scriptedSender{errs: []error{provider, provider, provider}}
	d, _ := newTestDispatcher(s)

	err := d.Send(context.Background(), "a@example.org", "hi")
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, FailProvider, de.Kind)

	var pe *platform.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "policy-violation", pe.Class)
}

func TestDispatcher_UnexpectedErrorIsInternal(t *testing.T) {
	boom := errors.New("wire exploded")
	s := &scriptedSender{errs: []error{boom, boom, boom}}
	d, _ := newTestDispatcher(s)

	err := d.Send(context.Background(), "a@example.org", "hi")
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, FailInternal, de.Kind)
	assert.ErrorIs(t, err, boom)
}

func TestDispatcher_NoSleepAfterFinalAttempt(t *testing.T) {
	s := &scriptedSender{errs: []error{
		platform.ErrTimeout, platform.ErrTimeout, platform.ErrTimeout,
	}}
	d, sleeps := newTestDispatcher(s)

	_ = d.Send(context.Background(), "a@example.org", "hi")
	assert.Len(t, *sleeps, 2)
}

func TestDispatcher_BurstDenialDelaysThenSends(t *testing.T) {
	s := &scriptedSender{}
	bucket := NewTokenBucket(1000, 1000)
	guard := NewBurstGuard(1, 15*time.Millisecond, time.Hour, 24*time.Hour)
	d := NewDispatcher(s, bucket, guard, 3, time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, d.Send(ctx, "a@example.org", "one"))

	// Second send hits the burst cap, waits, and succeeds on a later
	// attempt once the horizon has passed.
	start := time.Now()
	require.NoError(t, d.Send(ctx, "a@example.org", "two"))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	assert.Equal(t, 2, s.calls)
}

func TestDispatcher_BurstExhaustionReportsKind(t *testing.T) {
	s := &scriptedSender{}
	bucket := NewTokenBucket(1000, 1000)
	guard := NewBurstGuard(1, time.Hour, time.Hour, 24*time.Hour)
	d := NewDispatcher(s, bucket, guard, 3, time.Second, 250*time.Millisecond)

	sleeps := &[]time.Duration{}
	d.sleep = func(_ context.Context, dur time.Duration) error {
		*sleeps = append(*sleeps, dur)
		return nil
	}

	ctx := context.Background()
	require.NoError(t, d.Send(ctx, "a@example.org", "one"))

	// The guard stays saturated for the whole horizon, so the second send
	// must burn its attempt budget and fail instead of looping forever.
	err := d.Send(ctx, "a@example.org", "two")
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, FailBurstLimited, de.Kind)
	assert.Equal(t, 3, de.Attempts)
	assert.False(t, de.Terminal())
	assert.ErrorIs(t, err, ErrBurstLimited)

	// The platform is never touched while throttled, and there is no sleep
	// after the final attempt.
	assert.Equal(t, 1, s.calls)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, *sleeps)
}

func TestDispatcher_TokensNotRefundedOnFailure(t *testing.T) {
	s := &scriptedSender{errs: []error{
		platform.ErrTimeout, platform.ErrTimeout, platform.ErrTimeout,
	}}
	bucket := NewTokenBucket(10, 0.001)
	guard := NewBurstGuard(1000, 10*time.Second, time.Hour, 24*time.Hour)
	d := NewDispatcher(s, bucket, guard, 3, time.Second, time.Second)
	d.sleep = func(context.Context, time.Duration) error { return nil }

	_ = d.Send(context.Background(), "a@example.org", "hi")
	assert.InDelta(t, 7.0, bucket.Tokens(), 0.1)
}

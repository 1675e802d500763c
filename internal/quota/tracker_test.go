package quota

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore mirrors the PostgresStore semantics in memory: the per-user lock
// stands in for the row locks of the consume transaction.
type memStore struct {
	mu       sync.Mutex
	counters map[string]map[Granularity]Counter
}

func newMemStore() *memStore {
	return &memStore{counters: make(map[string]map[Granularity]Counter)}
}

func (s *memStore) ensure(userID string, now time.Time) map[Granularity]Counter {
	m, ok := s.counters[userID]
	if !ok {
		m = make(map[Granularity]Counter)
		for _, g := range Granularities {
			m[g] = Counter{WindowStart: now, UpdatedAt: now}
		}
		s.counters[userID] = m
	}
	return m
}

func (s *memStore) Consume(_ context.Context, userID string, ceilings map[Granularity]int, now time.Time) (ConsumeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.ensure(userID, now)
	for _, g := range Granularities {
		c := m[g]
		if Expired(g, c.WindowStart, now) {
			c = Counter{WindowStart: now, UpdatedAt: now}
			m[g] = c
		}
	}

	res := ConsumeResult{Counters: snapshot(m)}
	for _, g := range Granularities {
		if ceilings[g] != Unlimited && m[g].Count >= ceilings[g] {
			res.Exhausted = g
			return res, nil
		}
	}

	for _, g := range Granularities {
		c := m[g]
		c.Count++
		c.UpdatedAt = now
		m[g] = c
	}
	res.Allowed = true
	res.Counters = snapshot(m)
	return res, nil
}

func (s *memStore) IncrementOrReset(_ context.Context, userID string, g Granularity, now time.Time) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.ensure(userID, now)
	c := m[g]
	if Expired(g, c.WindowStart, now) {
		c = Counter{Count: 1, WindowStart: now, UpdatedAt: now}
	} else {
		c.Count++
		c.UpdatedAt = now
	}
	m[g] = c
	return c, nil
}

func (s *memStore) ResetExpired(_ context.Context, userID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.ensure(userID, now)
	for _, g := range Granularities {
		if c := m[g]; Expired(g, c.WindowStart, now) {
			m[g] = Counter{WindowStart: now, UpdatedAt: now}
		}
	}
	return nil
}

func (s *memStore) Get(_ context.Context, userID string, now time.Time) (map[Granularity]Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.ensure(userID, now)), nil
}

func (s *memStore) ResetAll(_ context.Context, userID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.ensure(userID, now)
	for _, g := range Granularities {
		m[g] = Counter{WindowStart: now, UpdatedAt: now}
	}
	return nil
}

func snapshot(m map[Granularity]Counter) map[Granularity]Counter {
	out := make(map[Granularity]Counter, len(m))
	for g, c := range m {
		out[g] = c
	}
	return out
}

type recordedEvent struct {
	userID         string
	length         int
	wasRejected    bool
	wasRateLimited bool
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *fakeRecorder) RecordUsage(_ context.Context, userID string, length int, wasRejected, wasRateLimited bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{userID, length, wasRejected, wasRateLimited})
}

func testLimits() LimitConfig {
	return LimitConfig{
		MessagesPerMinute:  2,
		MessagesPerHour:    15,
		MessagesPerDay:     30,
		MaxMessageLength:   2000,
		MaxContextMessages: 10,
		MaxContextLength:   4000,
	}
}

func newTestTracker(store CounterStore, stats StatsRecorder, at time.Time) *Tracker {
	tr := NewTracker(store, stats)
	tr.now = func() time.Time { return at }
	return tr
}

func TestCheckAndConsume_MinuteLimitScenario(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	tr := newTestTracker(newMemStore(), nil, now)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := tr.CheckAndConsume(ctx, "u1", "hello", testLimits())
		require.NoError(t, err)
		assert.True(t, d.Allowed, "message %d should be allowed", i+1)
	}

	d, err := tr.CheckAndConsume(ctx, "u1", "hello", testLimits())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyRateLimited, d.Reason)
	assert.Equal(t, Minute, d.Window)
	assert.Equal(t, 0, d.Remaining[Minute])
	assert.Contains(t, d.Message, "Minute limit: 2 messages")
	assert.Contains(t, d.Message, "per minute: 0/2")
}

func TestCheckAndConsume_DenialNeverIncrements(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	store := newMemStore()
	tr := newTestTracker(store, nil, now)
	ctx := context.Background()

	limits := testLimits()
	for i := 0; i < 2; i++ {
		_, err := tr.CheckAndConsume(ctx, "u1", "hi", limits)
		require.NoError(t, err)
	}

	for i := 0; i < 5; i++ {
		d, err := tr.CheckAndConsume(ctx, "u1", "hi", limits)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
	}

	counters, err := store.Get(ctx, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, 2, counters[Minute].Count)
	assert.Equal(t, 2, counters[Hour].Count)
	assert.Equal(t, 2, counters[Day].Count)
}

func TestCheckAndConsume_MinuteWindowRecovers(t *testing.T) {
	start := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	store := newMemStore()
	tr := newTestTracker(store, nil, start)
	ctx := context.Background()

	limits := testLimits()
	for i := 0; i < 2; i++ {
		_, err := tr.CheckAndConsume(ctx, "u1", "hi", limits)
		require.NoError(t, err)
	}
	d, err := tr.CheckAndConsume(ctx, "u1", "hi", limits)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// The minute window rolls exactly 60s after its own start; hour and day
	// keep counting.
	tr.now = func() time.Time { return start.Add(time.Minute) }
	d, err = tr.CheckAndConsume(ctx, "u1", "hi", limits)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	counters, err := store.Get(ctx, "u1", start.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, counters[Minute].Count)
	assert.Equal(t, 3, counters[Hour].Count)
}

func TestCheckAndConsume_HourCeilingReportedOverDay(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	tr := newTestTracker(newMemStore(), nil, now)
	ctx := context.Background()

	// Minute unlimited, hour and day both immediately exhausted: the
	// shorter window wins the report.
	limits := LimitConfig{MessagesPerHour: 1, MessagesPerDay: 1, MaxMessageLength: 100}
	_, err := tr.CheckAndConsume(ctx, "u1", "hi", limits)
	require.NoError(t, err)

	d, err := tr.CheckAndConsume(ctx, "u1", "hi", limits)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, Hour, d.Window)
	assert.Contains(t, d.Message, "Hourly limit: 1 messages")
}

func TestCheckAndConsume_MessageTooLong(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	store := newMemStore()
	rec := &fakeRecorder{}
	tr := newTestTracker(store, rec, now)
	ctx := context.Background()

	limits := LimitConfig{MessagesPerMinute: 2, MaxMessageLength: 5}
	d, err := tr.CheckAndConsume(ctx, "u1", "way too long", limits)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyMessageTooLong, d.Reason)
	assert.Contains(t, d.Message, "too long (12 characters)")

	// Rejection consumes no rate budget.
	counters, err := store.Get(ctx, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, 0, counters[Minute].Count)

	require.Len(t, rec.events, 1)
	assert.True(t, rec.events[0].wasRejected)
	assert.False(t, rec.events[0].wasRateLimited)
}

func TestCheckAndConsume_CountsRunesNotBytes(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	tr := newTestTracker(newMemStore(), nil, now)

	limits := LimitConfig{MaxMessageLength: 6}
	d, err := tr.CheckAndConsume(context.Background(), "u1", "привет", limits)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheckAndConsume_UnlimitedCeilingsAlwaysAllow(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	store := newMemStore()
	tr := newTestTracker(store, nil, now)
	ctx := context.Background()

	limits := LimitConfig{MaxMessageLength: 100} // all windows unlimited
	for i := 0; i < 50; i++ {
		d, err := tr.CheckAndConsume(ctx, "u1", "hi", limits)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, -1, d.Remaining[Minute])
	}

	counters, err := store.Get(ctx, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, 50, counters[Day].Count)
}

func TestCheckAndConsume_ExactlyKUnderConcurrency(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	tr := newTestTracker(newMemStore(), nil, now)
	ctx := context.Background()

	limits := LimitConfig{MessagesPerMinute: 5, MessagesPerHour: 100, MessagesPerDay: 100, MaxMessageLength: 100}

	const n = 40
	var wg sync.WaitGroup
	results := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := tr.CheckAndConsume(ctx, "u1", "hi", limits)
			require.NoError(t, err)
			results[i] = d.Allowed
		}(i)
	}
	wg.Wait()

	allowed := 0
	for _, ok := range results {
		if ok {
			allowed++
		}
	}
	assert.Equal(t, 5, allowed)
}

func TestStatus_ReadOnlyAndRepairsStaleWindows(t *testing.T) {
	start := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	store := newMemStore()
	tr := newTestTracker(store, nil, start)
	ctx := context.Background()

	limits := testLimits()
	for i := 0; i < 2; i++ {
		_, err := tr.CheckAndConsume(ctx, "u1", "hi", limits)
		require.NoError(t, err)
	}

	// Two minutes later the minute window is stale; Status must not report
	// it as still consumed.
	tr.now = func() time.Time { return start.Add(2 * time.Minute) }
	st, err := tr.Status(ctx, "u1", limits)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Used[Minute])
	assert.Equal(t, 2, st.Used[Hour])
	assert.Equal(t, 2, st.Remaining[Minute])
	assert.Equal(t, 13, st.Remaining[Hour])

	// Status consumed nothing.
	st2, err := tr.Status(ctx, "u1", limits)
	require.NoError(t, err)
	assert.Equal(t, st.Used, st2.Used)
}

func TestResetCounters(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	store := newMemStore()
	tr := newTestTracker(store, nil, now)
	ctx := context.Background()

	limits := testLimits()
	for i := 0; i < 2; i++ {
		_, err := tr.CheckAndConsume(ctx, "u1", "hi", limits)
		require.NoError(t, err)
	}
	d, err := tr.CheckAndConsume(ctx, "u1", "hi", limits)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	require.NoError(t, tr.ResetCounters(ctx, "u1"))

	d, err = tr.CheckAndConsume(ctx, "u1", "hi", limits)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestDenyMessage_ListsAllWindows(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	tr := newTestTracker(newMemStore(), nil, now)
	ctx := context.Background()

	limits := testLimits()
	for i := 0; i < 2; i++ {
		_, err := tr.CheckAndConsume(ctx, "u1", "hi", limits)
		require.NoError(t, err)
	}
	d, err := tr.CheckAndConsume(ctx, "u1", "hi", limits)
	require.NoError(t, err)

	for _, want := range []string{"per minute: 0/2", "per hour: 13/15", "per day: 28/30", "Please wait:"} {
		assert.True(t, strings.Contains(d.Message, want), "message missing %q:\n%s", want, d.Message)
	}
}

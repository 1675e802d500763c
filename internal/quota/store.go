package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CounterStore is the durable per-user window counter store. Implementations
// must make Consume linearizable per user: under N concurrent calls with K
// remaining budget, exactly K are allowed.
type CounterStore interface {
	// Consume atomically performs the three-window admission: lazily resets
	// expired windows, compares counts against ceilings and increments all
	// three counters only when every window is under its ceiling. A denial
	// never increments.
	Consume(ctx context.Context, userID string, ceilings map[Granularity]int, now time.Time) (ConsumeResult, error)

	// IncrementOrReset is the single-statement conditional upsert primitive:
	// reset-and-count-one when the window has expired, plain increment
	// otherwise. Used when recording is unconditional (all ceilings lifted).
	IncrementOrReset(ctx context.Context, userID string, g Granularity, now time.Time) (Counter, error)

	// ResetExpired zeroes any expired windows without incrementing, so that
	// read-only queries do not report stale counters as still active.
	ResetExpired(ctx context.Context, userID string, now time.Time) error

	// Get returns the user's counters; missing rows come back as zero
	// counters with windowStart = now.
	Get(ctx context.Context, userID string, now time.Time) (map[Granularity]Counter, error)

	// ResetAll zeroes all three windows immediately (admin reset).
	ResetAll(ctx context.Context, userID string, now time.Time) error
}

// ConsumeResult reports the admission outcome together with the counter
// values observed inside the same atomic step.
type ConsumeResult struct {
	Allowed   bool
	Exhausted Granularity // first exhausted window when denied, precedence minute > hour > day
	Counters  map[Granularity]Counter
}

// PostgresStore stores window counters in the quota_counters table, one row
// per user per granularity.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// cutoffCmp is the SQL counterpart of Expired's boundary handling: the
// rolling minute window includes its cutoff instant, anchored windows do
// not. The operator is interpolated from this closed set, never from input.
func cutoffCmp(g Granularity) string {
	if g == Minute {
		return "<="
	}
	return "<"
}

const incrementOrResetSQLTpl = `
	INSERT INTO quota_counters (user_id, granularity, count, window_start, updated_at)
	VALUES ($1, $2, 1, $3, $3)
	ON CONFLICT (user_id, granularity) DO UPDATE SET
		count = CASE WHEN quota_counters.window_start %[1]s $4 THEN 1
		             ELSE quota_counters.count + 1 END,
		window_start = CASE WHEN quota_counters.window_start %[1]s $4 THEN $3
		                    ELSE quota_counters.window_start END,
		updated_at = $3
	RETURNING count, window_start, updated_at`

func (s *PostgresStore) IncrementOrReset(ctx context.Context, userID string, g Granularity, now time.Time) (Counter, error) {
	var c Counter
	err := s.pool.QueryRow(ctx, fmt.Sprintf(incrementOrResetSQLTpl, cutoffCmp(g)),
		userID, string(g), now.UTC(), ResetBefore(g, now).UTC(),
	).Scan(&c.Count, &c.WindowStart, &c.UpdatedAt)
	if err != nil {
		return Counter{}, fmt.Errorf("incrementing %s counter: %w", g, err)
	}
	return c, nil
}

func (s *PostgresStore) Consume(ctx context.Context, userID string, ceilings map[Granularity]int, now time.Time) (ConsumeResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ConsumeResult{}, fmt.Errorf("beginning consume tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := ensureRows(ctx, tx, userID, now); err != nil {
		return ConsumeResult{}, err
	}

	// Row locks serialize concurrent admissions for the same user. The fixed
	// granularity order keeps lock acquisition deadlock-free.
	rows, err := tx.Query(ctx,
		`SELECT granularity, count, window_start, updated_at
		 FROM quota_counters
		 WHERE user_id = $1
		 ORDER BY granularity
		 FOR UPDATE`, userID)
	if err != nil {
		return ConsumeResult{}, fmt.Errorf("locking counters: %w", err)
	}

	counters := make(map[Granularity]Counter, len(Granularities))
	for rows.Next() {
		var g string
		var c Counter
		if err := rows.Scan(&g, &c.Count, &c.WindowStart, &c.UpdatedAt); err != nil {
			rows.Close()
			return ConsumeResult{}, fmt.Errorf("scanning counter: %w", err)
		}
		counters[Granularity(g)] = c
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return ConsumeResult{}, fmt.Errorf("reading counters: %w", err)
	}

	// Lazy reset of expired windows, persisted even when the check denies.
	for _, g := range Granularities {
		c := counters[g]
		if Expired(g, c.WindowStart, now) {
			if _, err := tx.Exec(ctx,
				`UPDATE quota_counters
				 SET count = 0, window_start = $3, updated_at = $3
				 WHERE user_id = $1 AND granularity = $2`,
				userID, string(g), now.UTC()); err != nil {
				return ConsumeResult{}, fmt.Errorf("resetting %s window: %w", g, err)
			}
			c.Count = 0
			c.WindowStart = now.UTC()
			c.UpdatedAt = now.UTC()
			counters[g] = c
		}
	}

	res := ConsumeResult{Counters: counters}
	for _, g := range Granularities {
		ceiling := ceilings[g]
		if ceiling != Unlimited && counters[g].Count >= ceiling {
			res.Exhausted = g
			break
		}
	}

	if res.Exhausted != "" {
		// Denied: keep the resets, never the increment.
		if err := tx.Commit(ctx); err != nil {
			return ConsumeResult{}, fmt.Errorf("committing denial: %w", err)
		}
		return res, nil
	}

	if _, err := tx.Exec(ctx,
		`UPDATE quota_counters
		 SET count = count + 1, updated_at = $2
		 WHERE user_id = $1`, userID, now.UTC()); err != nil {
		return ConsumeResult{}, fmt.Errorf("incrementing counters: %w", err)
	}
	for g, c := range counters {
		c.Count++
		c.UpdatedAt = now.UTC()
		counters[g] = c
	}

	if err := tx.Commit(ctx); err != nil {
		return ConsumeResult{}, fmt.Errorf("committing consume: %w", err)
	}
	res.Allowed = true
	return res, nil
}

func (s *PostgresStore) ResetExpired(ctx context.Context, userID string, now time.Time) error {
	for _, g := range Granularities {
		_, err := s.pool.Exec(ctx, fmt.Sprintf(
			`UPDATE quota_counters
			 SET count = 0, window_start = $3, updated_at = $3
			 WHERE user_id = $1 AND granularity = $2 AND window_start %s $4`,
			cutoffCmp(g)),
			userID, string(g), now.UTC(), ResetBefore(g, now).UTC())
		if err != nil {
			return fmt.Errorf("resetting expired %s window: %w", g, err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, userID string, now time.Time) (map[Granularity]Counter, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT granularity, count, window_start, updated_at
		 FROM quota_counters WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("fetching counters: %w", err)
	}
	defer rows.Close()

	counters := make(map[Granularity]Counter, len(Granularities))
	for rows.Next() {
		var g string
		var c Counter
		if err := rows.Scan(&g, &c.Count, &c.WindowStart, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning counter: %w", err)
		}
		counters[Granularity(g)] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading counters: %w", err)
	}

	// A user who never sent a message has no rows yet.
	for _, g := range Granularities {
		if _, ok := counters[g]; !ok {
			counters[g] = Counter{WindowStart: now.UTC(), UpdatedAt: now.UTC()}
		}
	}
	return counters, nil
}

func (s *PostgresStore) ResetAll(ctx context.Context, userID string, now time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE quota_counters
		 SET count = 0, window_start = $2, updated_at = $2
		 WHERE user_id = $1`, userID, now.UTC())
	if err != nil {
		return fmt.Errorf("resetting counters: %w", err)
	}
	return nil
}

func ensureRows(ctx context.Context, tx pgx.Tx, userID string, now time.Time) error {
	for _, g := range Granularities {
		_, err := tx.Exec(ctx,
			`INSERT INTO quota_counters (user_id, granularity, count, window_start, updated_at)
			 VALUES ($1, $2, 0, $3, $3)
			 ON CONFLICT (user_id, granularity) DO NOTHING`,
			userID, string(g), now.UTC())
		if err != nil {
			return fmt.Errorf("ensuring %s counter row: %w", g, err)
		}
	}
	return nil
}

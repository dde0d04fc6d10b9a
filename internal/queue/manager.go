package queue

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"github.com/vaultbot/ingest/internal/store"
	"github.com/vaultbot/ingest/internal/utils"
)

// ErrNoJob is returned by Claim when no matching pending job exists or
// another worker won the claim race.
var ErrNoJob = errors.New("queue: no job available")

// jobColumns is the select list shared by every job query.
const jobColumns = "id, content_category, platform, status, payload, result, source_channel_id, source_type, user_id, created_at"

// Manager mediates all Job mutation against the durable store.
//
// A job claimed by a worker that crashes stays in processing forever:
// there is no lease or heartbeat reclaim. That gap is deliberate (the
// claim guarantee is at-most-once) and a lease would change the claim
// semantics observably, so it is documented here rather than patched.
type Manager struct {
	db      *sql.DB
	dialect store.Dialect
	log     utils.Logger
	policy  utils.RetryPolicy

	// onConflict fires when a claim loses the CAS race to another
	// worker. Wired to metrics by the binary.
	onConflict func()
}

// NewManager creates a queue manager on an open database handle. The
// dialect must match the handle's driver; it is the same dialect the
// content store binds with, since both share one database.
func NewManager(db *sql.DB, dialect store.Dialect, log utils.Logger) *Manager {
	policy := utils.DefaultRetryPolicy()
	policy.ShouldRetry = isTransientStoreError
	return &Manager{db: db, dialect: dialect, log: log, policy: policy}
}

// Claim atomically selects the oldest pending job matching filter and
// transitions it to processing. It returns ErrNoJob when the queue is
// empty or another worker wins the race for the selected row; the
// caller treats both the same way. Transient connectivity errors are
// retried with bounded backoff before surfacing.
func (m *Manager) Claim(ctx context.Context, filter Filter) (*Job, error) {
	var job *Job
	err := utils.Retry(ctx, m.policy, func() error {
		j, err := m.claimOnce(ctx, filter)
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// claimOnce performs one select-then-CAS claim attempt. The update's
// WHERE-status guard makes the transition atomic: zero rows affected
// means another worker claimed the job first.
func (m *Manager) claimOnce(ctx context.Context, filter Filter) (*Job, error) {
	query, args := buildClaimSelect(filter, m.dialect)

	row := m.db.QueryRowContext(ctx, query, args...)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("queue: selecting pending job: %w", err)
	}

	res, err := m.db.ExecContext(ctx,
		m.dialect.Bind(`UPDATE jobs SET status = ? WHERE id = ? AND status = ?`),
		StatusProcessing, job.ID, StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("queue: claiming job %s: %w", job.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("queue: claiming job %s: %w", job.ID, err)
	}
	if affected == 0 {
		// Lost the race. Not an error: the job went to another worker.
		m.log.Debugf("lost claim race for job %s", job.ID)
		if m.onConflict != nil {
			m.onConflict()
		}
		return nil, ErrNoJob
	}

	job.Status = StatusProcessing
	return job, nil
}

// Complete writes the result and marks the job complete. Calling it a
// second time with the same result is a no-op, not an error.
func (m *Manager) Complete(ctx context.Context, jobID string, result Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("queue: encoding result for job %s: %w", jobID, err)
	}

	res, err := m.db.ExecContext(ctx,
		m.dialect.Bind(`UPDATE jobs SET result = ?, status = ? WHERE id = ? AND status IN (?, ?)`),
		payload, StatusComplete, jobID, StatusProcessing, StatusComplete,
	)
	if err != nil {
		return fmt.Errorf("queue: completing job %s: %w", jobID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("queue: completing job %s: %w", jobID, err)
	}
	if affected == 0 {
		return fmt.Errorf("queue: job %s not in a completable state", jobID)
	}
	return nil
}

// Fail marks the job failed with a structured result carrying the error
// category and a human-readable detail.
func (m *Manager) Fail(ctx context.Context, jobID, errorCategory, detail string) error {
	payload, err := json.Marshal(Result{ErrorCategory: errorCategory, ErrorDetail: detail})
	if err != nil {
		return fmt.Errorf("queue: encoding failure for job %s: %w", jobID, err)
	}

	if _, err := m.db.ExecContext(ctx,
		m.dialect.Bind(`UPDATE jobs SET result = ?, status = ? WHERE id = ?`),
		payload, StatusFailed, jobID,
	); err != nil {
		return fmt.Errorf("queue: failing job %s: %w", jobID, err)
	}
	return nil
}

// buildClaimSelect assembles the oldest-first pending-job query for the
// filter. Postgres gets array parameters; MySQL and SQLite get expanded
// IN lists.
func buildClaimSelect(filter Filter, dialect store.Dialect) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("SELECT " + jobColumns + " FROM jobs WHERE status = ?")
	args := []interface{}{string(StatusPending)}

	if filter.ContentCategory != "" {
		sb.WriteString(" AND content_category = ?")
		args = append(args, string(filter.ContentCategory))
	}
	if len(filter.Platforms) > 0 {
		if dialect == store.DialectPostgres {
			sb.WriteString(" AND platform = ANY(?)")
			args = append(args, pq.Array(filter.Platforms))
		} else {
			fmt.Fprintf(&sb, " AND platform IN (%s)", placeholders(len(filter.Platforms)))
			args = appendStrings(args, filter.Platforms)
		}
	}
	if len(filter.ExcludePlatforms) > 0 {
		if dialect == store.DialectPostgres {
			sb.WriteString(" AND (platform IS NULL OR platform != ALL(?))")
			args = append(args, pq.Array(filter.ExcludePlatforms))
		} else {
			fmt.Fprintf(&sb, " AND (platform IS NULL OR platform NOT IN (%s))", placeholders(len(filter.ExcludePlatforms)))
			args = appendStrings(args, filter.ExcludePlatforms)
		}
	}

	sb.WriteString(" ORDER BY created_at ASC LIMIT 1")
	return dialect.Bind(sb.String()), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func appendStrings(args []interface{}, values []string) []interface{} {
	for _, v := range values {
		args = append(args, v)
	}
	return args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job             Job
		category        sql.NullString
		platform        sql.NullString
		payload         []byte
		result          []byte
		sourceChannelID sql.NullString
		sourceType      sql.NullString
		userID          sql.NullString
	)
	err := row.Scan(
		&job.ID, &category, &platform, &job.Status, &payload, &result,
		&sourceChannelID, &sourceType, &userID, &job.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.ContentCategory = ContentCategory(category.String)
	job.Platform = platform.String
	job.Payload = payload
	job.Result = result
	job.SourceChannelID = sourceChannelID.String
	job.SourceType = sourceType.String
	job.UserID = userID.String
	return &job, nil
}

// isTransientStoreError reports whether a store error is a connectivity
// blip worth retrying. Schema and auth errors are fatal and propagate
// immediately.
func isTransientStoreError(err error) bool {
	if err == nil || errors.Is(err, ErrNoJob) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 08: connection exceptions. 57P01-57P03: server
		// shutdown/recovery. Everything else (auth 28xxx, schema
		// 42xxx) is not retryable.
		code := string(pqErr.Code)
		return strings.HasPrefix(code, "08") || strings.HasPrefix(code, "57P")
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "connection reset", "timeout", "temporarily unavailable"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// WithClaimRetry overrides the claim retry envelope. Used by tests to
// shrink delays.
func (m *Manager) WithClaimRetry(policy utils.RetryPolicy) *Manager {
	policy.ShouldRetry = isTransientStoreError
	m.policy = policy
	return m
}

// WithConflictObserver registers a callback fired on every lost claim
// race.
func (m *Manager) WithConflictObserver(fn func()) *Manager {
	m.onConflict = fn
	return m
}

package queue

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/vaultbot/ingest/internal/store"
	"github.com/vaultbot/ingest/internal/utils"
)

func newTestManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	// Hold a spare connection for the test's duration: sqlmock drops its
	// DSN once all connections close, so without it database/sql cannot
	// reopen after discarding a connection on driver.ErrBadConn.
	spare, err := db.Conn(context.Background())
	if err != nil {
		t.Fatalf("db.Conn: %v", err)
	}
	t.Cleanup(func() {
		spare.Close()
		db.Close()
	})

	m := NewManager(db, store.DialectPostgres, utils.NopLogger{}).WithClaimRetry(utils.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
	})
	return m, mock
}

func jobRows(id string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "content_category", "platform", "status", "payload", "result",
		"source_channel_id", "source_type", "user_id", "created_at",
	}).AddRow(id, "link", "youtube", "pending", []byte(`{"Body":"https://youtu.be/x"}`), nil,
		"chan-1", "dm", "user-1", time.Now())
}

func TestClaimTransitionsJob(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE status = \$1 AND content_category = \$2 ORDER BY created_at ASC LIMIT 1`).
		WithArgs("pending", "link").
		WillReturnRows(jobRows("job-1"))
	mock.ExpectExec(`UPDATE jobs SET status = \$1 WHERE id = \$2 AND status = \$3`).
		WithArgs(StatusProcessing, "job-1", StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job, err := m.Claim(context.Background(), Filter{ContentCategory: CategoryLink})
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if job.ID != "job-1" || job.Status != StatusProcessing {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.SourceChannelID != "chan-1" || job.SourceType != "dm" {
		t.Fatalf("source fields not scanned: %+v", job)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestClaimEmptyQueueReturnsNoJob(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectQuery(`SELECT .+ FROM jobs`).
		WillReturnError(sql.ErrNoRows)

	_, err := m.Claim(context.Background(), Filter{ContentCategory: CategoryLink})
	if !errors.Is(err, ErrNoJob) {
		t.Fatalf("empty queue should yield ErrNoJob, got %v", err)
	}
}

// When the CAS update affects zero rows, another worker won the race:
// the caller gets "no job", never an error.
func TestClaimLostRaceReturnsNoJob(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectQuery(`SELECT .+ FROM jobs`).
		WillReturnRows(jobRows("job-1"))
	mock.ExpectExec(`UPDATE jobs SET status = \$1 WHERE id = \$2 AND status = \$3`).
		WithArgs(StatusProcessing, "job-1", StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := m.Claim(context.Background(), Filter{ContentCategory: CategoryLink})
	if !errors.Is(err, ErrNoJob) {
		t.Fatalf("lost race should yield ErrNoJob, got %v", err)
	}
}

func TestClaimRetriesTransientErrors(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectQuery(`SELECT .+ FROM jobs`).WillReturnError(driver.ErrBadConn)
	mock.ExpectQuery(`SELECT .+ FROM jobs`).WillReturnError(driver.ErrBadConn)
	mock.ExpectQuery(`SELECT .+ FROM jobs`).WillReturnRows(jobRows("job-2"))
	mock.ExpectExec(`UPDATE jobs SET status = `).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job, err := m.Claim(context.Background(), Filter{ContentCategory: CategoryLink})
	if err != nil {
		t.Fatalf("Claim should recover from transient errors: %v", err)
	}
	if job.ID != "job-2" {
		t.Fatalf("unexpected job %q", job.ID)
	}
}

func TestClaimFatalErrorNotRetried(t *testing.T) {
	m, mock := newTestManager(t)

	authErr := &pq.Error{Code: "28P01", Message: "password authentication failed"}
	mock.ExpectQuery(`SELECT .+ FROM jobs`).WillReturnError(authErr)

	_, err := m.Claim(context.Background(), Filter{ContentCategory: CategoryLink})
	if err == nil || errors.Is(err, ErrNoJob) {
		t.Fatalf("auth error must propagate, got %v", err)
	}
	// A second query would violate sqlmock expectations; none happened.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestClaimPlatformExclusion(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectQuery(`AND \(platform IS NULL OR platform != ALL\(\$3\)\)`).
		WithArgs("pending", "link", pq.Array([]string{"youtube"})).
		WillReturnError(sql.ErrNoRows)

	_, err := m.Claim(context.Background(), Filter{
		ContentCategory:  CategoryLink,
		ExcludePlatforms: []string{"youtube"},
	})
	if !errors.Is(err, ErrNoJob) {
		t.Fatalf("got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

// The same filters must work on every dialect the store supports:
// Postgres binds arrays, MySQL and SQLite get expanded IN lists.
func TestBuildClaimSelectPerDialect(t *testing.T) {
	filter := Filter{
		ContentCategory:  CategoryLink,
		Platforms:        []string{"instagram", "tiktok"},
		ExcludePlatforms: []string{"youtube"},
	}

	pgQuery, pgArgs := buildClaimSelect(filter, store.DialectPostgres)
	if !strings.Contains(pgQuery, "platform = ANY($3)") ||
		!strings.Contains(pgQuery, "platform != ALL($4)") {
		t.Fatalf("postgres query lost array binding: %s", pgQuery)
	}
	if len(pgArgs) != 4 {
		t.Fatalf("postgres args = %d, want 4 (arrays bound whole)", len(pgArgs))
	}

	for _, dialect := range []store.Dialect{store.DialectMySQL, store.DialectSQLite} {
		query, args := buildClaimSelect(filter, dialect)
		if strings.ContainsRune(query, '$') {
			t.Fatalf("%s query contains postgres placeholders: %s", dialect, query)
		}
		if !strings.Contains(query, "platform IN (?, ?)") ||
			!strings.Contains(query, "platform NOT IN (?)") {
			t.Fatalf("%s query lost IN expansion: %s", dialect, query)
		}
		// status + category + 2 platforms + 1 exclusion, one arg each.
		if len(args) != 5 {
			t.Fatalf("%s args = %d, want 5", dialect, len(args))
		}
		if args[2] != "instagram" || args[3] != "tiktok" || args[4] != "youtube" {
			t.Fatalf("%s args misordered: %v", dialect, args)
		}
	}
}

func TestClaimOnMySQLDialect(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	m := NewManager(db, store.DialectMySQL, utils.NopLogger{})

	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE status = \? AND content_category = \? ORDER BY created_at ASC LIMIT 1`).
		WithArgs("pending", "link").
		WillReturnRows(jobRows("job-5"))
	mock.ExpectExec(`UPDATE jobs SET status = \? WHERE id = \? AND status = \?`).
		WithArgs(StatusProcessing, "job-5", StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job, err := m.Claim(context.Background(), Filter{ContentCategory: CategoryLink})
	if err != nil {
		t.Fatalf("Claim on mysql dialect failed: %v", err)
	}
	if job.ID != "job-5" || job.Status != StatusProcessing {
		t.Fatalf("unexpected job: %+v", job)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCompleteIdempotent(t *testing.T) {
	m, mock := newTestManager(t)

	result := Result{LinkID: "rec-1", Title: "T", Platform: "youtube"}
	payload, _ := json.Marshal(result)

	// First call transitions processing -> complete; the repeat matches
	// the already-complete row and is a no-op success.
	for i := 0; i < 2; i++ {
		mock.ExpectExec(`UPDATE jobs SET result = \$1, status = \$2 WHERE id = \$3 AND status IN \(\$4, \$5\)`).
			WithArgs(payload, StatusComplete, "job-1", StatusProcessing, StatusComplete).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	if err := m.Complete(context.Background(), "job-1", result); err != nil {
		t.Fatalf("first Complete failed: %v", err)
	}
	if err := m.Complete(context.Background(), "job-1", result); err != nil {
		t.Fatalf("repeated Complete must be a no-op, got %v", err)
	}
}

func TestFailWritesStructuredResult(t *testing.T) {
	m, mock := newTestManager(t)

	payload, _ := json.Marshal(Result{ErrorCategory: "network_error", ErrorDetail: "proxy down"})
	mock.ExpectExec(`UPDATE jobs SET result = \$1, status = \$2 WHERE id = \$3`).
		WithArgs(payload, StatusFailed, "job-9").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := m.Fail(context.Background(), "job-9", "network_error", "proxy down"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

// TestClaimExclusivityUnderContention drives 50 concurrent workers at
// one pending job through Manager.Claim. Every worker sees the job in
// its select, but the store grants the CAS update to exactly one; the
// rest must come back with ErrNoJob and fire the conflict observer.
func TestClaimExclusivityUnderContention(t *testing.T) {
	const workers = 50

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	for i := 0; i < workers; i++ {
		mock.ExpectQuery(`SELECT .+ FROM jobs WHERE status = \$1`).
			WithArgs("pending").
			WillReturnRows(jobRows("job-contended"))
	}
	// One CAS update wins; the other 49 affect zero rows.
	mock.ExpectExec(`UPDATE jobs SET status = \$1 WHERE id = \$2 AND status = \$3`).
		WithArgs(StatusProcessing, "job-contended", StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	for i := 0; i < workers-1; i++ {
		mock.ExpectExec(`UPDATE jobs SET status = \$1 WHERE id = \$2 AND status = \$3`).
			WithArgs(StatusProcessing, "job-contended", StatusPending).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}

	var conflicts atomic.Int32
	m := NewManager(db, store.DialectPostgres, utils.NopLogger{}).
		WithConflictObserver(func() { conflicts.Add(1) })

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := m.Claim(context.Background(), Filter{})
			switch {
			case err == nil && job.ID == "job-contended":
				wins.Add(1)
			case errors.Is(err, ErrNoJob):
			default:
				t.Errorf("unexpected claim outcome: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("claim won by %d workers, want exactly 1", wins.Load())
	}
	if conflicts.Load() != workers-1 {
		t.Fatalf("conflict observer fired %d times, want %d", conflicts.Load(), workers-1)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestIsTransientStoreError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"bad conn", driver.ErrBadConn, true},
		{"pq connection failure", &pq.Error{Code: "08006"}, true},
		{"pq admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"pq auth", &pq.Error{Code: "28P01"}, false},
		{"pq undefined table", &pq.Error{Code: "42P01"}, false},
		{"no job sentinel", ErrNoJob, false},
		{"context canceled", context.Canceled, false},
		{"refused string", errors.New("dial tcp: connection refused"), true},
	}
	for _, tt := range tests {
		if got := isTransientStoreError(tt.err); got != tt.want {
			t.Fatalf("%s: isTransientStoreError = %v, want %v", tt.name, got, tt.want)
		}
	}
}

// Package store persists deduplicated content records and per-user save
// entries. Records are content-addressed by a stable hash of the
// normalized source URL so repeat ingestions collapse onto one row.
//
// PostgreSQL, MySQL and SQLite are supported through a small dialect
// layer; the SQL itself is written once with ? placeholders and rebound
// per dialect.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/vaultbot/ingest/internal/scrape"
	"github.com/vaultbot/ingest/internal/utils"
)

// Dialect selects the SQL flavor for placeholder binding and error
// classification.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// DialectForDriver maps a database/sql driver name to its Dialect.
func DialectForDriver(driver string) (Dialect, error) {
	switch driver {
	case "postgres":
		return DialectPostgres, nil
	case "mysql":
		return DialectMySQL, nil
	case "sqlite3":
		return DialectSQLite, nil
	}
	return "", fmt.Errorf("store: unsupported driver %q", driver)
}

// ContentRecord is the deduplicated persisted form of an extraction.
type ContentRecord struct {
	ID                 string
	URL                string
	URLHash            string
	Platform           string
	ContentCategory    string
	ExtractionStrategy string
	Title              string
	Description        string
	Author             string
	ThumbnailURL       string
	ScrapeCount        int
}

// ContentStore owns all ContentRecord and saved-link mutation.
type ContentStore struct {
	db      *sql.DB
	dialect Dialect
	log     utils.Logger
}

// NewContentStore wraps an open database handle.
func NewContentStore(db *sql.DB, dialect Dialect, log utils.Logger) *ContentStore {
	return &ContentStore{db: db, dialect: dialect, log: log}
}

// Upsert maps extraction metadata onto the content-addressed record.
// An existing record gets its scrape count incremented and any gaps
// filled from newly-available fields; otherwise a new record is
// inserted. Either way the record id is returned.
func (s *ContentStore) Upsert(ctx context.Context, meta *scrape.Metadata) (string, error) {
	normalized := NormalizeURL(meta.SourceURL)
	urlHash := HashURL(normalized)

	if id, err := s.refreshExisting(ctx, urlHash, meta); err == nil {
		return id, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, s.bind(`
		INSERT INTO content_records
			(id, url, url_hash, platform, content_category, extraction_strategy,
			 title, description, author, thumbnail_url, scrape_count, last_updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, CURRENT_TIMESTAMP)`),
		id, meta.SourceURL, urlHash, meta.Platform, string(meta.ContentType),
		string(meta.ExtractionStrategy), meta.Title, meta.Description, meta.Author, meta.ThumbnailURL,
	)
	if err == nil {
		s.log.Debugf("created content record %s for %s", id, meta.SourceURL)
		return id, nil
	}
	if !s.isUniqueViolation(err) {
		return "", fmt.Errorf("store: inserting content record: %w", err)
	}

	// Another worker inserted the same URL between our select and
	// insert. Fold this ingestion into their record.
	id, rerr := s.refreshExisting(ctx, urlHash, meta)
	if rerr != nil {
		return "", fmt.Errorf("store: resolving upsert race: %w", rerr)
	}
	return id, nil
}

// refreshExisting increments the scrape count and fills empty fields on
// the record with the given hash, returning sql.ErrNoRows when absent.
func (s *ContentStore) refreshExisting(ctx context.Context, urlHash string, meta *scrape.Metadata) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		s.bind(`SELECT id FROM content_records WHERE url_hash = ?`), urlHash,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		return "", fmt.Errorf("store: looking up content record: %w", err)
	}

	// COALESCE(NULLIF(...)) keeps existing values and only fills gaps,
	// so a degraded re-scrape never erases earlier richer metadata.
	_, err = s.db.ExecContext(ctx, s.bind(`
		UPDATE content_records SET
			scrape_count = scrape_count + 1,
			last_updated_at = CURRENT_TIMESTAMP,
			title = COALESCE(NULLIF(title, ''), ?),
			description = COALESCE(NULLIF(description, ''), ?),
			author = COALESCE(NULLIF(author, ''), ?),
			thumbnail_url = COALESCE(NULLIF(thumbnail_url, ''), ?)
		WHERE id = ?`),
		meta.Title, meta.Description, meta.Author, meta.ThumbnailURL, id,
	)
	if err != nil {
		return "", fmt.Errorf("store: refreshing content record %s: %w", id, err)
	}
	s.log.Debugf("re-used content record %s", id)
	return id, nil
}

// SaveForUser records that a user saved the content. Saving the same
// record twice for one user is success, not an error.
func (s *ContentStore) SaveForUser(ctx context.Context, recordID, userID, channelID, sourceType, attributedUserID string) error {
	_, err := s.db.ExecContext(ctx, s.bind(`
		INSERT INTO user_saved_links
			(link_id, user_id, source_channel_id, source_type, attributed_user_id)
		VALUES (?, ?, ?, ?, ?)`),
		recordID, userID, channelID, sourceType, attributedUserID,
	)
	if err == nil {
		return nil
	}
	if s.isUniqueViolation(err) {
		s.log.Debugf("user %s already saved record %s", userID, recordID)
		return nil
	}
	return fmt.Errorf("store: saving link for user %s: %w", userID, err)
}

// SetNormalization writes the taxonomy fields produced by the external
// normalizer onto an existing record.
func (s *ContentStore) SetNormalization(ctx context.Context, recordID, category, priceRange string, tags []string) error {
	_, err := s.db.ExecContext(ctx, s.bind(`
		UPDATE content_records SET
			normalized_category = ?,
			normalized_price_range = ?,
			normalized_tags = ?,
			last_updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`),
		category, priceRange, strings.Join(tags, ","), recordID,
	)
	if err != nil {
		return fmt.Errorf("store: writing normalization for %s: %w", recordID, err)
	}
	return nil
}

// bind rewrites ? placeholders to the dialect's format.
func (s *ContentStore) bind(query string) string {
	return s.dialect.Bind(query)
}

// Bind rewrites ? placeholders to the dialect's positional format.
// MySQL and SQLite take ? as-is; Postgres needs $n.
func (d Dialect) Bind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// isUniqueViolation classifies a duplicate-key error per dialect.
func (s *ContentStore) isUniqueViolation(err error) bool {
	switch s.dialect {
	case DialectPostgres:
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == "23505"
	case DialectMySQL:
		var myErr *mysql.MySQLError
		return errors.As(err, &myErr) && myErr.Number == 1062
	case DialectSQLite:
		var sqErr sqlite3.Error
		return errors.As(err, &sqErr) && sqErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// NormalizeURL canonicalizes a URL before hashing: scheme and host are
// lowercased, default ports and fragments dropped. Unparseable input is
// hashed as-is so dedup still functions.
func NormalizeURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	if (parsed.Scheme == "http" && strings.HasSuffix(parsed.Host, ":80")) ||
		(parsed.Scheme == "https" && strings.HasSuffix(parsed.Host, ":443")) {
		parsed.Host = parsed.Host[:strings.LastIndex(parsed.Host, ":")]
	}
	return parsed.String()
}

// HashURL computes the content-address for a normalized URL.
func HashURL(normalizedURL string) string {
	sum := sha256.Sum256([]byte(normalizedURL))
	return hex.EncodeToString(sum[:])
}

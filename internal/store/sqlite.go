package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/crhan/planaudit/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultListLimit caps ListAudits when the filter sets no limit.
const DefaultListLimit = 50

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection serializes writers; the hook, the API server and the MCP
	// server may all write to the same file.
	db.SetMaxOpenConns(1)

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
		{"PRAGMA foreign_keys=ON", "enable foreign keys"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p.what, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const auditColumns = `id, session_id, cwd, plan_path, plan_text, decision, reason, feedback, attributed_to, policy, reviewers, duration_ms, created_at`

func (s *SQLiteStore) CreateAudit(ctx context.Context, rec *models.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = models.NewID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()

	reviewersJSON, err := json.Marshal(rec.Reviewers)
	if err != nil {
		return fmt.Errorf("encode reviewers: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audits (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.Cwd, rec.PlanPath, rec.PlanText,
		string(rec.Decision), rec.Reason, rec.Feedback,
		string(rec.AttributedTo), rec.Policy,
		string(reviewersJSON), rec.DurationMs, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create audit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAudit(ctx context.Context, id string) (*models.AuditRecord, error) {
	recs, err := s.queryAudits(ctx, `SELECT `+auditColumns+` FROM audits WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get audit: %w", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return recs[0], nil
}

// GetAuditByPrefix resolves a unique id prefix, as typed on the command line.
func (s *SQLiteStore) GetAuditByPrefix(ctx context.Context, prefix string) (*models.AuditRecord, error) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		return nil, fmt.Errorf("%w: empty id", ErrNotFound)
	}
	recs, err := s.queryAudits(ctx, `SELECT `+auditColumns+` FROM audits WHERE substr(id, 1, length(?)) = ? ORDER BY created_at DESC LIMIT 2`, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("get audit by prefix: %w", err)
	}
	switch len(recs) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, prefix)
	case 1:
		return recs[0], nil
	default:
		return nil, fmt.Errorf("audit id prefix %q is ambiguous", prefix)
	}
}

func (s *SQLiteStore) ListAudits(ctx context.Context, filter AuditListFilter) ([]*models.AuditRecord, error) {
	query := `SELECT ` + auditColumns + ` FROM audits WHERE 1=1`
	var args []any

	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.Decision != "" {
		query += " AND decision = ?"
		args = append(args, string(filter.Decision))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	recs, err := s.queryAudits(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audits: %w", err)
	}
	return recs, nil
}

func (s *SQLiteStore) LatestAuditForSession(ctx context.Context, sessionID string) (*models.AuditRecord, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: no session", ErrNotFound)
	}
	recs, err := s.ListAudits(ctx, AuditListFilter{SessionID: sessionID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	return recs[0], nil
}

// PruneAudits deletes audits created before the cutoff.
func (s *SQLiteStore) PruneAudits(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM audits WHERE created_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune audits: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func (s *SQLiteStore) queryAudits(ctx context.Context, query string, args ...any) ([]*models.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var recs []*models.AuditRecord
	for rows.Next() {
		r := &models.AuditRecord{}
		var reviewersJSON string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Cwd, &r.PlanPath, &r.PlanText,
			&r.Decision, &r.Reason, &r.Feedback,
			&r.AttributedTo, &r.Policy,
			&reviewersJSON, &r.DurationMs, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if err := json.Unmarshal([]byte(reviewersJSON), &r.Reviewers); err != nil {
			return nil, fmt.Errorf("decode reviewers for %s: %w", r.ID, err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// IsNotFound reports whether err means the audit does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteGraphAdapter is the concrete GraphAdapter shipped with this module
// for local development, tests, and single-node deployments where a
// standalone Graphiti/FalkorDB cluster is unwarranted. It projects every
// ingested episode into lightweight node/fact rows and keeps an FTS5 index
// over each projection.
type SQLiteGraphAdapter struct {
	db *sql.DB
}

// NewSQLiteGraphAdapter creates/opens the graph database at path.
func NewSQLiteGraphAdapter(path string) (*SQLiteGraphAdapter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create graph db dir: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open graph db: %w", err)
	}
	// Single-process adapter; one connection avoids writer-lock contention
	// between concurrent goroutines fanning out searches during a write.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	adapter := &SQLiteGraphAdapter{db: db}
	if err := adapter.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return adapter, nil
}

func (a *SQLiteGraphAdapter) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *SQLiteGraphAdapter) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS episodes (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			role TEXT NOT NULL,
			body TEXT NOT NULL,
			ts TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS episodes_scope_ts_idx ON episodes(scope, ts);`,
		`CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			content TEXT NOT NULL,
			ts TEXT NOT NULL,
			boosted INTEGER NOT NULL DEFAULT 0,
			source_episode_id TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS nodes_scope_idx ON nodes(scope);`,
		`CREATE TABLE IF NOT EXISTS facts (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			content TEXT NOT NULL,
			ts TEXT NOT NULL,
			boosted INTEGER NOT NULL DEFAULT 0,
			source_episode_id TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS facts_scope_idx ON facts(scope);`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS nodes_fts USING fts5(content, content=nodes, content_rowid=rowid);`,
		`CREATE TRIGGER IF NOT EXISTS nodes_ai AFTER INSERT ON nodes BEGIN
			INSERT INTO nodes_fts(rowid, content) VALUES (new.rowid, new.content);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS nodes_ad AFTER DELETE ON nodes BEGIN
			INSERT INTO nodes_fts(nodes_fts, rowid, content) VALUES('delete', old.rowid, old.content);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS nodes_au AFTER UPDATE ON nodes BEGIN
			INSERT INTO nodes_fts(nodes_fts, rowid, content) VALUES('delete', old.rowid, old.content);
			INSERT INTO nodes_fts(rowid, content) VALUES (new.rowid, new.content);
		END;`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS facts_fts USING fts5(content, content=facts, content_rowid=rowid);`,
		`CREATE TRIGGER IF NOT EXISTS facts_ai AFTER INSERT ON facts BEGIN
			INSERT INTO facts_fts(rowid, content) VALUES (new.rowid, new.content);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS facts_ad AFTER DELETE ON facts BEGIN
			INSERT INTO facts_fts(facts_fts, rowid, content) VALUES('delete', old.rowid, old.content);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS facts_au AFTER UPDATE ON facts BEGIN
			INSERT INTO facts_fts(facts_fts, rowid, content) VALUES('delete', old.rowid, old.content);
			INSERT INTO facts_fts(rowid, content) VALUES (new.rowid, new.content);
		END;`,
	}
	for _, stmt := range stmts {
		if _, err := a.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate graph db: %w", err)
		}
	}
	return nil
}

func (a *SQLiteGraphAdapter) AddEpisode(ctx context.Context, scope Scope, body string, ts time.Time, meta EpisodeMeta) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO episodes (id, scope, role, body, ts, source, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, string(scope), string(RoleHuman), body, ts.UTC().Format(time.RFC3339), meta.Source, now,
	)
	if err != nil {
		return "", fmt.Errorf("add episode: %w", err)
	}

	for _, n := range extractNodeCandidates(body) {
		nid := uuid.NewString()
		if _, err := a.db.ExecContext(ctx,
			`INSERT INTO nodes (id, scope, content, ts, boosted, source_episode_id) VALUES (?, ?, ?, ?, 0, ?)`,
			nid, string(scope), n, ts.UTC().Format(time.RFC3339), id,
		); err != nil {
			return id, fmt.Errorf("project node: %w", err)
		}
	}
	for _, f := range extractFactCandidates(body) {
		fid := uuid.NewString()
		if _, err := a.db.ExecContext(ctx,
			`INSERT INTO facts (id, scope, content, ts, boosted, source_episode_id) VALUES (?, ?, ?, ?, 0, ?)`,
			fid, string(scope), f, ts.UTC().Format(time.RFC3339), id,
		); err != nil {
			return id, fmt.Errorf("project fact: %w", err)
		}
	}

	return id, nil
}

func (a *SQLiteGraphAdapter) SearchNodes(ctx context.Context, scope Scope, query string) ([]MemoryResult, error) {
	return a.search(ctx, scope, query, "nodes", "nodes_fts", KindNode)
}

func (a *SQLiteGraphAdapter) SearchFacts(ctx context.Context, scope Scope, query string) ([]MemoryResult, error) {
	return a.search(ctx, scope, query, "facts", "facts_fts", KindFact)
}

func (a *SQLiteGraphAdapter) search(ctx context.Context, scope Scope, query, table, ftsTable string, kind ResultKind) ([]MemoryResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	matchQuery := ftsMatchQuery(query)
	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT t.id, t.content, t.ts, t.boosted FROM %s t
		 JOIN %s f ON f.rowid = t.rowid
		 WHERE t.scope = ? AND %s MATCH ?
		 ORDER BY rank LIMIT 50`, table, ftsTable, ftsTable),
		string(scope), matchQuery,
	)
	if err == nil {
		results, scanErr := scanMemoryResults(rows, kind, query)
		if scanErr == nil && len(results) > 0 {
			return results, nil
		}
	}

	// FTS5 found nothing (or the query was too sparse to MATCH anything
	// meaningful) — degrade to a bounded substring scan rather than
	// returning an error, per the "never error, degrade gracefully"
	// adapter contract.
	like := "%" + query + "%"
	rows, err = a.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, content, ts, boosted FROM %s WHERE scope = ? AND content LIKE ? LIMIT 50`, table),
		string(scope), like,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGraphUnavailable, err)
	}
	return scanMemoryResults(rows, kind, query)
}

func scanMemoryResults(rows *sql.Rows, kind ResultKind, query string) ([]MemoryResult, error) {
	defer rows.Close()
	var out []MemoryResult
	for rows.Next() {
		var id, content, tsStr string
		var boosted int
		if err := rows.Scan(&id, &content, &tsStr, &boosted); err != nil {
			return nil, fmt.Errorf("scan memory result: %w", err)
		}
		ts, _ := time.Parse(time.RFC3339, tsStr)
		out = append(out, MemoryResult{
			Content:     content,
			Timestamp:   ts,
			HasTime:     !ts.IsZero(),
			UUID:        id,
			Kind:        kind,
			Boosted:     boosted != 0,
			SourceQuery: query,
		})
	}
	return out, rows.Err()
}

func (a *SQLiteGraphAdapter) GetEpisodesSince(ctx context.Context, scope Scope, since time.Time, limit int) ([]Episode, error) {
	q := `SELECT id, scope, role, body, ts, source FROM episodes WHERE scope = ? AND ts > ? ORDER BY ts ASC`
	args := []interface{}{string(scope), since.UTC().Format(time.RFC3339)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGraphUnavailable, err)
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		var id, scopeStr, role, body, tsStr, source string
		if err := rows.Scan(&id, &scopeStr, &role, &body, &tsStr, &source); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		ts, _ := time.Parse(time.RFC3339, tsStr)
		out = append(out, Episode{
			ID:        id,
			Scope:     Scope(scopeStr),
			Role:      Role(role),
			Body:      body,
			Timestamp: ts,
			Source:    source,
		})
	}
	return out, rows.Err()
}

// ftsMatchQuery turns already-sanitized, whitespace-separated tokens into an
// FTS5 MATCH expression that ORs every token together, so a query surfaces
// any row containing at least one of the meaningful words.
func ftsMatchQuery(sanitized string) string {
	tokens := strings.Fields(sanitized)
	if len(tokens) == 0 {
		return sanitized
	}
	quoted := make([]string, 0, len(tokens))
	for _, t := range tokens {
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, "")+`"`)
	}
	return strings.Join(quoted, " OR ")
}

var capitalizedPhraseRe = regexp.MustCompile(`\b([A-Z][a-zA-Z]+(?:\s+[A-Z][a-zA-Z]+)*)\b`)

// extractNodeCandidates pulls entity-like capitalized phrases out of an
// episode body. This is a deliberately simple heuristic: the adapter is
// self-contained and has no external NLP service to delegate to.
func extractNodeCandidates(body string) []string {
	matches := capitalizedPhraseRe.FindAllString(body, -1)
	seen := map[string]struct{}{}
	var out []string
	for _, m := range matches {
		key := strings.ToLower(m)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	return out
}

// extractFactCandidates splits a body into sentence-shaped fragments; each
// non-trivial sentence is stored as a relation-centric fact projection.
func extractFactCandidates(body string) []string {
	raw := strings.FieldsFunc(body, func(r rune) bool {
		return r == '.' || r == '\n' || r == '!' || r == '?'
	})
	var out []string
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if len(strings.Fields(s)) < 3 {
			continue
		}
		out = append(out, s)
	}
	return out
}

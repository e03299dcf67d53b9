// Package docstore is the typed document-store gateway (spec §4.B).
// It exposes get/put/update/delete/query/batch_exists over flat JSON
// documents keyed by (collection, key), backed by Postgres accessed
// through database/sql and the pgx/v5 stdlib driver — the same stack
// the teacher's store package used for its jobs/documents tables,
// generalized here into a narrow "collection, key, doc jsonb" schema
// so every component above it (companies, sources, config, matches)
// can stay flat documents while the queue (component E) keeps its own
// richer schema, per spec §3 ("only E has a schema richer than a flat
// document").
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// ErrorKind classifies failures the way §4.B requires, so callers
// (queue release/retry logic in particular) can decide whether to
// retry without inspecting driver-specific error types.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTransient
	KindPrecondition
	KindNotFound
)

// Error wraps an underlying error with a classification.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the ErrorKind from err, defaulting to KindUnknown
// for errors that were never classified.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// IsNotFound reports whether err represents a missing document.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// Filter is a single equality/comparison clause for Query.
type Filter struct {
	Field string
	Op    string // "=", "!=", "<", "<=", ">", ">="
	Value any
}

// OrderBy names a field in the JSON document to sort by.
type OrderBy struct {
	Field      string
	Descending bool
}

// Gateway is the document-store contract every component above B
// depends on.
type Gateway interface {
	Get(ctx context.Context, collection, key string) (json.RawMessage, error)
	Put(ctx context.Context, collection, key string, doc any) error
	Update(ctx context.Context, collection, key string, merge func(current json.RawMessage) (json.RawMessage, error)) error
	Delete(ctx context.Context, collection, key string) error
	Query(ctx context.Context, collection string, filters []Filter, order []OrderBy, limit int) ([]json.RawMessage, error)
	BatchExists(ctx context.Context, collection string, keys []string) (map[string]bool, error)
}

// batchExistsFanIn is the baseline N from §4.B.
const batchExistsFanIn = 10

// Postgres is the production Gateway implementation.
type Postgres struct {
	DB *sql.DB
}

// Open opens a pooled connection to dsn. It neither pings the server
// nor checks that the documents table (created by the migrate
// package) exists.
func Open(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open docstore: %w", err)
	}
	return &Postgres{DB: db}, nil
}

func (p *Postgres) Close() error { return p.DB.Close() }

// Ping verifies the connection is reachable, used by the webhook
// server's deep health check.
func (p *Postgres) Ping(ctx context.Context) error { return p.DB.PingContext(ctx) }

func (p *Postgres) Get(ctx context.Context, collection, key string) (json.RawMessage, error) {
	var doc json.RawMessage
	err := retryTransient(ctx, func(ctx context.Context) error {
		err := p.DB.QueryRowContext(ctx,
			`SELECT doc FROM documents WHERE collection = $1 AND key = $2`,
			collection, key,
		).Scan(&doc)
		if err == sql.ErrNoRows {
			return newError(KindNotFound, fmt.Errorf("%s/%s: not found", collection, key))
		}
		if err != nil {
			return newError(classifyPgError(err), err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Put writes doc idempotently on (collection, key): a conflict on the
// primary key overwrites rather than errors, matching "all writes are
// idempotent on primary key" (§4.B).
func (p *Postgres) Put(ctx context.Context, collection, key string, doc any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return newError(KindPrecondition, fmt.Errorf("marshal document: %w", err))
	}

	return retryTransient(ctx, func(ctx context.Context) error {
		_, err := p.DB.ExecContext(ctx, `
			INSERT INTO documents (collection, key, doc, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (collection, key)
			DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()
		`, collection, key, payload)
		if err != nil {
			return newError(classifyPgError(err), err)
		}
		return nil
	})
}

// Update applies merge to the current document (nil if absent) inside
// a short transaction: the row is read with SELECT ... FOR UPDATE, the
// merged document is upserted, and the transaction commits. The
// transaction covers this one document only.
func (p *Postgres) Update(ctx context.Context, collection, key string, merge func(current json.RawMessage) (json.RawMessage, error)) error {
	return retryTransient(ctx, func(ctx context.Context) error {
		tx, err := p.DB.BeginTx(ctx, nil)
		if err != nil {
			return newError(classifyPgError(err), err)
		}
		defer tx.Rollback()

		var current json.RawMessage
		err = tx.QueryRowContext(ctx,
			`SELECT doc FROM documents WHERE collection = $1 AND key = $2 FOR UPDATE`,
			collection, key,
		).Scan(&current)
		if err != nil && err != sql.ErrNoRows {
			return newError(classifyPgError(err), err)
		}

		updated, err := merge(current)
		if err != nil {
			return newError(KindPrecondition, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (collection, key, doc, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (collection, key)
			DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()
		`, collection, key, updated)
		if err != nil {
			return newError(classifyPgError(err), err)
		}

		if err := tx.Commit(); err != nil {
			return newError(classifyPgError(err), err)
		}
		return nil
	})
}

func (p *Postgres) Delete(ctx context.Context, collection, key string) error {
	_, err := p.DB.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND key = $2`, collection, key)
	if err != nil {
		return newError(classifyPgError(err), err)
	}
	return nil
}

func (p *Postgres) Query(ctx context.Context, collection string, filters []Filter, order []OrderBy, limit int) ([]json.RawMessage, error) {
	var b strings.Builder
	args := []any{collection}
	fmt.Fprintf(&b, "SELECT doc FROM documents WHERE collection = $1")

	for _, f := range filters {
		args = append(args, f.Value)
		fmt.Fprintf(&b, " AND doc->>'%s' %s $%d", sanitizeField(f.Field), sanitizeOp(f.Op), len(args))
	}

	if len(order) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range order {
			if i > 0 {
				b.WriteString(", ")
			}
			dir := "ASC"
			if o.Descending {
				dir = "DESC"
			}
			fmt.Fprintf(&b, "doc->>'%s' %s", sanitizeField(o.Field), dir)
		}
	}

	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}

	rows, err := p.DB.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, newError(classifyPgError(err), err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var doc json.RawMessage
		if err := rows.Scan(&doc); err != nil {
			return nil, newError(classifyPgError(err), err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, newError(classifyPgError(err), err)
	}
	return out, nil
}

// BatchExists reports which of keys exist in collection, fanning the
// request into chunks of at most batchExistsFanIn keys per underlying
// query (§4.B).
func (p *Postgres) BatchExists(ctx context.Context, collection string, keys []string) (map[string]bool, error) {
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[k] = false
	}

	for start := 0; start < len(keys); start += batchExistsFanIn {
		end := start + batchExistsFanIn
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		placeholders := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)+1)
		args = append(args, collection)
		for i, k := range chunk {
			placeholders[i] = fmt.Sprintf("$%d", i+2)
			args = append(args, k)
		}

		query := fmt.Sprintf(
			`SELECT key FROM documents WHERE collection = $1 AND key IN (%s)`,
			strings.Join(placeholders, ", "),
		)

		rows, err := p.DB.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, newError(classifyPgError(err), err)
		}
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				rows.Close()
				return nil, newError(classifyPgError(err), err)
			}
			out[key] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, newError(classifyPgError(err), err)
		}
	}

	return out, nil
}

// sanitizeField restricts JSON field names used in hand-built SQL to a
// conservative charset, since they come from call sites in this
// module rather than end-user input, but defense in depth costs
// nothing here.
func sanitizeField(field string) string {
	var b strings.Builder
	for _, r := range field {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func sanitizeOp(op string) string {
	switch op {
	case "=", "!=", "<", "<=", ">", ">=":
		return op
	default:
		return "="
	}
}

// classifyPgError maps driver-level failures onto the §4.B taxonomy by
// switching on the Postgres SQLSTATE code rather than matching on
// err.Error() text, which varies across driver versions and locales.
// Integrity-constraint violations (class 23, including 23505 unique
// violation) are PRECONDITION (not retryable, indicates a data-model
// or programming error); connection/resource/serialization failures
// (classes 08, 53, 57, and 40001) are TRANSIENT (retryable);
// everything else falls back to TRANSIENT since the queue's
// retry/release path is the safer default for unclassified storage
// errors (§7: "All other kinds ⇒ RELEASE with retry").
func classifyPgError(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "23"):
			return KindPrecondition
		case pgErr.Code == "40001",
			strings.HasPrefix(pgErr.Code, "08"),
			strings.HasPrefix(pgErr.Code, "53"),
			strings.HasPrefix(pgErr.Code, "57"):
			return KindTransient
		}
	}
	return KindTransient
}

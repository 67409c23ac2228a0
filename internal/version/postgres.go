package version

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/tabula/internal/codec"
)

//go:embed sql/schema.sql
var schemaSQL string

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// PostgresStore keeps versions in PostgreSQL. Payloads live in the
// payload column unless Options.Blobs is set.
type PostgresStore struct {
	pool *pgxpool.Pool
	opts Options
}

// NewPostgresStore wraps an existing pool. Call Migrate before first use.
func NewPostgresStore(pool *pgxpool.Pool, opts Options) *PostgresStore {
	return &PostgresStore{pool: pool, opts: opts}
}

// Migrate creates the version tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate version schema: %w", err)
	}
	return nil
}

const versionColumns = `id, lineage_id, parent_id, format, filename, label, message, size, checksum, created_at`

func (s *PostgresStore) CreateRoot(ctx context.Context, doc Document) (Version, error) {
	if err := validateDocument(doc); err != nil {
		return Version{}, err
	}
	payload, blobKey, err := s.stage(ctx, doc)
	if err != nil {
		return Version{}, err
	}
	v, err := insertVersion(ctx, s.pool, doc, uuid.New(), nil, payload, blobKey, s.opts.now())
	if err != nil {
		return Version{}, storageFailure("create root", err)
	}
	return v, nil
}

func (s *PostgresStore) CreateChild(ctx context.Context, parentID int64, doc Document) (Version, error) {
	if err := validateDocument(doc); err != nil {
		return Version{}, err
	}
	payload, blobKey, err := s.stage(ctx, doc)
	if err != nil {
		return Version{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Version{}, storageFailure("create child", fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback(ctx) // No-op if already committed

	var lineage uuid.UUID
	err = tx.QueryRow(ctx, `SELECT lineage_id FROM document_versions WHERE id = $1 FOR SHARE`, parentID).Scan(&lineage)
	if errors.Is(err, pgx.ErrNoRows) {
		return Version{}, notFound(parentID)
	}
	if err != nil {
		return Version{}, storageFailure("create child", err)
	}

	v, err := insertVersion(ctx, tx, doc, lineage, ptr(parentID), payload, blobKey, s.opts.now())
	if err != nil {
		return Version{}, storageFailure("create child", err)
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO branch_reservations (parent_id, child_id) VALUES ($1, $2) ON CONFLICT (parent_id) DO NOTHING`,
		parentID, v.ID)
	if err != nil {
		return Version{}, storageFailure("create child", fmt.Errorf("reserve branch: %w", err))
	}
	if tag.RowsAffected() == 0 && s.opts.Policy == Linear {
		return Version{}, branchConflict(parentID)
	}

	if err := tx.Commit(ctx); err != nil {
		return Version{}, storageFailure("create child", fmt.Errorf("commit: %w", err))
	}
	return v, nil
}

// stage writes the payload to the blob store when one is configured and
// returns what goes into the row.
func (s *PostgresStore) stage(ctx context.Context, doc Document) ([]byte, *string, error) {
	if s.opts.Blobs == nil {
		return doc.Data, nil, nil
	}
	key := Checksum(doc.Data)
	if err := s.opts.Blobs.Put(ctx, key, doc.Data, doc.Format.ContentType()); err != nil {
		return nil, nil, storageFailure("store payload", err)
	}
	return nil, &key, nil
}

func insertVersion(ctx context.Context, db DBTX, doc Document, lineage uuid.UUID, parent *int64, payload []byte, blobKey *string, now time.Time) (Version, error) {
	row := db.QueryRow(ctx, `
		INSERT INTO document_versions
			(lineage_id, parent_id, format, filename, label, message, size, checksum, payload, blob_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+versionColumns,
		lineage, parent, doc.Format.String(), doc.Filename, doc.Label, doc.Message,
		int64(len(doc.Data)), Checksum(doc.Data), payload, blobKey, now,
	)
	return scanVersion(row)
}

func scanVersion(row pgx.Row) (Version, error) {
	var (
		v      Version
		format string
	)
	if err := row.Scan(&v.ID, &v.LineageID, &v.ParentID, &format, &v.Filename, &v.Label,
		&v.Message, &v.Size, &v.Checksum, &v.CreatedAt); err != nil {
		return Version{}, err
	}
	f, err := codec.ParseFormat(format)
	if err != nil {
		return Version{}, fmt.Errorf("version %d: %w", v.ID, err)
	}
	v.Format = f
	v.CreatedAt = v.CreatedAt.UTC()
	return v, nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (Version, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+versionColumns+` FROM document_versions WHERE id = $1`, id)
	v, err := scanVersion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Version{}, notFound(id)
	}
	if err != nil {
		return Version{}, storageFailure("get version", err)
	}
	return v, nil
}

func (s *PostgresStore) Bytes(ctx context.Context, id int64) ([]byte, error) {
	var (
		payload []byte
		blobKey *string
	)
	err := s.pool.QueryRow(ctx, `SELECT payload, blob_key FROM document_versions WHERE id = $1`, id).Scan(&payload, &blobKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, storageFailure("read payload", err)
	}
	if blobKey == nil {
		if payload == nil {
			payload = []byte{}
		}
		return payload, nil
	}
	if s.opts.Blobs == nil {
		return nil, storageFailure("read payload", fmt.Errorf("version %d is stored in a blob store that is not configured", id))
	}
	data, err := s.opts.Blobs.Get(ctx, *blobKey)
	if err != nil {
		return nil, storageFailure("read payload", err)
	}
	return data, nil
}

func (s *PostgresStore) Lineage(ctx context.Context, id int64) ([]Version, error) {
	rows, err := s.pool.Query(ctx, `
		WITH RECURSIVE chain AS (
			SELECT `+versionColumns+`, 0 AS depth FROM document_versions WHERE id = $1
			UNION ALL
			SELECT d.id, d.lineage_id, d.parent_id, d.format, d.filename, d.label, d.message,
			       d.size, d.checksum, d.created_at, c.depth + 1
			FROM document_versions d JOIN chain c ON d.id = c.parent_id
		)
		SELECT `+versionColumns+` FROM chain ORDER BY depth DESC`, id)
	if err != nil {
		return nil, storageFailure("lineage", err)
	}
	defer rows.Close()

	var chain []Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, storageFailure("lineage", err)
		}
		chain = append(chain, v)
	}
	if err := rows.Err(); err != nil {
		return nil, storageFailure("lineage", err)
	}
	if len(chain) == 0 {
		return nil, notFound(id)
	}
	return chain, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return storageFailure("ping", err)
	}
	return nil
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close() error { return nil }

// Package postgres implements the vector store driver on PostgreSQL with
// the pgvector extension.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/siyuan-companion/internal/profile"
	"github.com/hrygo/siyuan-companion/store"
)

// DB implements store.Driver on a single pgvector table. Point ids are
// stored as the signed bit pattern of the unsigned 64-bit id.
type DB struct {
	db      *sql.DB
	profile *profile.Profile
	table   string
}

// NewDB opens a PostgreSQL connection for the DSN in the profile. The
// collection name doubles as the table name.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	db, err := sql.Open("postgres", profile.VectorDSN)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres connection")
	}

	return &DB{
		db:      db,
		profile: profile,
		table:   profile.CollectionName,
	}, nil
}

func (d *DB) quotedTable() string {
	return pq.QuoteIdentifier(d.table)
}

// EnsureCollection creates the embedding table if absent and verifies the
// vector dimension of an existing one.
func (d *DB) EnsureCollection(ctx context.Context, dim int) error {
	if _, err := d.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return errors.Wrap(err, "failed to enable pgvector extension")
	}

	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			embedding VECTOR(%d) NOT NULL,
			block_id TEXT NOT NULL,
			document_id TEXT NOT NULL,
			content TEXT NOT NULL
		)
	`, d.quotedTable(), dim)
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrapf(err, "failed to create table %s", d.table)
	}

	// The typmod of a pgvector column is its dimension.
	var existing int
	err := d.db.QueryRowContext(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = `+placeholder(1)+`::regclass AND attname = 'embedding'
	`, d.quotedTable()).Scan(&existing)
	if err != nil {
		return errors.Wrapf(err, "failed to inspect table %s", d.table)
	}

	if existing != dim {
		return errors.Errorf("table %s stores %d-dimensional vectors, embedder produces %d",
			d.table, existing, dim)
	}

	index := pq.QuoteIdentifier(d.table + "_embedding_idx")
	stmt = fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`,
		index, d.quotedTable())
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrapf(err, "failed to create embedding index on %s", d.table)
	}

	return nil
}

// Upsert writes the batch in a single multi-row INSERT with ON CONFLICT
// replacement keyed by point id.
func (d *DB) Upsert(ctx context.Context, points []store.Point) error {
	if len(points) == 0 {
		return nil
	}

	rows := make([]string, 0, len(points))
	args := make([]any, 0, len(points)*5)

	for i, point := range points {
		base := i * 5
		rows = append(rows, fmt.Sprintf("(%s, %s, %s, %s, %s)",
			placeholder(base+1),
			placeholder(base+2),
			placeholder(base+3),
			placeholder(base+4),
			placeholder(base+5),
		))
		args = append(args,
			int64(point.ID),
			pgvector.NewVector(point.Vector),
			point.Payload.BlockID,
			point.Payload.DocumentID,
			point.Payload.Content,
		)
	}

	stmt := `
		INSERT INTO ` + d.quotedTable() + ` (id, embedding, block_id, document_id, content)
		VALUES ` + strings.Join(rows, ", ") + `
		ON CONFLICT (id)
		DO UPDATE SET
			embedding = EXCLUDED.embedding,
			block_id = EXCLUDED.block_id,
			document_id = EXCLUDED.document_id,
			content = EXCLUDED.content
	`

	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to upsert points")
	}

	return nil
}

func (d *DB) Delete(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}

	signed := make([]int64, len(ids))
	for i, id := range ids {
		signed[i] = int64(id)
	}

	stmt := `DELETE FROM ` + d.quotedTable() + ` WHERE id = ANY(` + placeholder(1) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, pq.Array(signed)); err != nil {
		return errors.Wrap(err, "failed to delete points")
	}

	return nil
}

func (d *DB) Query(ctx context.Context, vector []float32, limit int) ([]store.Hit, error) {
	// The <=> operator computes cosine distance, so similarity is 1 - distance
	// and ordering by distance ASC returns the most similar first.
	query := `
		SELECT id, block_id, document_id, content, 1 - (embedding <=> ` + placeholder(1) + `) AS score
		FROM ` + d.quotedTable() + `
		ORDER BY embedding <=> ` + placeholder(2) + `
		LIMIT ` + placeholder(3)

	value := pgvector.NewVector(vector)
	rows, err := d.db.QueryContext(ctx, query, value, value, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query points")
	}
	defer rows.Close()

	hits := []store.Hit{}
	for rows.Next() {
		var (
			id    int64
			hit   store.Hit
			score float64
		)
		err := rows.Scan(&id, &hit.Payload.BlockID, &hit.Payload.DocumentID, &hit.Payload.Content, &score)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan point")
		}

		hit.ID = uint64(id)
		hit.Score = float32(score)
		hits = append(hits, hit)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return hits, nil
}

// Recreate drops the embedding table and creates it again.
func (d *DB) Recreate(ctx context.Context, dim int) error {
	stmt := `DROP TABLE IF EXISTS ` + d.quotedTable()
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrapf(err, "failed to drop table %s", d.table)
	}

	return d.EnsureCollection(ctx, dim)
}

func (d *DB) Close() error {
	return d.db.Close()
}

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

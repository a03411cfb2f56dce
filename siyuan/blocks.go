package siyuan

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Block is one row of the kernel's blocks table. RootID identifies the
// document the block belongs to. Updated is the kernel's 14-digit local
// timestamp (YYYYMMDDHHMMSS).
type Block struct {
	ID      string `json:"id"`
	RootID  string `json:"root_id"`
	Content string `json:"content"`
	Updated string `json:"updated"`
}

// updatedLayout is the kernel's timestamp format for the blocks table.
const updatedLayout = "20060102150405"

// CountBlocks returns the number of blocks in the kernel database and
// refreshes the cached count used as the LIMIT for delta queries.
func (c *Client) CountBlocks(ctx context.Context) (int, error) {
	var rows []map[string]any
	if err := c.query(ctx, "SELECT COUNT(*) FROM blocks", &rows); err != nil {
		return 0, err
	}

	if len(rows) == 0 {
		return 0, fmt.Errorf("siyuan: empty result for block count")
	}

	// SQLite names the column after the expression.
	raw, ok := rows[0]["COUNT(*)"].(float64)
	if !ok {
		return 0, fmt.Errorf("siyuan: unexpected block count row %v", rows[0])
	}

	count := int(raw)
	c.blockCount.Store(int64(count))

	slog.DebugContext(ctx, "counted blocks", "count", count)

	return count, nil
}

// BlocksUpdatedSince returns every block whose updated timestamp is strictly
// after since. The kernel caps SQL results at a small default page size, so
// the query carries an explicit LIMIT equal to the latest known block count,
// fetched first if it is not cached yet. Passing the zero epoch returns all
// blocks.
func (c *Client) BlocksUpdatedSince(ctx context.Context, since time.Time) ([]Block, error) {
	if c.blockCount.Load() < 0 {
		if _, err := c.CountBlocks(ctx); err != nil {
			return nil, err
		}
	}

	stmt := fmt.Sprintf(
		"SELECT * FROM blocks WHERE updated > '%s' LIMIT %d",
		since.Format(updatedLayout),
		c.blockCount.Load(),
	)

	var blocks []Block
	if err := c.query(ctx, stmt, &blocks); err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "fetched updated blocks",
		"since", since.Format(updatedLayout),
		"count", len(blocks),
	)

	return blocks, nil
}

// DocumentMarkdown renders a document to standard markdown via the kernel's
// lute exporter.
func (c *Client) DocumentMarkdown(ctx context.Context, documentID string) (string, error) {
	var markdown string
	err := c.post(ctx, "/api/lute/copyStdMarkdown", map[string]string{"id": documentID}, &markdown)
	if err != nil {
		return "", err
	}

	return markdown, nil
}

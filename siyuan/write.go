package siyuan

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
)

// InsertPosition locates where InsertBlock places a new block. At least one
// field must be set; the kernel's priority is NextID, then PreviousID, then
// ParentID.
type InsertPosition struct {
	// NextID is the block after the insertion point.
	NextID string
	// PreviousID is the block before the insertion point.
	PreviousID string
	// ParentID appends the block as the last child of the given block.
	ParentID string
}

type txOperation struct {
	ID string `json:"id"`
}

type transaction struct {
	DoOperations   []txOperation `json:"doOperations"`
	UndoOperations []txOperation `json:"undoOperations"`
}

// CreateDoc creates a document from markdown at the given human-readable
// path inside a notebook. The last path segment becomes the document title.
// Returns the new document id.
func (c *Client) CreateDoc(ctx context.Context, notebookID, path, markdown string) (string, error) {
	var id string
	err := c.post(ctx, "/api/filetree/createDoc", map[string]string{
		"notebook": notebookID,
		"path":     path,
		"markdown": markdown,
	}, &id)
	if err != nil {
		return "", err
	}

	slog.InfoContext(ctx, "created document", "path", path)

	return id, nil
}

// InsertBlock inserts markdown content next to an existing block and returns
// the id of the block created. Complex markdown may produce several blocks;
// the first one is returned.
func (c *Client) InsertBlock(ctx context.Context, markdown string, pos InsertPosition) (string, error) {
	if pos.NextID == "" && pos.PreviousID == "" && pos.ParentID == "" {
		return "", errors.New("siyuan: at least one of NextID, PreviousID or ParentID must be set")
	}

	var txs []transaction
	err := c.post(ctx, "/api/block/insertBlock", map[string]string{
		"dataType":   "markdown",
		"data":       markdown,
		"nextID":     pos.NextID,
		"previousID": pos.PreviousID,
		"parentID":   pos.ParentID,
	}, &txs)
	if err != nil {
		return "", err
	}

	if len(txs) == 0 {
		return "", errors.New("siyuan: empty transaction list from insertBlock")
	}

	if len(txs[0].UndoOperations) > 0 {
		return "", errors.New("siyuan: insertBlock operation failed")
	}

	if len(txs[0].DoOperations) == 0 || txs[0].DoOperations[0].ID == "" {
		return "", errors.New("siyuan: insertBlock returned no operations")
	}

	return txs[0].DoOperations[0].ID, nil
}

// SetBlockAttrs sets custom attributes on an existing block.
func (c *Client) SetBlockAttrs(ctx context.Context, blockID string, attrs map[string]string) error {
	return c.post(ctx, "/api/attr/setBlockAttrs", map[string]any{
		"id":    blockID,
		"attrs": attrs,
	}, nil)
}

package siyuan

import (
	"context"
	"log/slog"
	"strings"
)

// assetsRoot is the workspace directory the kernel stores attachments in.
const assetsRoot = "/data/assets"

// DirEntry is one entry of a kernel workspace directory listing.
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"isDir"`
}

// ListDir lists the entries of a workspace directory.
func (c *Client) ListDir(ctx context.Context, path string) ([]DirEntry, error) {
	if path != "/" {
		path = strings.TrimRight(path, "/")
	}

	var entries []DirEntry
	if err := c.post(ctx, "/api/file/readDir", map[string]string{"path": path}, &entries); err != nil {
		return nil, err
	}

	return entries, nil
}

// GetFile downloads a workspace file. The path is absolute within the
// workspace, e.g. "/data/assets/recording.mp3".
func (c *Client) GetFile(ctx context.Context, path string) ([]byte, error) {
	return c.postRaw(ctx, "/api/file/getFile", map[string]string{"path": path})
}

// ListAssets walks the workspace asset tree and returns paths relative to
// the assets root. When suffixes are given only matching files are returned;
// matching is case-sensitive.
func (c *Client) ListAssets(ctx context.Context, suffixes ...string) ([]string, error) {
	files, err := c.listFilesRecursive(ctx, assetsRoot)
	if err != nil {
		return nil, err
	}

	assets := make([]string, 0, len(files))
	for _, file := range files {
		if len(suffixes) > 0 && !hasAnySuffix(file, suffixes) {
			continue
		}
		assets = append(assets, strings.TrimPrefix(file, assetsRoot+"/"))
	}

	slog.DebugContext(ctx, "listed assets", "count", len(assets))

	return assets, nil
}

func (c *Client) listFilesRecursive(ctx context.Context, path string) ([]string, error) {
	entries, err := c.ListDir(ctx, path)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		entryPath := path + "/" + entry.Name

		if entry.IsDir {
			children, err := c.listFilesRecursive(ctx, entryPath)
			if err != nil {
				return nil, err
			}
			files = append(files, children...)
			continue
		}

		files = append(files, entryPath)
	}

	return files, nil
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

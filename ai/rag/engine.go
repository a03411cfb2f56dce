// Package rag turns vector search hits over indexed note blocks into
// token-bounded context segments and grounded prompts.
package rag

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/siyuan-companion/ai"
	"github.com/hrygo/siyuan-companion/ai/metrics"
	"github.com/hrygo/siyuan-companion/ai/segmenter"
	"github.com/hrygo/siyuan-companion/ai/tokenizer"
	"github.com/hrygo/siyuan-companion/internal/strutil"
	"github.com/hrygo/siyuan-companion/siyuan"
	"github.com/hrygo/siyuan-companion/store"
)

// Default hit counts for the public operations. Search returns raw hits, so
// it casts a wider net than Context, whose output is bounded by a token
// budget per segment.
const (
	DefaultSearchLimit  = 5
	DefaultContextLimit = 3
)

// Context never returns more than contextFactor * limit segments, and each
// document is fetched at most once per request.
const (
	contextFactor        = 2
	maxConcurrentFetches = 4
)

// NotesReader fetches document markdown from the notes server.
type NotesReader interface {
	DocumentMarkdown(ctx context.Context, id string) (string, error)
}

// Hit is one scored block returned by Search.
type Hit struct {
	BlockID    string
	DocumentID string
	Content    string
	Score      float32
}

// Engine answers similarity queries against the vector store and expands the
// hits into context segments cut from their source documents.
type Engine struct {
	config     *ai.Config
	store      *store.Store
	notes      NotesReader
	embedder   ai.EmbeddingService
	tokenizers *tokenizer.Registry
	exporter   *metrics.PrometheusExporter
}

// NewEngine creates a retrieval engine. The exporter may be nil, in which
// case no metrics are recorded.
func NewEngine(
	cfg *ai.Config,
	st *store.Store,
	notes NotesReader,
	embedder ai.EmbeddingService,
	tokenizers *tokenizer.Registry,
	exporter *metrics.PrometheusExporter,
) *Engine {
	return &Engine{
		config:     cfg,
		store:      st,
		notes:      notes,
		embedder:   embedder,
		tokenizers: tokenizers,
		exporter:   exporter,
	}
}

// PointID derives the vector point id for a block. The id is the big-endian
// value of the first eight bytes of the block id's MD5 digest, so indexing
// the same block again overwrites its previous point.
func PointID(blockID string) uint64 {
	sum := md5.Sum([]byte(blockID))
	return binary.BigEndian.Uint64(sum[:8])
}

// Tokenizers returns the registry the engine resolves counters from.
func (e *Engine) Tokenizers() *tokenizer.Registry {
	return e.tokenizers
}

// Search embeds the query and returns the most similar indexed blocks.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	start := time.Now()
	hits, err := e.search(ctx, uuid.NewString(), query, limit)
	e.record("search", start, err)
	return hits, err
}

func (e *Engine) search(ctx context.Context, requestID, query string, limit int) ([]Hit, error) {
	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := e.store.Query(ctx, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query vector store: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, result := range results {
		hits = append(hits, Hit{
			BlockID:    result.Payload.BlockID,
			DocumentID: result.Payload.DocumentID,
			Content:    result.Payload.Content,
			Score:      result.Score,
		})
	}

	slog.DebugContext(ctx, "vector search",
		"request_id", requestID, "query", strutil.Truncate(query, 80),
		"limit", limit, "hits", len(hits))
	return hits, nil
}

// Context returns deduplicated context segments for the query. Hits are
// grouped by their source document; each document is fetched once and
// segmented with that document's hit contents as the matching blocks.
func (e *Engine) Context(ctx context.Context, query string, limit int, counter tokenizer.Counter) ([]string, error) {
	start := time.Now()
	segments, err := e.contextSegments(ctx, uuid.NewString(), query, limit, counter)
	e.record("context", start, err)
	return segments, err
}

func (e *Engine) contextSegments(ctx context.Context, requestID, query string, limit int, counter tokenizer.Counter) ([]string, error) {
	hits, err := e.search(ctx, requestID, query, limit)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	// Group hit contents by document, preserving first-hit order so the
	// best-scoring documents contribute segments first.
	documentIDs := make([]string, 0, len(hits))
	blocksByDocument := make(map[string][]string, len(hits))
	for _, hit := range hits {
		if _, ok := blocksByDocument[hit.DocumentID]; !ok {
			documentIDs = append(documentIDs, hit.DocumentID)
		}
		blocksByDocument[hit.DocumentID] = append(blocksByDocument[hit.DocumentID], hit.Content)
	}

	seg := segmenter.New(counter, e.config.MaxSegmentTokens)

	perDocument := make([][]string, len(documentIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, documentID := range documentIDs {
		g.Go(func() error {
			document, err := e.notes.DocumentMarkdown(gctx, documentID)
			if err != nil {
				return fmt.Errorf("failed to fetch document %s: %w", documentID, err)
			}

			chunks, err := seg.Segment(document, blocksByDocument[documentID])
			if err != nil {
				return fmt.Errorf("failed to segment document %s: %w", documentID, err)
			}

			perDocument[i] = chunks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	segments := lo.Uniq(lo.Flatten(perDocument))
	if len(segments) > contextFactor*limit {
		segments = segments[:contextFactor*limit]
	}

	slog.DebugContext(ctx, "retrieval context",
		"request_id", requestID, "documents", len(documentIDs), "segments", len(segments))
	return segments, nil
}

// BuildPrompt retrieves context for the query and renders the grounded
// completion prompt.
func (e *Engine) BuildPrompt(ctx context.Context, query string, limit int, counter tokenizer.Counter) (string, error) {
	start := time.Now()

	segments, err := e.contextSegments(ctx, uuid.NewString(), query, limit, counter)
	e.record("prompt", start, err)
	if err != nil {
		return "", err
	}

	return Prompt(query, segments), nil
}

// Prompt renders context segments and the question into the completion
// prompt. The layout is fixed; clients parse the answer relative to it.
func Prompt(query string, segments []string) string {
	var b strings.Builder
	b.WriteString("Additional context:\n\n")
	for _, segment := range segments {
		b.WriteString(segment)
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\n\nAnswer: \n\n")
	return b.String()
}

// AddBlocks embeds the blocks and writes them to the vector store as one
// batch. It returns the number of points written.
func (e *Engine) AddBlocks(ctx context.Context, blocks []siyuan.Block) (int, error) {
	if len(blocks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(blocks))
	for i, block := range blocks {
		texts[i] = block.Content
	}

	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed blocks: %w", err)
	}

	points := make([]store.Point, len(blocks))
	for i, block := range blocks {
		points[i] = store.Point{
			ID:     PointID(block.ID),
			Vector: vectors[i],
			Payload: store.Payload{
				BlockID:    block.ID,
				DocumentID: block.RootID,
				Content:    block.Content,
			},
		}
	}

	if err := e.store.Upsert(ctx, points); err != nil {
		return 0, fmt.Errorf("failed to upsert points: %w", err)
	}

	return len(points), nil
}

// DeleteBlocks removes the points for the given block ids.
func (e *Engine) DeleteBlocks(ctx context.Context, blockIDs []string) error {
	if len(blockIDs) == 0 {
		return nil
	}

	ids := make([]uint64, len(blockIDs))
	for i, blockID := range blockIDs {
		ids[i] = PointID(blockID)
	}

	return e.store.Delete(ctx, ids)
}

// Reset drops and recreates the collection, discarding every indexed point.
func (e *Engine) Reset(ctx context.Context) error {
	return e.store.Recreate(ctx, e.embedder.Dimensions())
}

func (e *Engine) record(operation string, start time.Time, err error) {
	if e.exporter == nil {
		return
	}
	e.exporter.RecordRetrieval(operation, time.Since(start), err == nil)
}

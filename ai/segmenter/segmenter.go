// Package segmenter splits markdown documents into token-bounded segments
// around matched block content.
//
// Splitting is structure-aware: the document is divided at its shallowest
// heading level first, sections that still exceed the budget are divided at
// deeper levels, and heading-free text falls back to greedy paragraph
// packing.
package segmenter

import (
	"bytes"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/hrygo/siyuan-companion/ai/tokenizer"
)

// DefaultMaxTokens bounds segment size when no budget is configured.
const DefaultMaxTokens = 512

var markdown = goldmark.New()

// Segmenter splits documents under a token budget using the given counter.
type Segmenter struct {
	counter   tokenizer.Counter
	maxTokens int
}

// New creates a Segmenter. A non-positive maxTokens selects DefaultMaxTokens.
func New(counter tokenizer.Counter, maxTokens int) *Segmenter {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	return &Segmenter{
		counter:   counter,
		maxTokens: maxTokens,
	}
}

// Segment returns the ordered segments of document that contain at least one
// of matchingBlocks, each within the token budget. A document that already
// fits the budget is returned whole without filtering. An oversized paragraph
// with no internal structure is returned as-is.
func (s *Segmenter) Segment(document string, matchingBlocks []string) ([]string, error) {
	if len(matchingBlocks) == 0 {
		return nil, errors.New("matching blocks must not be empty")
	}

	return s.split(document, matchingBlocks, 0), nil
}

// split is the recursive core. level selects the heading level to divide at;
// zero means the document's shallowest level. Recursion always shrinks the
// document, so it terminates.
func (s *Segmenter) split(document string, matching []string, level int) []string {
	if s.counter.Count(document) <= s.maxTokens {
		return []string{document}
	}

	headings := parseHeadings([]byte(document))
	if len(headings) == 0 {
		return matchingChunks(s.fallbackSplit(document), matching)
	}

	levels := headingLevels(headings)

	splitLevel := level
	if splitLevel == 0 {
		splitLevel = levels[0]
	}

	secs := sections(document, headings, splitLevel)

	// A single section means the document has no sibling structure at this
	// level; descend until one appears or no deeper level remains.
	for len(secs) <= 1 {
		next, ok := nextLevel(levels, splitLevel)
		if !ok {
			return matchingChunks(s.fallbackSplit(document), matching)
		}
		splitLevel = next
		secs = sections(document, headings, splitLevel)
	}

	var segments []string
	for _, sec := range secs {
		if !containsAny(sec.title+"\n"+sec.body, matching) {
			continue
		}

		if s.counter.Count(sec.body) <= s.maxTokens {
			segments = append(segments, sec.body)
			continue
		}

		segments = append(segments, s.split(sec.body, matching, splitLevel)...)
	}

	return segments
}

// fallbackSplit packs paragraphs greedily into chunks within the budget.
// A single paragraph over the budget becomes its own chunk with a warning.
// Returns every chunk; the caller filters by matching blocks.
func (s *Segmenter) fallbackSplit(document string) []string {
	var (
		chunks  []string
		current string
	)

	for _, paragraph := range strings.Split(document, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}

		candidate := paragraph
		if current != "" {
			candidate = current + "\n\n" + paragraph
		}

		if s.counter.Count(candidate) <= s.maxTokens {
			current = candidate
			continue
		}

		if current != "" {
			chunks = append(chunks, current)
			current = ""
		}

		if tokens := s.counter.Count(paragraph); tokens > s.maxTokens {
			slog.Warn("paragraph exceeds segment budget, keeping whole",
				"tokens", tokens,
				"budget", s.maxTokens,
			)
			chunks = append(chunks, paragraph)
			continue
		}

		current = paragraph
	}

	if current != "" {
		chunks = append(chunks, current)
	}

	return chunks
}

// section is a heading line and the text that follows it up to the next
// heading at the same level. A section with an empty title is the preamble
// before the first heading.
type section struct {
	title string
	body  string
}

// sections divides the document at headings of exactly the given level.
func sections(document string, headings []headingMark, level int) []section {
	var points []headingMark
	for _, h := range headings {
		if h.level == level {
			points = append(points, h)
		}
	}

	if len(points) == 0 {
		if body := strings.TrimSpace(document); body != "" {
			return []section{{body: body}}
		}
		return nil
	}

	var secs []section

	if preamble := strings.TrimSpace(document[:points[0].lineStart]); preamble != "" {
		secs = append(secs, section{body: preamble})
	}

	for i, point := range points {
		end := len(document)
		if i+1 < len(points) {
			end = points[i+1].lineStart
		}

		secs = append(secs, section{
			title: strings.TrimSpace(document[point.lineStart:point.lineEnd]),
			body:  strings.TrimSpace(document[point.lineEnd:end]),
		})
	}

	return secs
}

// headingMark locates one heading line within the source document.
type headingMark struct {
	level     int
	lineStart int
	lineEnd   int
}

// parseHeadings collects heading positions from the markdown AST. Offsets
// cover the whole heading line, not just its text.
func parseHeadings(source []byte) []headingMark {
	root := markdown.Parser().Parse(text.NewReader(source))

	var marks []headingMark

	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		heading, ok := n.(*ast.Heading)
		if !ok || heading.Lines().Len() == 0 {
			return ast.WalkContinue, nil
		}

		seg := heading.Lines().At(0)

		lineStart := bytes.LastIndexByte(source[:seg.Start], '\n') + 1

		lineEnd := len(source)
		if idx := bytes.IndexByte(source[seg.Stop:], '\n'); idx >= 0 {
			lineEnd = seg.Stop + idx
		}

		// Setext headings carry their marker on the following line.
		if !bytes.HasPrefix(bytes.TrimLeft(source[lineStart:], " "), []byte("#")) {
			lineEnd = endOfNextLine(source, lineEnd)
		}

		marks = append(marks, headingMark{
			level:     heading.Level,
			lineStart: lineStart,
			lineEnd:   lineEnd,
		})

		return ast.WalkContinue, nil
	})

	return marks
}

// endOfNextLine returns the end offset of the line following pos, where pos
// sits at a line break or at the end of the source.
func endOfNextLine(source []byte, pos int) int {
	next := pos + 1
	if next >= len(source) {
		return len(source)
	}
	if idx := bytes.IndexByte(source[next:], '\n'); idx >= 0 {
		return next + idx
	}
	return len(source)
}

// headingLevels returns the sorted distinct levels present.
func headingLevels(headings []headingMark) []int {
	levels := lo.Uniq(lo.Map(headings, func(h headingMark, _ int) int {
		return h.level
	}))
	sort.Ints(levels)
	return levels
}

// nextLevel returns the shallowest level strictly deeper than current.
func nextLevel(levels []int, current int) (int, bool) {
	for _, level := range levels {
		if level > current {
			return level, true
		}
	}
	return 0, false
}

func matchingChunks(chunks []string, matching []string) []string {
	var out []string
	for _, chunk := range chunks {
		if containsAny(chunk, matching) {
			out = append(out, chunk)
		}
	}
	return out
}

func containsAny(s string, blocks []string) bool {
	return lo.SomeBy(blocks, func(block string) bool {
		return strings.Contains(s, block)
	})
}

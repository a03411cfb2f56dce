package segmenter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordCounter counts whitespace-separated words, standing in for a real
// tokenizer in tests.
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

// constCounter reports the same count for any text, forcing every split path.
type constCounter int

func (c constCounter) Count(string) int {
	return int(c)
}

func TestSegmenter_DocumentWithinBudget(t *testing.T) {
	s := New(wordCounter{}, 10)

	document := "# Title\nshort body"

	segments, err := s.Segment(document, []string{"absent block"})
	require.NoError(t, err)

	// A document inside the budget is returned whole, without filtering.
	assert.Equal(t, []string{document}, segments)
}

func TestSegmenter_EmptyMatchingBlocks(t *testing.T) {
	s := New(wordCounter{}, 10)

	_, err := s.Segment("anything", nil)
	require.Error(t, err)
}

func TestSegmenter_SplitsAtHeaders(t *testing.T) {
	s := New(constCounter(1000), 0)

	document := "# Header 1\nContent 1\n\n## Header 2\nContent 2"
	matching := []string{"Content 1", "Content 2"}

	segments, err := s.Segment(document, matching)
	require.NoError(t, err)

	require.Len(t, segments, 2)
	assert.Contains(t, segments[0], "Content 1")
	assert.Contains(t, segments[1], "Content 2")
}

func TestSegmenter_NoHeaders(t *testing.T) {
	s := New(constCounter(1000), 0)

	document := "Paragraph 1\n\nParagraph 2"

	segments, err := s.Segment(document, []string{"Paragraph 1"})
	require.NoError(t, err)

	require.Len(t, segments, 1)
	assert.Contains(t, segments[0], "Paragraph 1")
}

func TestSegmenter_FallbackPacksParagraphs(t *testing.T) {
	s := New(wordCounter{}, 5)

	chunks := s.fallbackSplit("Paragraph 1\n\nParagraph 2\n\nParagraph 3")

	require.Len(t, chunks, 2)
	assert.Contains(t, chunks[0], "Paragraph 1")
	assert.Contains(t, chunks[0], "Paragraph 2")
	assert.Contains(t, chunks[1], "Paragraph 3")
}

func TestSegmenter_EmitsSectionBodies(t *testing.T) {
	s := New(wordCounter{}, 5)

	document := "# A\nalpha one\n\n# B\nbeta two"

	segments, err := s.Segment(document, []string{"alpha", "beta"})
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha one", "beta two"}, segments)
}

func TestSegmenter_SkipsUnmatchedSections(t *testing.T) {
	s := New(wordCounter{}, 5)

	document := "# A\nalpha one\n\n# B\nbeta two"

	segments, err := s.Segment(document, []string{"beta"})
	require.NoError(t, err)

	assert.Equal(t, []string{"beta two"}, segments)
}

func TestSegmenter_DeepensPastLoneTopHeading(t *testing.T) {
	s := New(wordCounter{}, 4)

	document := "# Top\nintro\n\n## Sub A\naaa\n\n## Sub B\nbbb"

	t.Run("matches subsection", func(t *testing.T) {
		segments, err := s.Segment(document, []string{"aaa"})
		require.NoError(t, err)
		assert.Equal(t, []string{"aaa"}, segments)
	})

	t.Run("matches preamble", func(t *testing.T) {
		segments, err := s.Segment(document, []string{"intro"})
		require.NoError(t, err)
		assert.Equal(t, []string{"# Top\nintro"}, segments)
	})
}

func TestSegmenter_RecursesIntoOversizedSection(t *testing.T) {
	s := New(wordCounter{}, 4)

	document := "# Top\n\n## First\nalpha alpha alpha alpha alpha alpha\n\n## Second\nbeta"

	segments, err := s.Segment(document, []string{"alpha", "beta"})
	require.NoError(t, err)

	require.Len(t, segments, 2)
	// The oversized paragraph has no further structure and is kept whole.
	assert.Contains(t, segments[0], "alpha")
	assert.Equal(t, "beta", segments[1])
}

func TestSegmenter_IgnoresHeadingsInCodeFences(t *testing.T) {
	s := New(wordCounter{}, 3)

	document := "# Real\ntext\n\n```\n# fake heading\n```\n\n# Other\nmore"

	segments, err := s.Segment(document, []string{"fake"})
	require.NoError(t, err)

	require.Len(t, segments, 1)
	assert.Contains(t, segments[0], "# fake heading")
}

func TestSegmenter_SegmentTokenBound(t *testing.T) {
	s := New(wordCounter{}, 6)

	document := "# One\na b c d\n\n# Two\ne f g h i j k l\n\n# Three\nm n"

	segments, err := s.Segment(document, []string{"a", "e", "m"})
	require.NoError(t, err)
	require.NotEmpty(t, segments)

	counter := wordCounter{}
	for _, segment := range segments {
		within := counter.Count(segment) <= 6
		indivisible := !strings.Contains(segment, "\n\n")
		assert.True(t, within || indivisible, "segment %q breaks the budget", segment)
	}
}

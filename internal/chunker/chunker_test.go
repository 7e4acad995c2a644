package chunker

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragdesk-go/pkg/apperr"
)

func TestChunkFixedSlidingWindow(t *testing.T) {
	chunks, err := ChunkFixed("abcd", Config{ChunkSize: 2, Overlap: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"ab", "bc", "cd"}, chunks)
}

func TestChunkFixedShortTextIsSingleChunk(t *testing.T) {
	for _, text := range []string{"a", "abc", "abcd"} {
		chunks, err := ChunkFixed(text, Config{ChunkSize: 4, Overlap: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{text}, chunks, text)
	}
}

func TestChunkFixedEmptyText(t *testing.T) {
	chunks, err := ChunkFixed("", DefaultConfig())
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkFixedCountsRunes(t *testing.T) {
	chunks, err := ChunkFixed("你好世界", Config{ChunkSize: 3, Overlap: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"你好世", "世界"}, chunks)
}

func TestChunkFixedMaxChunksIsHardCap(t *testing.T) {
	chunks, err := ChunkFixed("abcdefghij", Config{ChunkSize: 4, MaxChunks: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"abcd", "efgh"}, chunks)
}

func TestChunkFixedRejectsInvalidConfig(t *testing.T) {
	cases := map[string]Config{
		"zero size":        {ChunkSize: 0},
		"negative size":    {ChunkSize: -5},
		"overlap eq size":  {ChunkSize: 10, Overlap: 10},
		"overlap gt size":  {ChunkSize: 10, Overlap: 11},
		"negative overlap": {ChunkSize: 10, Overlap: -1},
		"negative cap":     {ChunkSize: 10, MaxChunks: -1},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ChunkFixed("some text", cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrValidation))
			var verr *apperr.ValidationError
			assert.True(t, errors.As(err, &verr))
		})
	}
}

func TestSplitReconstructsRandomInputs(t *testing.T) {
	alphabet := []rune("abcdef \n\t你好é🙂")
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		n := rng.Intn(300)
		runes := make([]rune, n)
		for j := range runes {
			runes[j] = alphabet[rng.Intn(len(alphabet))]
		}
		text := string(runes)
		size := 1 + rng.Intn(50)
		overlap := rng.Intn(size)
		cfg := Config{ChunkSize: size, Overlap: overlap}

		chunks, err := Split(text, cfg)
		require.NoError(t, err)

		step := size - overlap
		switch {
		case n == 0:
			require.Empty(t, chunks)
			continue
		case n <= size:
			require.Len(t, chunks, 1)
		default:
			want := 1 + (n-size+step-1)/step
			require.Len(t, chunks, want, "n=%d size=%d overlap=%d", n, size, overlap)
		}

		parts := make([]string, len(chunks))
		for k, c := range chunks {
			assert.Equal(t, k, c.Index)
			assert.Equal(t, k*step, c.Offset)
			assert.LessOrEqual(t, utf8.RuneCountInString(c.Content), size)
			parts[k] = c.Content
		}
		last := chunks[len(chunks)-1]
		assert.Equal(t, n, last.Offset+utf8.RuneCountInString(last.Content), "final chunk must end at the text end")
		require.Equal(t, text, Reassemble(parts, overlap), "n=%d size=%d overlap=%d", n, size, overlap)
	}
}

func TestChunkByParagraphPacksGreedily(t *testing.T) {
	chunks, err := ChunkByParagraph("a\n\nbb\n\nccc", 6)
	require.NoError(t, err)
	assert.Equal(t, []string{"a\n\nbb", "ccc"}, chunks)
}

func TestChunkByParagraphEmitsOversizedParagraphAlone(t *testing.T) {
	long := strings.Repeat("x", 20)
	chunks, err := ChunkByParagraph("short\n\n"+long+"\n\nend", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"short", long, "end"}, chunks)
}

func TestChunkByParagraphBlankLineVariants(t *testing.T) {
	chunks, err := ChunkByParagraph("one\r\n\r\ntwo\n   \nthree\n\n\n\n", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, chunks)

	chunks, err = ChunkByParagraph("  \n\n \n", 100)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplitParagraphsOffsets(t *testing.T) {
	chunks, err := SplitParagraphs("a\n\nbb\n\nccc", 6)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].Offset)
	assert.Equal(t, 7, chunks[1].Offset)
	assert.Equal(t, 1, chunks[1].Index)
}

func TestChunkByParagraphRejectsNonPositiveSize(t *testing.T) {
	_, err := ChunkByParagraph("text", 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestPlanApply(t *testing.T) {
	mode, err := ParseMode("paragraph")
	require.NoError(t, err)
	chunks, err := Plan{Mode: mode, ParagraphMaxSize: 100}.Apply("p1\n\np2")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "p1\n\np2", chunks[0].Content)

	mode, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeFixed, mode)
	chunks, err = Plan{Mode: mode, Fixed: Config{ChunkSize: 2}}.Apply("abcd")
	require.NoError(t, err)
	assert.Len(t, chunks, 2)

	_, err = ParseMode("semantic")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = Plan{Mode: ModeParagraph}.Apply("x")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestNewPlan(t *testing.T) {
	p, err := NewPlan("", 1000, 200, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, ModeFixed, p.Mode)
	assert.Equal(t, DefaultConfig(), p.Fixed)

	_, err = NewPlan("fixed", 100, 100, 0, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	// paragraph 模式不校验固定窗口参数
	p, err = NewPlan("paragraph", 0, 0, 0, 500)
	require.NoError(t, err)
	assert.Equal(t, 500, p.ParagraphMaxSize)

	_, err = NewPlan("sentences", 100, 10, 0, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

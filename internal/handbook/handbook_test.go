package handbook

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/ruhusa/internal/llm"
)

type stubProvider struct {
	reply string
	err   error
	got   *llm.Request
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) SendMessage(_ context.Context, req *llm.Request) (*llm.Response, error) {
	p.got = req
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Response{Content: p.reply}, nil
}

func TestDefault_ParsesFrontmatterAndSections(t *testing.T) {
	ix := Default()
	assert.Equal(t, "Employee Handbook", ix.Meta().Title)
	assert.Equal(t, "2025.1", ix.Meta().Version)

	headings := make([]string, 0, len(ix.Sections()))
	for _, s := range ix.Sections() {
		headings = append(headings, s.Heading)
		assert.NotEmpty(t, s.Body, s.Heading)
	}
	assert.Contains(t, headings, "Paid time off")
	assert.Contains(t, headings, "Blackout periods")
	assert.Contains(t, headings, "Receipts")
}

func TestSearch_RanksRelevantSection(t *testing.T) {
	ix := Default()

	tests := []struct {
		query string
		want  string
	}{
		{"can I take vacation during a blackout period?", "Blackout periods"},
		{"do I need receipts?", "Receipts"},
		{"is alcohol reimbursed", "Non-reimbursable items"},
		{"daily meal limit per diem", "Meals and per diem"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			matches := ix.Search(tt.query, 3)
			require.NotEmpty(t, matches)
			assert.Equal(t, tt.want, matches[0].Section.Heading)
		})
	}
}

func TestSearch_NoTokens(t *testing.T) {
	ix := Default()
	assert.Nil(t, ix.Search("a an of", 3))
	assert.Nil(t, ix.Search("blackout", 0))
}

func TestAsk_WithoutSummarizer(t *testing.T) {
	ix := Default()

	answer, err := ix.Ask(context.Background(), "blackout periods")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(answer, "Blackout periods: "), answer)

	answer, err = ix.Ask(context.Background(), "quantum chromodynamics")
	require.NoError(t, err)
	assert.Equal(t, noMatchAnswer, answer)
}

func TestAsk_Summarizer(t *testing.T) {
	p := &stubProvider{reply: "  Receipts are needed above $75.  "}
	ix := Default(WithSummarizer(p))

	answer, err := ix.Ask(context.Background(), "receipt required")
	require.NoError(t, err)
	assert.Equal(t, "Receipts are needed above $75.", answer)
	require.NotNil(t, p.got)
	require.Len(t, p.got.Messages, 1)
	assert.Contains(t, p.got.Messages[0].Content, "Question: receipt required")
	assert.Contains(t, p.got.Messages[0].Content, "itemized receipt")
}

func TestAsk_SummarizerFailureFallsBack(t *testing.T) {
	ix := Default(WithSummarizer(&stubProvider{err: errors.New("down")}))

	answer, err := ix.Ask(context.Background(), "receipt required")
	require.NoError(t, err)
	assert.Contains(t, answer, "Receipts: ")
}

func TestAsk_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Default().Ask(ctx, "receipts")
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handbook.md")
	require.NoError(t, os.WriteFile(path, []byte("# Local\n\n## Remote work\n\nWork from anywhere on Fridays.\n"), 0o600))

	ix, err := Load(path)
	require.NoError(t, err)
	require.Len(t, ix.Sections(), 1)
	assert.Equal(t, "Remote work", ix.Sections()[0].Heading)
	assert.Equal(t, "Work from anywhere on Fridays.", ix.Sections()[0].Body)

	_, err = Load(filepath.Join(t.TempDir(), "missing.md"))
	require.Error(t, err)

	_, err = Parse("no headings here")
	require.Error(t, err)
}

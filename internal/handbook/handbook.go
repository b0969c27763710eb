// Package handbook answers policy questions from a Markdown employee handbook.
// Answers are narration for the user; numeric rules live in the policy package.
package handbook

import (
	"bufio"
	"context"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/jkaninda/ruhusa/internal/llm"
)

//go:embed default.md
var defaultHandbook string

// Meta is the optional YAML frontmatter of a handbook file.
type Meta struct {
	Title   string `yaml:"title"`
	Version string `yaml:"version"`
}

// Section is one "## " heading and its body.
type Section struct {
	Heading string
	Body    string
}

// Match is a section with its relevance score.
type Match struct {
	Section Section
	Score   float64
}

// Index holds a parsed handbook.
type Index struct {
	meta       Meta
	sections   []Section
	freqs      []map[string]int
	df         map[string]int
	summarizer llm.Provider
	logger     *slog.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithSummarizer condenses matched sections through provider.
func WithSummarizer(provider llm.Provider) Option {
	return func(ix *Index) { ix.summarizer = provider }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) { ix.logger = logger }
}

// Default parses the embedded handbook.
func Default(opts ...Option) *Index {
	ix, err := Parse(defaultHandbook, opts...)
	if err != nil {
		panic(fmt.Sprintf("embedded handbook: %v", err))
	}
	return ix
}

// Load parses the handbook at path. An empty path loads the embedded handbook.
func Load(path string, opts ...Option) (*Index, error) {
	if path == "" {
		return Default(opts...), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading handbook %s: %w", path, err)
	}
	return Parse(string(data), opts...)
}

// Parse builds an Index from Markdown text with optional frontmatter.
func Parse(text string, opts ...Option) (*Index, error) {
	ix := &Index{df: make(map[string]int)}
	for _, opt := range opts {
		opt(ix)
	}
	if ix.logger == nil {
		ix.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	front, body := splitFrontmatter(text)
	if front != "" {
		if err := yaml.Unmarshal([]byte(front), &ix.meta); err != nil {
			return nil, fmt.Errorf("parsing handbook frontmatter: %w", err)
		}
	}

	ix.sections = splitSections(body)
	if len(ix.sections) == 0 {
		return nil, fmt.Errorf("handbook has no sections")
	}
	ix.freqs = make([]map[string]int, len(ix.sections))
	for i, s := range ix.sections {
		freq := tokenizeFreq(s.Heading + " " + s.Heading + " " + s.Body)
		ix.freqs[i] = freq
		for tok := range freq {
			ix.df[tok]++
		}
	}
	return ix, nil
}

// Meta returns the frontmatter.
func (ix *Index) Meta() Meta { return ix.meta }

// Sections returns the parsed sections in document order.
func (ix *Index) Sections() []Section { return ix.sections }

// Search scores every section against query and returns the best topN.
func (ix *Index) Search(query string, topN int) []Match {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 || topN <= 0 {
		return nil
	}

	numDocs := float64(len(ix.sections))
	var matches []Match
	for i, s := range ix.sections {
		doc := ix.freqs[i]
		docLen := 0
		for _, c := range doc {
			docLen += c
		}
		if docLen == 0 {
			continue
		}
		score := 0.0
		for _, qt := range queryTokens {
			tf := float64(doc[qt]) / float64(docLen)
			idf := math.Log(1 + numDocs/float64(1+ix.df[qt]))
			score += tf * idf
		}
		if score > 0.001 {
			matches = append(matches, Match{Section: s, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topN {
		matches = matches[:topN]
	}
	return matches
}

const (
	askTopN           = 2
	noMatchAnswer     = "The handbook does not cover that topic. Please contact HR for guidance."
	summarizeMaxToken = 300
)

// Ask answers query with the most relevant handbook sections. With a
// summarizer the sections are condensed; a failed summary falls back to the
// raw sections.
func (ix *Index) Ask(ctx context.Context, query string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	matches := ix.Search(query, askTopN)
	if len(matches) == 0 {
		return noMatchAnswer, nil
	}

	var b strings.Builder
	for i, m := range matches {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.Section.Heading)
		b.WriteString(": ")
		b.WriteString(m.Section.Body)
	}
	excerpt := b.String()

	if ix.summarizer == nil {
		return excerpt, nil
	}
	resp, err := ix.summarizer.SendMessage(ctx, &llm.Request{
		SystemPrompt: "You answer employee questions using only the handbook excerpt provided. " +
			"Answer in at most three sentences. Do not invent numbers that are not in the excerpt.",
		Messages: []llm.Message{
			llm.UserMessage(fmt.Sprintf("Handbook excerpt:\n%s\n\nQuestion: %s", excerpt, query)),
		},
		MaxTokens: summarizeMaxToken,
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		if err != nil {
			ix.logger.WarnContext(ctx, "handbook summary failed", slog.String("error", err.Error()))
		}
		return excerpt, nil
	}
	return strings.TrimSpace(resp.Content), nil
}

func splitFrontmatter(text string) (front, body string) {
	trimmed := strings.TrimLeft(text, "\ufeff\n\r\t ")
	if !strings.HasPrefix(trimmed, "---") {
		return "", text
	}
	rest := strings.TrimPrefix(trimmed, "---")
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", text
	}
	front = rest[:end]
	body = rest[end+len("\n---"):]
	return front, body
}

func splitSections(body string) []Section {
	var (
		sections []Section
		cur      *Section
		lines    []string
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.Body = strings.Join(strings.Fields(strings.Join(lines, " ")), " ")
		sections = append(sections, *cur)
		lines = nil
	}

	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "## ") {
			flush()
			cur = &Section{Heading: strings.TrimSpace(strings.TrimPrefix(line, "## "))}
			continue
		}
		if cur != nil && !strings.HasPrefix(line, "# ") {
			lines = append(lines, line)
		}
	}
	flush()
	return sections
}

func tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) < 3 || stopWords[w] {
			continue
		}
		out = append(out, stem(w))
	}
	return out
}

// stem strips a plural "s" so "receipts" matches "receipt".
func stem(w string) string {
	if len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") {
		return w[:len(w)-1]
	}
	return w
}

func tokenizeFreq(text string) map[string]int {
	freq := make(map[string]int)
	for _, tok := range tokenize(text) {
		freq[tok]++
	}
	return freq
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "has": true,
	"was": true, "one": true, "our": true, "out": true, "how": true,
	"with": true, "that": true, "this": true, "from": true, "have": true,
	"been": true, "will": true, "they": true, "when": true, "what": true,
	"your": true, "which": true, "their": true, "about": true, "would": true,
	"there": true, "should": true, "each": true, "many": true, "much": true,
	"than": true, "them": true, "then": true, "into": true, "some": true,
	"does": true, "may": true, "any": true, "per": true,
}

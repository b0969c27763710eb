// Package receipt stores uploaded receipt images and runs the extraction
// collaborator over them.
package receipt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/jkaninda/ruhusa/internal/domain"
)

// ErrUnreadable is returned when the extractor cannot produce a usable
// amount. Callers ask the user to resubmit; they never fall back to zero.
var ErrUnreadable = errors.New("receipt could not be read")

// Extractor turns receipt image bytes into structured data.
type Extractor interface {
	Extract(ctx context.Context, content []byte, contentType string) (*domain.ReceiptData, error)
}

// HTTPExtractor calls an OCR service that accepts the raw image and answers
// with JSON: {"amount": 12.5, "currency": "USD", "date": "2025-05-19",
// "merchant": "...", "line_items": [{"description": "...", "amount": 3.5}]}.
type HTTPExtractor struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPExtractor creates an extractor posting to url.
func NewHTTPExtractor(url, apiKey string, timeout time.Duration) *HTTPExtractor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExtractor{
		url:        strings.TrimRight(url, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type extractResponse struct {
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Date      string  `json:"date"`
	Merchant  string  `json:"merchant"`
	LineItems []struct {
		Description string  `json:"description"`
		Amount      float64 `json:"amount"`
	} `json:"line_items"`
	Error string `json:"error"`
}

// Extract posts content and decodes the service's answer.
func (e *HTTPExtractor) Extract(ctx context.Context, content []byte, contentType string) (*domain.ReceiptData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling extractor: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading extractor response: %w", err)
	}
	if resp.StatusCode == http.StatusUnprocessableEntity {
		return nil, fmt.Errorf("%w: %s", ErrUnreadable, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extractor returned %d: %s", resp.StatusCode, truncate(string(body), 256))
	}

	var out extractResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: malformed extractor response", ErrUnreadable)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrUnreadable, out.Error)
	}
	return toReceiptData(out)
}

func toReceiptData(out extractResponse) (*domain.ReceiptData, error) {
	cents := domain.DollarsToCents(out.Amount)
	if cents <= 0 || math.IsNaN(out.Amount) {
		return nil, fmt.Errorf("%w: no total amount found", ErrUnreadable)
	}
	data := &domain.ReceiptData{
		AmountCents: cents,
		Currency:    strings.ToUpper(strings.TrimSpace(out.Currency)),
		Merchant:    strings.TrimSpace(out.Merchant),
	}
	if data.Currency == "" {
		data.Currency = "USD"
	}
	if out.Date != "" {
		d, err := domain.ParseDate(out.Date)
		if err == nil {
			data.Date = d
		}
	}
	for _, li := range out.LineItems {
		data.LineItems = append(data.LineItems, domain.LineItem{
			Description: li.Description,
			AmountCents: domain.DollarsToCents(li.Amount),
		})
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package blockpage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"math/rand/v2"

	"github.com/goodtune/mindful/internal/storage"
)

// Title replaces the document title of a blocked tab.
const Title = "Time to take a break"

// DefaultQuote is shown when no quotes are configured.
var DefaultQuote = storage.Quote{
	Text:   "Time you enjoy wasting is not wasted time.",
	Author: "Marthe Troly-Curtin",
}

// Page is what the extension injects into a blocked tab.
type Page struct {
	Title string `json:"title"`
	CSS   string `json:"css"`
	HTML  string `json:"html"`
}

const styleSheet = `body {
	display: flex;
	align-items: center;
	justify-content: center;
	min-height: 100vh;
	margin: 0;
	font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
	color: #4A4036;
	background: linear-gradient(120deg, #F5F1EB 0%, #E6DFD7 100%);
}
.quote-container {
	text-align: center;
	max-width: 600px;
	padding: 48px;
	background: rgba(255, 255, 255, 0.8);
	border-radius: 16px;
	box-shadow: 0 4px 24px rgba(0, 0, 0, 0.05);
}
.quote-text {
	font-size: 28px;
	line-height: 1.6;
	margin-bottom: 24px;
	color: #2C3338;
	font-weight: 300;
}
.quote-author {
	font-style: italic;
	color: #8B7355;
}`

var panel = template.Must(template.New("panel").Parse(`<div class="quote-container">
	<div class="quote-text">"{{.Text}}"</div>
	{{- if .Author}}
	<div class="quote-author">- {{.Author}}</div>
	{{- end}}
</div>`))

// Render builds the replacement page for quote.
func Render(quote storage.Quote) (Page, error) {
	var buf bytes.Buffer
	if err := panel.Execute(&buf, quote); err != nil {
		return Page{}, fmt.Errorf("failed to render quote panel: %w", err)
	}
	return Page{Title: Title, CSS: styleSheet, HTML: buf.String()}, nil
}

// Renderer picks a random configured quote and renders it.
type Renderer struct {
	quotes storage.QuoteStore
	intn   func(n int) int
}

// NewRenderer creates a renderer reading quotes from store.
func NewRenderer(quotes storage.QuoteStore) *Renderer {
	return &Renderer{quotes: quotes, intn: rand.IntN}
}

// Pick returns a random quote, or DefaultQuote when none are configured
// or the store cannot be read.
func (r *Renderer) Pick(ctx context.Context) (storage.Quote, error) {
	quotes, err := r.quotes.Get(ctx)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && len(quotes) == 0) {
		return DefaultQuote, nil
	}
	if err != nil {
		return DefaultQuote, fmt.Errorf("failed to read quotes: %w", err)
	}
	return quotes[r.intn(len(quotes))], nil
}

// Page picks a quote and renders it. A store failure still yields a page
// built from DefaultQuote, together with the error for logging.
func (r *Renderer) Page(ctx context.Context) (Page, error) {
	quote, pickErr := r.Pick(ctx)
	page, err := Render(quote)
	if err != nil {
		return Page{}, err
	}
	return page, pickErr
}

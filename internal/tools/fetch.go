package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/lilybot/lily/internal/log"
)

const (
	// maxFetchBody caps the downloaded page size.
	maxFetchBody = 2 << 20 // 2 MiB

	// maxGuideText caps the extracted text handed to the model.
	maxGuideText = 8000
)

// FetchTool downloads a repair guide or product page named in the evidence
// and extracts its readable text.
type FetchTool struct {
	client       *http.Client
	allowedHosts map[string]bool
	logger       log.Logger
}

// NewGuideFetch builds the fetch_guide tool. allowedHosts restricts which
// sites may be fetched; empty means any public host.
func NewGuideFetch(client *http.Client, allowedHosts []string, logger log.Logger) *FetchTool {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if logger == nil {
		logger = log.NewNop()
	}

	hosts := make(map[string]bool, len(allowedHosts))
	for _, h := range allowedHosts {
		hosts[strings.ToLower(h)] = true
	}
	return &FetchTool{client: client, allowedHosts: hosts, logger: logger}
}

// Name implements the dispatchable tool interface.
func (t *FetchTool) Name() string { return "fetch_guide" }

// Description implements the dispatchable tool interface.
func (t *FetchTool) Description() string {
	return "Fetch a repair guide or product page by URL and extract its readable text."
}

// Call fetches the page and extracts article text, preferring readability
// extraction and falling back to stripped page text.
func (t *FetchTool) Call(ctx context.Context, args map[string]any) (string, error) {
	rawURL, err := stringArg(args, "url")
	if err != nil {
		return "", err
	}

	parsed, err := t.validateURL(rawURL)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", "lily/1.0 (+appliance parts assistant)")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", parsed.Host, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: status %d", parsed.Host, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", parsed.Host, err)
	}

	text, title := extractReadable(body, parsed)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no readable content at %s", parsed.Host)
	}
	if len(text) > maxGuideText {
		text = truncateAtRune(text, maxGuideText) + "\n[truncated]"
	}

	t.logger.Debug("guide fetched", "host", parsed.Host, "title", title, "text_length", len(text))

	if title != "" {
		return fmt.Sprintf("# %s\n\n%s", title, text), nil
	}
	return text, nil
}

// validateURL enforces http(s) and the host allowlist.
func (t *FetchTool) validateURL(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return nil, fmt.Errorf("url %q has no host", rawURL)
	}
	if len(t.allowedHosts) > 0 && !t.allowedHosts[strings.ToLower(parsed.Hostname())] {
		return nil, fmt.Errorf("host %q is not allowed", parsed.Hostname())
	}
	return parsed, nil
}

// extractReadable pulls article text from an HTML page. Readability handles
// article-shaped pages; goquery strips everything else down to body text.
func extractReadable(body []byte, pageURL *url.URL) (text, title string) {
	article, err := readability.FromReader(strings.NewReader(string(body)), pageURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return collapseWhitespace(article.TextContent), article.Title
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return "", ""
	}
	doc.Find("script, style, nav, header, footer").Remove()
	title = strings.TrimSpace(doc.Find("title").First().Text())
	return collapseWhitespace(doc.Find("body").Text()), title
}

// truncateAtRune cuts s to at most max bytes without splitting a UTF-8
// sequence.
func truncateAtRune(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// collapseWhitespace squeezes runs of blank lines and spaces left behind by
// tag stripping.
func collapseWhitespace(s string) string {
	var b strings.Builder
	lastBlank := true
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !lastBlank {
				b.WriteString("\n")
			}
			lastBlank = true
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
		lastBlank = false
	}
	return strings.TrimSpace(b.String())
}

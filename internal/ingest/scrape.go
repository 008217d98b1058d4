package ingest

import (
	"context"
	"crypto/sha1"
	"fmt"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/lilybot/lily/internal/knowledge"
)

// ScrapeConfig tunes the blog crawler.
type ScrapeConfig struct {
	AllowedDomains []string      // crawl boundary, required
	MaxPages       int           // stop after this many articles, default 50
	Delay          time.Duration // politeness delay between requests, default 1s
}

// ScrapeBlogs crawls blog articles inside the allowed domains and indexes
// each one into the vector store under the blog source. Links are followed
// only within the article listing; the crawl stops at MaxPages articles.
func (im *Importer) ScrapeBlogs(ctx context.Context, startURL string, cfg ScrapeConfig) (int, error) {
	if len(cfg.AllowedDomains) == 0 {
		return 0, fmt.Errorf("scrape config needs at least one allowed domain")
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	if cfg.Delay <= 0 {
		cfg.Delay = time.Second
	}

	c := colly.NewCollector(
		colly.AllowedDomains(cfg.AllowedDomains...),
		colly.UserAgent("lily/1.0 (+appliance parts assistant)"),
	)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 2,
		Delay:       cfg.Delay,
	}); err != nil {
		return 0, fmt.Errorf("configuring crawl limits: %w", err)
	}

	indexed := 0

	c.OnHTML("article", func(e *colly.HTMLElement) {
		if indexed >= cfg.MaxPages || ctx.Err() != nil {
			return
		}

		title := strings.TrimSpace(e.ChildText("h1, h2"))
		body := strings.TrimSpace(e.Text)
		if body == "" {
			return
		}

		pageURL := e.Request.URL.String()
		doc := knowledge.Document{
			ID:      fmt.Sprintf("blog-%x", sha1.Sum([]byte(pageURL))),
			Source:  knowledge.SourceBlog,
			Title:   title,
			URL:     pageURL,
			Content: body,
		}
		if err := im.indexer.Add(ctx, doc); err != nil {
			im.logger.Warn("indexing scraped article failed", "url", pageURL, "error", err)
			return
		}
		indexed++
	})

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if indexed >= cfg.MaxPages || ctx.Err() != nil {
			return
		}
		href := e.Attr("href")
		if strings.Contains(href, "/blog") {
			_ = e.Request.Visit(href)
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		im.logger.Warn("scrape request failed", "url", r.Request.URL.String(), "error", err)
	})

	if err := c.Visit(startURL); err != nil {
		return 0, fmt.Errorf("starting crawl at %s: %w", startURL, err)
	}
	c.Wait()

	im.logger.Info("blog scrape completed", "indexed", indexed, "start", startURL)
	return indexed, nil
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lilybot/lily/internal/app"
	"github.com/lilybot/lily/internal/config"
	"github.com/lilybot/lily/internal/ingest"
	"github.com/lilybot/lily/internal/log"
)

var (
	ingestPartsCSV   string
	ingestRepairsCSV string
	ingestBlogsCSV   string
	ingestScrapeURL  string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load catalog CSV exports and index the knowledge base",
	Long: `Ingest loads the parts and repairs catalog from CSV exports, indexes
repair guides and blog articles into the vector knowledge base, and can
crawl a blog site for fresh articles. Each input is optional; only the
given ones run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest()
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestPartsCSV, "parts", "", "parts catalog CSV path")
	ingestCmd.Flags().StringVar(&ingestRepairsCSV, "repairs", "", "repairs CSV path, loaded into the catalog and indexed")
	ingestCmd.Flags().StringVar(&ingestBlogsCSV, "blogs", "", "blog articles CSV path, indexed into the knowledge base")
	ingestCmd.Flags().StringVar(&ingestScrapeURL, "scrape", "", "blog start URL to crawl and index")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if ingestPartsCSV == "" && ingestRepairsCSV == "" && ingestBlogsCSV == "" && ingestScrapeURL == "" {
		return fmt.Errorf("nothing to ingest: pass --parts, --repairs, --blogs or --scrape")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger(cfg)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	if ingestPartsCSV != "" {
		n, err := importFile(ctx, ingestPartsCSV, a.Importer.ImportParts)
		if err != nil {
			return fmt.Errorf("importing parts: %w", err)
		}
		logger.Info("parts imported", "rows", n, "path", ingestPartsCSV)
	}

	if ingestRepairsCSV != "" {
		n, err := importFile(ctx, ingestRepairsCSV, a.Importer.ImportRepairs)
		if err != nil {
			return fmt.Errorf("importing repairs: %w", err)
		}
		logger.Info("repairs imported", "rows", n, "path", ingestRepairsCSV)

		indexed, err := importFile(ctx, ingestRepairsCSV, a.Importer.IndexRepairs)
		if err != nil {
			return fmt.Errorf("indexing repairs: %w", err)
		}
		logger.Info("repair documents indexed", "documents", indexed)
	}

	if ingestBlogsCSV != "" {
		n, err := importFile(ctx, ingestBlogsCSV, a.Importer.IndexBlogs)
		if err != nil {
			return fmt.Errorf("indexing blogs: %w", err)
		}
		logger.Info("blog documents indexed", "documents", n)
	}

	if ingestScrapeURL != "" {
		if err := scrapeBlogs(ctx, a.Importer, logger); err != nil {
			return fmt.Errorf("scraping blogs: %w", err)
		}
	}

	return nil
}

// importFile opens path and feeds it to one of the Importer's CSV loaders.
func importFile(ctx context.Context, path string, load func(context.Context, io.Reader) (int, error)) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return load(ctx, f)
}

func scrapeBlogs(ctx context.Context, importer *ingest.Importer, logger log.Logger) error {
	start, err := url.Parse(ingestScrapeURL)
	if err != nil || start.Host == "" {
		return fmt.Errorf("invalid scrape URL %q", ingestScrapeURL)
	}

	n, err := importer.ScrapeBlogs(ctx, ingestScrapeURL, ingest.ScrapeConfig{
		AllowedDomains: []string{start.Host},
	})
	if err != nil {
		return err
	}
	logger.Info("scraped blog articles indexed", "documents", n, "start", ingestScrapeURL)
	return nil
}

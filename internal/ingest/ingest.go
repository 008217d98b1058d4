// Package ingest loads the product data set: CSV imports into the
// relational catalog and document indexing into the vector store.
package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lilybot/lily/internal/knowledge"
	"github.com/lilybot/lily/internal/log"
)

// DB is the subset of pgxpool.Pool the importer needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// DocIndexer is the vector-store surface reindexing needs.
type DocIndexer interface {
	Add(ctx context.Context, doc knowledge.Document) error
}

// Importer drives catalog imports and vector reindexing. Runs are guarded
// by a file lock so two ingest invocations cannot interleave truncates.
type Importer struct {
	db      DB
	indexer DocIndexer
	logger  log.Logger
	lock    *flock.Flock
}

// NewImporter creates an Importer. lockDir holds the ingest lock file;
// empty selects the system temp directory.
func NewImporter(db DB, indexer DocIndexer, lockDir string, logger log.Logger) *Importer {
	if logger == nil {
		logger = log.NewNop()
	}
	if lockDir == "" {
		lockDir = os.TempDir()
	}
	return &Importer{
		db:      db,
		indexer: indexer,
		logger:  logger,
		lock:    flock.New(filepath.Join(lockDir, "lily-ingest.lock")),
	}
}

// withLock runs fn while holding the ingest file lock.
func (im *Importer) withLock(_ context.Context, fn func() error) error {
	locked, err := im.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring ingest lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another ingest run holds the lock at %s", im.lock.Path())
	}
	defer func() {
		if err := im.lock.Unlock(); err != nil {
			im.logger.Warn("releasing ingest lock", "error", err)
		}
	}()
	return fn()
}

// ImportParts replaces the parts table with the rows in the CSV stream.
func (im *Importer) ImportParts(ctx context.Context, r io.Reader) (int, error) {
	records, err := readRecords(r)
	if err != nil {
		return 0, fmt.Errorf("parsing parts CSV: %w", err)
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		rows[i] = partRow(rec)
	}

	var copied int64
	err = im.withLock(ctx, func() error {
		if _, err := im.db.Exec(ctx, `TRUNCATE TABLE parts`); err != nil {
			return fmt.Errorf("truncating parts: %w", err)
		}
		copied, err = im.db.CopyFrom(ctx, pgx.Identifier{"parts"}, partColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copying parts: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	im.logger.Info("parts imported", "rows", copied)
	return int(copied), nil
}

// ImportRepairs replaces the repairs table with the rows in the CSV stream.
func (im *Importer) ImportRepairs(ctx context.Context, r io.Reader) (int, error) {
	records, err := readRecords(r)
	if err != nil {
		return 0, fmt.Errorf("parsing repairs CSV: %w", err)
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		rows[i] = repairRow(rec)
	}

	var copied int64
	err = im.withLock(ctx, func() error {
		if _, err := im.db.Exec(ctx, `TRUNCATE TABLE repairs`); err != nil {
			return fmt.Errorf("truncating repairs: %w", err)
		}
		copied, err = im.db.CopyFrom(ctx, pgx.Identifier{"repairs"}, repairColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copying repairs: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	im.logger.Info("repairs imported", "rows", copied)
	return int(copied), nil
}

// IndexRepairs embeds the repairs CSV into the vector store under the
// repair source. Rows that fail to embed are skipped and counted.
func (im *Importer) IndexRepairs(ctx context.Context, r io.Reader) (int, error) {
	records, err := readRecords(r)
	if err != nil {
		return 0, fmt.Errorf("parsing repairs CSV: %w", err)
	}

	indexed := 0
	for i, rec := range records {
		text := repairDocText(rec)
		if text == "" {
			continue
		}
		doc := knowledge.Document{
			ID:      fmt.Sprintf("repair-%04d", i),
			Source:  knowledge.SourceRepair,
			Title:   fmt.Sprintf("%s: %s", rec["product"], rec["symptom"]),
			URL:     rec["symptom_detail_url"],
			Content: text,
		}
		if err := im.indexer.Add(ctx, doc); err != nil {
			if ctx.Err() != nil {
				return indexed, ctx.Err()
			}
			im.logger.Warn("indexing repair document failed", "id", doc.ID, "error", err)
			continue
		}
		indexed++
	}

	im.logger.Info("repair documents indexed", "indexed", indexed, "total", len(records))
	return indexed, nil
}

// IndexBlogs embeds the blog CSV into the vector store under the blog
// source.
func (im *Importer) IndexBlogs(ctx context.Context, r io.Reader) (int, error) {
	records, err := readRecords(r)
	if err != nil {
		return 0, fmt.Errorf("parsing blogs CSV: %w", err)
	}

	indexed := 0
	for i, rec := range records {
		text := blogDocText(rec)
		if text == "" {
			continue
		}
		doc := knowledge.Document{
			ID:      fmt.Sprintf("blog-%04d", i),
			Source:  knowledge.SourceBlog,
			Title:   rec["title"],
			URL:     rec["url"],
			Content: text,
		}
		if err := im.indexer.Add(ctx, doc); err != nil {
			if ctx.Err() != nil {
				return indexed, ctx.Err()
			}
			im.logger.Warn("indexing blog document failed", "id", doc.ID, "error", err)
			continue
		}
		indexed++
	}

	im.logger.Info("blog documents indexed", "indexed", indexed, "total", len(records))
	return indexed, nil
}

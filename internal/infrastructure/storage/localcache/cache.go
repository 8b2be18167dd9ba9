// Package localcache mirrors articles on disk, one JSON file per article grouped by capture date.
package localcache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ArticlesPipeline/internal/domain"
	"ArticlesPipeline/internal/ports"
)

const (
	dayLayout     = "2006-01-02"
	fileExt       = ".json"
	defaultPrefix = "article"
)

var _ ports.ArticleCache = (*Cache)(nil)

// Cache stores <root>/<YYYY-MM-DD>/<prefix>_<article_id>.json files.
type Cache struct {
	root   string
	prefix string
	logger *slog.Logger
}

// New creates the cache root when missing.
func New(root string, logger *slog.Logger) (*Cache, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("local cache root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{root: root, prefix: defaultPrefix, logger: logger}, nil
}

// Root returns the cache directory.
func (c *Cache) Root() string {
	return c.root
}

// Get finds the file for id under any date directory and with any filename prefix.
func (c *Cache) Get(ctx context.Context, id string) (domain.Article, error) {
	if err := ctx.Err(); err != nil {
		return domain.Article{}, err
	}
	paths, err := c.locate(id)
	if err != nil {
		return domain.Article{}, err
	}
	if len(paths) == 0 {
		return domain.Article{}, fmt.Errorf("local %s: %w", id, domain.ErrNotFound)
	}

	var (
		best    domain.Article
		found   bool
		lastErr error
	)
	for _, path := range paths {
		article, err := readFile(path)
		if err != nil {
			c.logger.Warn("skip unreadable cache file", "path", path, "error", err)
			lastErr = err
			continue
		}
		if article.ID() != id {
			continue
		}
		if !found || article.Header.UpdatedAt.After(best.Header.UpdatedAt) {
			best = article
			found = true
		}
	}
	if !found {
		if lastErr != nil {
			return domain.Article{}, fmt.Errorf("local %s: %w", id, lastErr)
		}
		return domain.Article{}, fmt.Errorf("local %s: %w", id, domain.ErrNotFound)
	}
	return best, nil
}

// Put writes the article atomically and removes copies of the same id in other date dirs.
func (c *Cache) Put(ctx context.Context, article domain.Article) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := article.ID()
	if id == "" {
		return fmt.Errorf("put article: missing id")
	}

	raw, err := domain.EncodeArticle(article)
	if err != nil {
		return err
	}

	dir := filepath.Join(c.root, article.CaptureDate().UTC().Format(dayLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create day dir: %w", err)
	}
	target := filepath.Join(dir, c.prefix+"_"+id+fileExt)

	tmp, err := os.CreateTemp(dir, ".tmp-"+id+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename cache file: %w", err)
	}

	stale, err := c.locate(id)
	if err != nil {
		return nil
	}
	for _, path := range stale {
		if path == target {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("remove stale cache copy", "path", path, "error", err)
		}
	}
	return nil
}

// Scan reads every article in date directories on or after since. A zero since reads all.
// Files that fail to parse are logged and left on disk.
func (c *Cache) Scan(ctx context.Context, since time.Time) ([]domain.Article, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("read cache root: %w", err)
	}

	var cutoff time.Time
	if !since.IsZero() {
		y, m, d := since.UTC().Date()
		cutoff = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}

	var days []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		day, err := time.Parse(dayLayout, entry.Name())
		if err != nil {
			continue
		}
		if !cutoff.IsZero() && day.Before(cutoff) {
			continue
		}
		days = append(days, entry.Name())
	}
	sort.Strings(days)

	var articles []domain.Article
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		files, err := filepath.Glob(filepath.Join(c.root, day, "*"+fileExt))
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", day, err)
		}
		sort.Strings(files)
		for _, path := range files {
			article, err := readFile(path)
			if err != nil {
				c.logger.Warn("skip corrupt cache file", "path", path, "error", err)
				continue
			}
			articles = append(articles, article)
		}
	}
	return articles, nil
}

func (c *Cache) locate(id string) ([]string, error) {
	if strings.ContainsAny(id, `/\*?[`) {
		return nil, fmt.Errorf("local %s: invalid id", id)
	}
	paths, err := filepath.Glob(filepath.Join(c.root, "*", "*"+id+fileExt))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", id, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func readFile(path string) (domain.Article, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Article{}, fmt.Errorf("read %s: %w", path, err)
	}
	article, err := domain.DecodeArticle(raw)
	if err != nil {
		return domain.Article{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return article, nil
}

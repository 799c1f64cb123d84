package corpus

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"

	"github.com/compozy/ragchain/engine/knowledge"
	"github.com/compozy/ragchain/engine/knowledge/chunk"
	"github.com/compozy/ragchain/pkg/logger"
)

const (
	stage = "corpus"

	DefaultPattern      = "**/*.txt"
	DefaultMaxFileBytes = 8 << 20
)

// Config locates a directory of text files.
type Config struct {
	Dir          string
	Patterns     []string
	MaxFileBytes int64
}

// FileCorpus enumerates and reads text files below a single root directory.
type FileCorpus struct {
	root     string
	patterns []string
	maxBytes int64
}

func New(cfg Config) (*FileCorpus, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return nil, knowledge.Errorf(knowledge.KindInvalidConfig, stage, "directory is required")
	}
	patterns := make([]string, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		p = filepath.ToSlash(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, knowledge.Errorf(knowledge.KindInvalidConfig, stage, "invalid pattern %q", p)
		}
		patterns = append(patterns, p)
	}
	if len(patterns) == 0 {
		patterns = append(patterns, DefaultPattern)
	}
	maxBytes := cfg.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	return &FileCorpus{root: filepath.Clean(dir), patterns: patterns, maxBytes: maxBytes}, nil
}

func (c *FileCorpus) Dir() string {
	return c.root
}

func (c *FileCorpus) Patterns() []string {
	return slices.Clone(c.patterns)
}

// ListTextFiles returns every file under the root that matches a pattern and
// sniffs as text/*, sorted lexically. A missing root is a NotFound error.
func (c *FileCorpus) ListTextFiles(ctx context.Context) ([]string, error) {
	if err := c.checkRoot(); err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx)
	seen := make(map[string]struct{})
	files := make([]string, 0)
	for _, pattern := range c.patterns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		matches, err := doublestar.Glob(os.DirFS(c.root), pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, knowledge.NewError(knowledge.KindInvalidConfig, stage, fmt.Errorf("glob %q: %w", pattern, err))
		}
		if len(matches) == 0 {
			log.Debug("Corpus pattern matched no files", "dir", c.root, "pattern", pattern)
		}
		for _, rel := range matches {
			path := filepath.Join(c.root, filepath.FromSlash(rel))
			if _, dup := seen[path]; dup {
				continue
			}
			seen[path] = struct{}{}
			ok, err := isText(path)
			if err != nil {
				log.Warn("Skipping unreadable corpus file", "path", path, "error", err)
				continue
			}
			if !ok {
				log.Debug("Skipping non-text corpus file", "path", path)
				continue
			}
			files = append(files, path)
		}
	}
	slices.Sort(files)
	return files, nil
}

// Read returns the UTF-8 text of path. The file must live under the corpus root.
func (c *FileCorpus) Read(_ context.Context, path string) (string, error) {
	inside, err := pathInside(c.root, path)
	if err != nil {
		return "", err
	}
	if !inside {
		return "", knowledge.Errorf(knowledge.KindInvalidConfig, stage, "path %q escapes corpus root %q", path, c.root)
	}
	file, err := os.Open(path)
	if err != nil {
		return "", c.openError(path, err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("corpus: stat %q: %w", path, err)
	}
	if info.IsDir() {
		return "", knowledge.Errorf(knowledge.KindNotFound, stage, "%q is a directory", path)
	}
	if info.Size() > c.maxBytes {
		return "", knowledge.Errorf(
			knowledge.KindInvalidConfig,
			stage,
			"file %q exceeds maximum size of %d bytes",
			path,
			c.maxBytes,
		)
	}
	data, err := io.ReadAll(io.LimitReader(file, c.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("corpus: read %q: %w", path, err)
	}
	if int64(len(data)) > c.maxBytes {
		return "", knowledge.Errorf(
			knowledge.KindInvalidConfig,
			stage,
			"file %q grew past %d bytes while reading",
			path,
			c.maxBytes,
		)
	}
	return string(data), nil
}

// LoadDocuments reads every listed file into a document. An empty corpus
// yields no documents and no error.
func (c *FileCorpus) LoadDocuments(ctx context.Context) ([]chunk.Document, error) {
	paths, err := c.ListTextFiles(ctx)
	if err != nil {
		return nil, err
	}
	return c.ReadDocuments(ctx, paths)
}

// ReadDocuments loads the given paths in order.
func (c *FileCorpus) ReadDocuments(ctx context.Context, paths []string) ([]chunk.Document, error) {
	docs := make([]chunk.Document, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := c.Read(ctx, path)
		if err != nil {
			return nil, err
		}
		doc := chunk.NewDocument(path, text)
		doc.Metadata = map[string]any{
			"source": path,
			"bytes":  len(text),
		}
		docs = append(docs, doc)
	}
	logger.FromContext(ctx).Debug("Loaded corpus documents", "dir", c.root, "documents", len(docs))
	return docs, nil
}

// Matches reports whether path falls under the root and matches a pattern.
// It does not touch the filesystem, so removed files still match.
func (c *FileCorpus) Matches(path string) bool {
	rel, err := filepath.Rel(c.root, filepath.Clean(path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range c.patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (c *FileCorpus) checkRoot() error {
	info, err := os.Stat(c.root)
	if err != nil {
		if os.IsNotExist(err) {
			return knowledge.Errorf(knowledge.KindNotFound, stage, "directory %q does not exist", c.root)
		}
		return fmt.Errorf("corpus: stat %q: %w", c.root, err)
	}
	if !info.IsDir() {
		return knowledge.Errorf(knowledge.KindNotFound, stage, "%q is not a directory", c.root)
	}
	return nil
}

func (c *FileCorpus) openError(path string, err error) error {
	if os.IsNotExist(err) {
		return knowledge.NewError(knowledge.KindNotFound, stage, fmt.Errorf("file %q: %w", path, err))
	}
	return fmt.Errorf("corpus: open %q: %w", path, err)
}

func isText(path string) (bool, error) {
	detected, err := mimetype.DetectFile(path)
	if err != nil {
		return false, err
	}
	for m := detected; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "text/") {
			return true, nil
		}
	}
	return false, nil
}

func pathInside(root, target string) (bool, error) {
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		if os.IsNotExist(err) {
			return false, knowledge.Errorf(knowledge.KindNotFound, stage, "directory %q does not exist", root)
		}
		return false, fmt.Errorf("corpus: resolve root %q: %w", root, err)
	}
	resolvedTarget, err := filepath.EvalSymlinks(target)
	if err != nil {
		if os.IsNotExist(err) {
			return false, knowledge.NewError(knowledge.KindNotFound, stage, fmt.Errorf("file %q: %w", target, err))
		}
		return false, fmt.Errorf("corpus: resolve %q: %w", target, err)
	}
	rel, err := filepath.Rel(resolvedRoot, resolvedTarget)
	if err != nil {
		return false, fmt.Errorf("corpus: relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false, nil
	}
	return true, nil
}

// Package loader walks corpus directories and turns files into retrievable
// documents. Parsing is dispatched per extension; binary formats (PDF, office
// documents) are handled by externally registered extractors.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/rag"
)

// Extractor turns raw file bytes into plain text. name carries the original
// filename for diagnostics.
type Extractor interface {
	Extract(data []byte, name string) (string, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(data []byte, name string) (string, error)

// Extract implements Extractor.
func (f ExtractorFunc) Extract(data []byte, name string) (string, error) {
	return f(data, name)
}

// Loader loads corpus directories into documents.
type Loader struct {
	extractors map[string]Extractor
	logger     *zap.Logger
}

// New creates a loader with passthrough extractors for the plain-text
// extensions. PDF and DOCX extractors are collaborator-supplied via Register.
func New(logger *zap.Logger) *Loader {
	l := &Loader{
		extractors: make(map[string]Extractor),
		logger:     logger.With(zap.String("component", "corpus_loader")),
	}
	passthrough := ExtractorFunc(func(data []byte, _ string) (string, error) {
		return string(data), nil
	})
	for _, ext := range []string{".txt", ".md", ".csv"} {
		l.extractors[ext] = passthrough
	}
	return l
}

// Register installs an extractor for an extension (with leading dot).
func (l *Loader) Register(ext string, extractor Extractor) {
	l.extractors[strings.ToLower(ext)] = extractor
}

// Supported reports whether files with the extension can be parsed.
func (l *Loader) Supported(ext string) bool {
	_, ok := l.extractors[strings.ToLower(ext)]
	return ok
}

// Extract parses raw bytes using the extractor registered for ext.
func (l *Loader) Extract(ext string, data []byte, name string) (string, error) {
	extractor, ok := l.extractors[strings.ToLower(ext)]
	if !ok {
		return "", fmt.Errorf("no extractor registered for %s", ext)
	}
	return extractor.Extract(data, name)
}

// LoadCorpus reads every supported file directly under dir into documents for
// the named corpus. Unreadable or unparseable files are skipped with a warning;
// files whose text is empty are skipped silently.
func (l *Loader) LoadCorpus(corpus, dir string) ([]rag.Document, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read corpus directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var documents []rag.Document
	for _, name := range names {
		ext := strings.ToLower(filepath.Ext(name))
		extractor, ok := l.extractors[ext]
		if !ok {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			l.logger.Warn("skipping unreadable file", zap.String("path", path), zap.Error(err))
			continue
		}

		content, err := extractor.Extract(data, name)
		if err != nil {
			l.logger.Warn("skipping unparseable file", zap.String("path", path), zap.Error(err))
			continue
		}
		if strings.TrimSpace(content) == "" {
			continue
		}

		stem := strings.TrimSuffix(name, filepath.Ext(name))
		documents = append(documents, rag.Document{
			Corpus:      corpus,
			ID:          "doc_" + stem,
			Title:       Title(content, name, ext),
			Content:     content,
			Source:      name,
			ContentHash: rag.HashContent(data),
		})
	}

	l.logger.Info("corpus loaded", zap.String("corpus", corpus), zap.Int("documents", len(documents)))
	return documents, nil
}

// Title derives a document title: the first H1 for markdown, the prettified
// file stem otherwise.
func Title(content, filename, ext string) string {
	if ext == ".md" {
		for _, line := range strings.Split(content, "\n") {
			if strings.HasPrefix(line, "# ") {
				return strings.TrimSpace(line[2:])
			}
		}
	}
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	return strings.ReplaceAll(stem, "_", " ")
}

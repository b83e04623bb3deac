package rag

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ParserRegistry maps file extensions to parsers.
type ParserRegistry struct {
	mu      sync.RWMutex
	parsers map[string]Parser // key = ".ext"
	maxSize int64             // bytes; 0 = unlimited
}

// NewParserRegistry registers the built-in parsers.
func NewParserRegistry() *ParserRegistry {
	r := &ParserRegistry{parsers: make(map[string]Parser)}
	r.Register(&MarkdownParser{})
	r.Register(&PlainTextParser{})
	r.Register(&PDFParser{})
	r.Register(&DOCXParser{})
	return r
}

// WithMaxFileSize rejects files larger than mb megabytes in ParseFile.
func (r *ParserRegistry) WithMaxFileSize(mb int) *ParserRegistry {
	r.maxSize = int64(mb) << 20
	return r
}

func (r *ParserRegistry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range p.SupportedTypes() {
		r.parsers[strings.ToLower(ext)] = p
	}
}

// Get returns the parser for filename's extension.
func (r *ParserRegistry) Get(filename string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return nil, fmt.Errorf("no file extension in filename: %s", filename)
	}

	r.mu.RLock()
	p, ok := r.parsers[ext]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported file type: %s (supported: %s)", ext, r.SupportedTypes())
	}
	return p, nil
}

// Supports reports whether filename has a registered extension.
func (r *ParserRegistry) Supports(filename string) bool {
	_, err := r.Get(filename)
	return err == nil
}

// ParseFile opens and parses path. Every failure wraps ErrSourceUnreadable.
func (r *ParserRegistry) ParseFile(path string) (*ParseResult, error) {
	p, err := r.Get(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	if r.maxSize > 0 && info.Size() > r.maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrSourceUnreadable, path, info.Size(), r.maxSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	defer f.Close()

	res, err := p.Parse(f, filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	if strings.TrimSpace(res.Content) == "" {
		return nil, fmt.Errorf("%w: %s has no extractable text", ErrSourceUnreadable, path)
	}
	return res, nil
}

// SupportedTypes lists registered extensions, sorted.
func (r *ParserRegistry) SupportedTypes() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		types = append(types, ext)
	}
	sort.Strings(types)
	return strings.Join(types, ", ")
}

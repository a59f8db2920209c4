// Package extract turns document files into UTF-8 text for summarization.
// Each extractor honors a byte budget; binary categories return empty text.
package extract

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Extractor converts one file into text of length <= budget bytes.
type Extractor interface {
	Extract(ctx context.Context, path string, budget int64) (string, error)
}

// Registry routes extensions to extractors; unknown extensions fall through
// to the generic binary extractor.
type Registry struct {
	byExt    map[string]Extractor
	fallback Extractor
}

// NewRegistry builds the default registry.
func NewRegistry() *Registry {
	plain := &PlainText{}
	markdown := &Markdown{}
	html := &HTML{}
	pdf := &PDF{}
	ooxml := &OOXML{}
	binary := &Binary{}

	byExt := map[string]Extractor{
		"txt":  plain,
		"csv":  plain,
		"log":  plain,
		"json": plain,
		"xml":  plain,
		"ts":   plain,
		"md":   markdown,
		"html": html,
		"htm":  html,
		"pdf":  pdf,
		"docx": ooxml,
		"xlsx": ooxml,
		"pptx": ooxml,
	}
	return &Registry{byExt: byExt, fallback: binary}
}

// For returns the extractor responsible for an extension.
func (r *Registry) For(ext string) Extractor {
	if e, ok := r.byExt[strings.ToLower(ext)]; ok {
		return e
	}
	return r.fallback
}

// Extract runs the registered extractor for ext against path.
func (r *Registry) Extract(ctx context.Context, path, ext string, budget int64) (string, error) {
	return r.For(ext).Extract(ctx, path, budget)
}

// Binary is the generic extractor for image, audio, video, archive and
// executable content: no text.
type Binary struct{}

func (Binary) Extract(context.Context, string, int64) (string, error) {
	return "", nil
}

// truncate cuts s to at most budget bytes without splitting a rune.
func truncate(s string, budget int64) string {
	if budget <= 0 || int64(len(s)) <= budget {
		return s
	}
	cut := budget
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

package extract

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"git.home.luguber.info/inful/driveorg/internal/faults"
)

// Markdown extracts readable text from Markdown by walking the parsed AST,
// dropping markup but keeping heading and paragraph content.
type Markdown struct{}

func (Markdown) Extract(_ context.Context, path string, budget int64) (string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w: %v", path, faults.ErrIO, err)
	}

	parser := goldmark.New().Parser()
	doc := parser.Parse(text.NewReader(src))

	var b strings.Builder
	err = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.Heading, *ast.Paragraph, *ast.ListItem:
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
		case *ast.FencedCodeBlock:
			for i := 0; i < node.Lines().Len(); i++ {
				line := node.Lines().At(i)
				b.Write(line.Value(src))
			}
		}
		if int64(b.Len()) > budget {
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse %s: %w: %v", path, faults.ErrCorrupt, err)
	}
	return truncate(strings.TrimSpace(b.String()), budget), nil
}

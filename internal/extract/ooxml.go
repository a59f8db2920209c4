package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"git.home.luguber.info/inful/driveorg/internal/faults"
)

// OOXML extracts text from docx, xlsx and pptx containers by pulling the
// character data of the text elements in the relevant XML parts.
type OOXML struct{}

func (OOXML) Extract(_ context.Context, path string, budget int64) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w: %v", path, faults.ErrCorrupt, err)
	}
	defer r.Close()

	var parts []*zip.File
	var textElement string
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "docx":
		textElement = "t" // w:t
		parts = filesMatching(r, func(name string) bool { return name == "word/document.xml" })
	case "xlsx":
		textElement = "t"
		parts = filesMatching(r, func(name string) bool { return name == "xl/sharedStrings.xml" })
	case "pptx":
		textElement = "t" // a:t
		parts = filesMatching(r, func(name string) bool {
			return strings.HasPrefix(name, "ppt/slides/slide") && strings.HasSuffix(name, ".xml")
		})
	default:
		return "", fmt.Errorf("not an OOXML container: %s: %w", path, faults.ErrUnsupported)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in %s: %w", path, faults.ErrCorrupt)
	}

	var b strings.Builder
	for _, part := range parts {
		if int64(b.Len()) > budget {
			break
		}
		if err := appendPartText(part, textElement, &b, budget); err != nil {
			return "", fmt.Errorf("read part %s of %s: %w: %v", part.Name, path, faults.ErrCorrupt, err)
		}
	}
	return truncate(strings.TrimSpace(b.String()), budget), nil
}

func filesMatching(r *zip.ReadCloser, match func(string) bool) []*zip.File {
	var out []*zip.File
	for _, f := range r.File {
		if match(f.Name) {
			out = append(out, f)
		}
	}
	// Slides come back in archive order; present them in slide order.
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func appendPartText(part *zip.File, textElement string, b *strings.Builder, budget int64) error {
	rc, err := part.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	inText := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == textElement {
				inText++
			}
		case xml.EndElement:
			if t.Name.Local == textElement && inText > 0 {
				inText--
				b.WriteByte(' ')
			}
		case xml.CharData:
			if inText > 0 {
				b.Write(t)
			}
		}
		if int64(b.Len()) > budget {
			return nil
		}
	}
}

package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"git.home.luguber.info/inful/driveorg/internal/faults"
)

// PlainText reads text files, decoding UTF-8 directly, UTF-16 by BOM, and
// falling back to Windows-1252 for legacy single-byte content.
type PlainText struct{}

func (PlainText) Extract(_ context.Context, path string, budget int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w: %v", path, faults.ErrIO, err)
	}
	defer f.Close()

	// Read slightly past the budget so multi-byte re-encoding still fills it.
	limit := budget * 2
	if limit <= 0 {
		limit = budget
	}
	raw, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return "", fmt.Errorf("read %s: %w: %v", path, faults.ErrIO, err)
	}

	text, err := decode(raw)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w: %v", path, faults.ErrCorrupt, err)
	}
	return truncate(text, budget), nil
}

func decode(raw []byte) (string, error) {
	switch {
	case bytes.HasPrefix(raw, []byte{0xFF, 0xFE}), bytes.HasPrefix(raw, []byte{0xFE, 0xFF}):
		dec := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		out, _, err := transform.Bytes(dec, raw)
		if err != nil {
			return "", err
		}
		return string(out), nil
	case utf8.Valid(raw):
		// Strip a UTF-8 BOM if present.
		return string(bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})), nil
	default:
		dec := charmap.Windows1252.NewDecoder()
		out, _, err := transform.Bytes(dec, raw)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}

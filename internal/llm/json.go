package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"git.home.luguber.info/inful/driveorg/internal/faults"
)

var (
	jsonFenceRe = regexp.MustCompile("(?s)```json\\s*(.*?)```")
	anyFenceRe  = regexp.MustCompile("(?s)```\\s*(.*?)```")
)

// ExtractJSON parses a model response that should contain a JSON value into
// out. Models wrap JSON in prose or code fences often enough that parsing is
// attempted in order: the whole body, the largest ```json fence, the largest
// plain fence, and finally the outermost balanced braces. Largest wins
// because responses sometimes carry a small illustrative fence next to the
// real payload.
func ExtractJSON(body string, out any) error {
	candidates := []string{strings.TrimSpace(body)}
	if c := largestFence(jsonFenceRe, body); c != "" {
		candidates = append(candidates, c)
	}
	if c := largestFence(anyFenceRe, body); c != "" {
		candidates = append(candidates, c)
	}
	if braced := outermostBraces(body); braced != "" {
		candidates = append(candidates, braced)
	}

	var lastErr error
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if err := json.Unmarshal([]byte(c), out); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return fmt.Errorf("no parseable JSON in response: %w: %v", faults.ErrMalformed, lastErr)
}

func largestFence(re *regexp.Regexp, body string) string {
	var best string
	for _, m := range re.FindAllStringSubmatch(body, -1) {
		c := strings.TrimSpace(m[1])
		if len(c) > len(best) {
			best = c
		}
	}
	return best
}

// outermostBraces returns the substring from the first '{' to its matching
// closing brace, tracking strings so braces inside values don't unbalance.
func outermostBraces(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}

package executor

import "strings"

// maxComponentLength is the portable per-component filename limit.
const maxComponentLength = 255

// reservedNames are rejected case-insensitively on their base name.
var reservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true, "com5": true,
	"com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true, "lpt5": true,
	"lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

const forbiddenChars = `<>:"/\|?*`

// SanitizeName makes one path component safe on every supported filesystem:
// forbidden characters are stripped, trailing dots and spaces removed,
// reserved base names prefixed, overlong components truncated preserving the
// extension. An empty result becomes "unnamed".
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || strings.ContainsRune(forbiddenChars, r) {
			continue
		}
		b.WriteRune(r)
	}
	cleaned := strings.TrimRight(b.String(), ". ")
	if cleaned == "" {
		return "unnamed"
	}

	base, ext := cleaned, ""
	if i := strings.LastIndexByte(cleaned, '.'); i > 0 {
		base, ext = cleaned[:i], cleaned[i:]
	}
	if reservedNames[strings.ToLower(base)] {
		cleaned = "_" + cleaned
	}
	if len(cleaned) > maxComponentLength {
		keep := maxComponentLength - len(ext)
		if keep < 1 {
			keep = 1
			ext = ext[:maxComponentLength-1]
		}
		cleaned = cleaned[:keep] + ext
	}
	return cleaned
}

// SanitizePath sanitizes every component of a slash-separated relative path,
// dropping empty and traversal components.
func SanitizePath(p string) string {
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			continue
		}
		out = append(out, SanitizeName(part))
	}
	return strings.Join(out, "/")
}

package versions

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MarkerKind classifies an explicit version marker found in a filename.
type MarkerKind string

const (
	MarkerNumeric MarkerKind = "numeric"
	MarkerCopy    MarkerKind = "copy"
	MarkerDate    MarkerKind = "date"
	MarkerStatus  MarkerKind = "status"
)

// statusRank orders lifecycle labels oldest to newest.
var statusRank = map[string]int{
	"draft":    1,
	"wip":      2,
	"review":   3,
	"approved": 4,
	"final":    5,
}

// Marker is one extracted version marker.
type Marker struct {
	Kind   MarkerKind
	Value  string
	Number int        // numeric and copy markers
	Date   *time.Time // date markers
	Base   string     // filename stem with the marker stripped
}

type markerPattern struct {
	kind MarkerKind
	re   *regexp.Regexp
}

// Patterns are applied in order; the first match wins.
var markerPatterns = []markerPattern{
	{MarkerNumeric, regexp.MustCompile(`_v(\d+)$`)},
	{MarkerNumeric, regexp.MustCompile(`_rev(\d+)$`)},
	{MarkerNumeric, regexp.MustCompile(`_version(\d+)$`)},
	{MarkerCopy, regexp.MustCompile(`\s*\((\d+)\)$`)},
	{MarkerDate, regexp.MustCompile(`_(\d{4}-\d{2}-\d{2})$`)},
	{MarkerDate, regexp.MustCompile(`_(\d{8})$`)},
	{MarkerStatus, regexp.MustCompile(`_(draft|final|approved|review|wip)$`)},
}

// ExtractMarker looks for an explicit version marker at the end of a filename
// stem (no extension). Returns nil when the name carries no marker.
func ExtractMarker(stem string) *Marker {
	for _, p := range markerPatterns {
		m := p.re.FindStringSubmatch(stem)
		if m == nil {
			continue
		}
		marker := &Marker{
			Kind:  p.kind,
			Value: m[1],
			Base:  strings.TrimSpace(stem[:len(stem)-len(m[0])]),
		}
		switch p.kind {
		case MarkerNumeric, MarkerCopy:
			marker.Number, _ = strconv.Atoi(m[1])
		case MarkerDate:
			layout := "2006-01-02"
			if len(m[1]) == 8 {
				layout = "20060102"
			}
			if t, err := time.Parse(layout, m[1]); err == nil {
				utc := t.UTC()
				marker.Date = &utc
			} else {
				// Eight digits that are not a real date are not a marker.
				continue
			}
		}
		if marker.Base == "" {
			continue
		}
		return marker
	}
	return nil
}

// StatusRank returns the lifecycle order of a status label, 0 when unknown.
func StatusRank(label string) int {
	return statusRank[strings.ToLower(label)]
}

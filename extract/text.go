package extract

import (
	"regexp"
	"strings"

	"github.com/damianoneill/nettables/common"
	"github.com/damianoneill/nettables/schema"
)

// DefaultDelimiter separates label and value in "label: value" output.
const DefaultDelimiter = ":"

// Lines splits command output into lines.
func Lines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(strings.TrimRight(text, "\n"), "\n")
}

func blank(line string) bool {
	return strings.TrimSpace(line) == ""
}

// Block returns the lines following the first line containing title, up to the next
// blank line. Blank lines directly beneath the title are skipped. An empty title
// returns every line; a title that never appears returns nil.
func Block(lines []string, title string) []string {
	if title == "" {
		return lines
	}
	start := -1
	for i, l := range lines {
		if strings.Contains(l, title) {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return nil
	}
	for start < len(lines) && blank(lines[start]) {
		start++
	}
	end := start
	for end < len(lines) && !blank(lines[end]) {
		end++
	}
	return lines[start:end]
}

// Paragraphs splits lines into blocks separated by blank lines.
func Paragraphs(lines []string) [][]string {
	var out [][]string
	var cur []string
	for _, l := range lines {
		if blank(l) {
			if len(cur) > 0 {
				out = append(out, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, l)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// Items splits lines into records. A "*" item yields blank-line separated blocks;
// otherwise each line matching pattern starts a new record, and lines before the
// first match are discarded.
func Items(lines []string, item string, pattern *regexp.Regexp) [][]string {
	if item == "*" {
		return Paragraphs(lines)
	}
	if pattern == nil {
		if len(lines) == 0 {
			return nil
		}
		return [][]string{lines}
	}
	var out [][]string
	for _, l := range lines {
		if pattern.MatchString(l) {
			out = append(out, []string{l})
			continue
		}
		if n := len(out); n > 0 {
			out[n-1] = append(out[n-1], l)
		}
	}
	return out
}

// Regex scans lines for the first match of re. With no capture group the whole match
// is returned, with one group the group text, with several the group texts in order.
func Regex(lines []string, re *regexp.Regexp) ([]string, bool) {
	for _, l := range lines {
		m := re.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		if len(m) == 1 {
			return m, true
		}
		groups := make([]string, len(m)-1)
		for i, g := range m[1:] {
			groups[i] = strings.TrimSpace(g)
		}
		return groups, true
	}
	return nil, false
}

// Exists returns true if substr appears anywhere in lines.
func Exists(lines []string, substr string) bool {
	for _, l := range lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

// Delimited maps "label<delimiter>value" lines; the first occurrence of a label wins.
func Delimited(lines []string, delimiter string) map[string]string {
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	out := map[string]string{}
	for _, l := range lines {
		i := strings.Index(l, delimiter)
		if i < 0 {
			continue
		}
		label := strings.TrimSpace(l[:i])
		if _, seen := out[label]; seen || label == "" {
			continue
		}
		out[label] = strings.TrimSpace(l[i+len(delimiter):])
	}
	return out
}

// TextRecord is one record of command output.
type TextRecord struct {
	Lines []string
	// Row holds the cells of a columnar record, keyed by header.
	Row       map[string]string
	Delimiter string

	labels map[string]string
}

// NewTextRecord creates a record over lines.
func NewTextRecord(lines []string, delimiter string) *TextRecord {
	return &TextRecord{Lines: lines, Delimiter: delimiter}
}

// Text returns the record joined into a single string.
func (r *TextRecord) Text() string {
	return strings.Join(r.Lines, "\n")
}

// Value resolves a text field against the record.
func (r *TextRecord) Value(f *schema.FieldSpec) (interface{}, error) {
	switch f.Source {
	case schema.RegexSource:
		m, ok := Regex(r.Lines, f.Pattern())
		if !ok {
			return Missing(f), nil
		}
		if f.Type == schema.BoolType {
			return true, nil
		}
		if len(m) == 1 {
			return Coerce(m[0], f)
		}
		return coerceAll(m, f)

	case schema.ExistsSource:
		return Exists(r.Lines, f.Locator), nil

	case schema.ColumnSource:
		cell, ok := r.Row[f.Locator]
		if !ok || cell == "" {
			return Missing(f), nil
		}
		return Coerce(cell, f)

	case schema.LabelSource:
		if r.labels == nil {
			r.labels = Delimited(r.Lines, r.Delimiter)
		}
		v, ok := r.labels[f.Locator]
		if !ok {
			return Missing(f), nil
		}
		return Coerce(v, f)

	default:
		return nil, &common.ExtractionError{Locator: f.Locator, Reason: f.Source.String() + " fields cannot be read from command output"}
	}
}

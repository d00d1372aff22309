package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/damianoneill/nettables/common"
)

// Header cells are runs of words separated by single spaces.
var headerCellRe = regexp.MustCompile(`\S+(?: \S+)*`)

var ruleRe = regexp.MustCompile(`^[\s\-=+|]+$`)

type column struct {
	header string
	start  int
}

// ParseColumns finds the header row naming every header and returns one row per data
// line beneath it, keyed by header. Rows end at the first blank line after the data.
// Cells are split on whitespace when the line holds exactly one token per header
// cell, otherwise they are cut at the header positions.
func ParseColumns(lines []string, headers []string) ([]map[string]string, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	at, cols, bounds := -1, []column(nil), []int(nil)
	for i, l := range lines {
		if c, b, ok := locateHeaders(l, headers); ok {
			at, cols, bounds = i, c, b
			break
		}
	}
	if at < 0 {
		return nil, &common.ExtractionError{Locator: strings.Join(headers, ", "), Reason: "header row not found"}
	}

	var rows []map[string]string
	started := false
	for _, l := range lines[at+1:] {
		if blank(l) {
			if started {
				break
			}
			continue
		}
		if ruleRe.MatchString(l) {
			continue
		}
		started = true
		rows = append(rows, cells(l, cols, bounds))
	}
	return rows, nil
}

// locateHeaders matches the declared headers against the cells of a candidate header line.
// It returns the declared columns and every cell start on the line, so undeclared
// columns still bound their neighbours.
func locateHeaders(line string, headers []string) ([]column, []int, bool) {
	spans := headerCellRe.FindAllStringIndex(line, -1)
	if len(spans) == 0 {
		return nil, nil, false
	}
	starts := map[int]bool{}
	for _, s := range spans {
		starts[s[0]] = true
	}

	claimed := map[int]bool{}
	cols := make([]column, 0, len(headers))
	for _, h := range headers {
		pos := -1
		for _, s := range spans {
			if line[s[0]:s[1]] == h && !claimed[s[0]] {
				pos = s[0]
				break
			}
		}
		if pos < 0 {
			pos = wordIndex(line, h, claimed)
		}
		if pos < 0 {
			return nil, nil, false
		}
		claimed[pos] = true
		starts[pos] = true
		cols = append(cols, column{header: h, start: pos})
	}

	bounds := make([]int, 0, len(starts))
	for s := range starts {
		bounds = append(bounds, s)
	}
	sort.Ints(bounds)
	return cols, bounds, true
}

// wordIndex finds h in line on word boundaries, skipping positions already claimed.
func wordIndex(line, h string, claimed map[int]bool) int {
	for off := 0; off < len(line); {
		i := strings.Index(line[off:], h)
		if i < 0 {
			return -1
		}
		i += off
		end := i + len(h)
		if !claimed[i] && (i == 0 || line[i-1] == ' ') && (end == len(line) || line[end] == ' ') {
			return i
		}
		off = i + 1
	}
	return -1
}

func cells(line string, cols []column, bounds []int) map[string]string {
	row := make(map[string]string, len(cols))
	if tokens := strings.Fields(line); len(tokens) == len(bounds) {
		for _, c := range cols {
			row[c.header] = tokens[sort.SearchInts(bounds, c.start)]
		}
		return row
	}
	for _, c := range cols {
		i := sort.SearchInts(bounds, c.start)
		end := len(line)
		if i+1 < len(bounds) && bounds[i+1] < end {
			end = bounds[i+1]
		}
		if c.start >= len(line) {
			row[c.header] = ""
			continue
		}
		row[c.header] = strings.TrimSpace(line[c.start:end])
	}
	return row
}

// Package manifest turns GDELT master list documents into work items.
package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/yourorg/gdelt-ingest/internal/types"
)

var (
	// ErrMalformedRow marks a line that is not "{checksum} {size} {url}".
	ErrMalformedRow = errors.New("manifest row does not have 3 fields")
	// ErrUnmatchedURL marks a URL without the archive id/type pattern.
	ErrUnmatchedURL = errors.New("url does not match archive pattern")
)

// urlRe extracts the 14-digit id and the type marker. Translation archives
// carry an extra ".translation" segment.
var urlRe = regexp.MustCompile(`gdeltv2/(\d{14})(?:\.translation)?\.(\w+)\.CSV`)

// graphMarker identifies Global Knowledge Graph archives, which this
// pipeline does not ingest.
const graphMarker = "gkg"

// Result is the outcome of parsing one or more manifest documents.
type Result struct {
	Items     []types.WorkItem
	Rows      int
	Malformed int
	Graph     int
	Unmatched int
}

// ParseURL extracts a WorkItem from an archive URL.
func ParseURL(u string) (types.WorkItem, error) {
	m := urlRe.FindStringSubmatch(u)
	if m == nil {
		return types.WorkItem{}, fmt.Errorf("%q: %w", u, ErrUnmatchedURL)
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return types.WorkItem{}, fmt.Errorf("%q: %w", u, ErrUnmatchedURL)
	}
	if _, err := types.ParseID(id); err != nil {
		return types.WorkItem{}, fmt.Errorf("%q: %w: %v", u, ErrUnmatchedURL, err)
	}
	kind := types.KindMention
	if m[2] == "export" {
		kind = types.KindEvent
	}
	return types.WorkItem{ID: id, URL: u, Kind: kind}, nil
}

// ParseLine parses one manifest line. A nil item with a nil error means the
// line is a graph archive and was skipped on purpose.
func ParseLine(line string) (*types.WorkItem, error) {
	if strings.Contains(line, graphMarker) {
		return nil, nil
	}
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return nil, fmt.Errorf("%w: got %d", ErrMalformedRow, len(fields))
	}
	it, err := ParseURL(fields[2])
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// Parse reads a newline-delimited manifest document. Bad lines are logged
// and skipped; parsing never fails as a whole.
func Parse(text string, logger *zap.Logger) Result {
	if logger == nil {
		logger = zap.NewNop()
	}
	var res Result
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 1024), 1024*1024)
	i := 0
	for sc.Scan() {
		line := sc.Text()
		i++
		if strings.TrimSpace(line) == "" {
			continue
		}
		res.Rows++
		it, err := ParseLine(line)
		switch {
		case errors.Is(err, ErrMalformedRow):
			res.Malformed++
			logger.Warn("manifest row doesn't contain 3 elements", zap.Int("row", i), zap.String("text", line))
		case err != nil:
			res.Unmatched++
			logger.Warn("manifest url doesn't match archive pattern", zap.Int("row", i), zap.Error(err))
		case it == nil:
			res.Graph++
			logger.Debug("ignoring gkg url", zap.Int("row", i))
		default:
			res.Items = append(res.Items, *it)
		}
	}
	logger.Debug("parsed manifest",
		zap.Int("row_count", res.Rows),
		zap.Int("items", len(res.Items)),
		zap.Int("malformed", res.Malformed),
		zap.Int("gkg", res.Graph),
		zap.Int("unmatched", res.Unmatched))
	return res
}

// Merge combines results in order, collapsing repeated URLs.
func Merge(results ...Result) Result {
	var out Result
	seen := make(map[string]struct{})
	for _, r := range results {
		out.Rows += r.Rows
		out.Malformed += r.Malformed
		out.Graph += r.Graph
		out.Unmatched += r.Unmatched
		for _, it := range r.Items {
			if _, ok := seen[it.URL]; ok {
				continue
			}
			seen[it.URL] = struct{}{}
			out.Items = append(out.Items, it)
		}
	}
	return out
}

package exposition

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/cephscope/cephscope/pkg/types"
)

// CommentPrefix marks HELP/TYPE and free-form comment lines.
const CommentPrefix = "#"

var (
	// ErrComment is returned for comment lines. Not a failure.
	ErrComment = errors.New("exposition: comment line")

	// ErrMalformed is returned for lines that cannot be turned into an
	// observation. The line is skipped and the rest of the payload proceeds.
	ErrMalformed = errors.New("exposition: malformed line")
)

// labelPair matches key="value". Escaped quotes inside values are not
// supported by the exporters we scrape.
var labelPair = regexp.MustCompile(`([A-Za-z0-9_]+)="([^"]*)"`)

// ParseLine parses one exposition line captured at the given time.
func ParseLine(line string, at time.Time) (types.Observation, error) {
	line = strings.TrimRightFunc(line, unicode.IsSpace)
	if strings.HasPrefix(strings.TrimLeftFunc(line, unicode.IsSpace), CommentPrefix) {
		return types.Observation{}, ErrComment
	}

	cut := strings.LastIndexFunc(line, unicode.IsSpace)
	if cut < 0 {
		return types.Observation{}, fmt.Errorf("%w: no value separator", ErrMalformed)
	}
	_, width := utf8.DecodeRuneInString(line[cut:])
	head, valueText := line[:cut], line[cut+width:]

	value, err := strconv.ParseFloat(valueText, 64)
	if err != nil {
		return types.Observation{}, fmt.Errorf("%w: value %q: %v", ErrMalformed, valueText, err)
	}

	name, labelText, _ := strings.Cut(head, "{")
	obs := types.Observation{
		Metric:     strings.TrimSpace(name),
		Labels:     ParseLabels(strings.TrimSuffix(strings.TrimSpace(labelText), "}")),
		Value:      value,
		CapturedAt: at,
	}
	return obs, nil
}

// ParseLabels scans text for key="value" pairs in order of appearance.
// Later duplicates overwrite earlier ones. Returns nil when nothing matches.
func ParseLabels(text string) types.Labels {
	if text == "" {
		return nil
	}
	var ls types.Labels
	for _, m := range labelPair.FindAllStringSubmatch(text, -1) {
		ls.Set(m[1], m[2])
	}
	return ls
}

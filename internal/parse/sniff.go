package parse

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// ErrNoDelimiter is returned when no candidate delimiter yields a single row
// with the minimum expected field count.
var ErrNoDelimiter = errors.New("no plausible field delimiter found")

// minMeaningfulChars is the emptiness heuristic: files with fewer meaningful
// characters than this cannot hold even one truncated row.
const minMeaningfulChars = 10

// sampleLines bounds how much of a file delimiter detection inspects.
const sampleLines = 10

// DefaultSemicolonBias is the multiplier favoring semicolons, the dominant
// delimiter convention for this log family.
const DefaultSemicolonBias = 3

// Sniff is the result of inspecting a downloaded log file's raw bytes.
type Sniff struct {
	Text      string
	Delimiter byte
	Encoding  string
	Empty     bool
}

// SniffContent decodes raw bytes and detects the field delimiter. Empty or
// content-free files return Empty=true with a nil error; a non-empty file
// with no detectable row structure returns ErrNoDelimiter.
func SniffContent(raw []byte, semicolonBias int) (Sniff, error) {
	if semicolonBias <= 0 {
		semicolonBias = DefaultSemicolonBias
	}

	text, encoding, err := decode(raw)
	if err != nil {
		return Sniff{}, err
	}

	if isEmptyContent(text) {
		return Sniff{Text: text, Encoding: encoding, Empty: true}, nil
	}

	delim, ok := detectDelimiter(text, semicolonBias)
	if !ok {
		return Sniff{Text: text, Encoding: encoding}, ErrNoDelimiter
	}

	return Sniff{Text: text, Delimiter: delim, Encoding: encoding}, nil
}

// decode attempts UTF-8 first and falls back to Latin-1, which maps every
// byte sequence and so cannot fail.
func decode(raw []byte) (string, string, error) {
	if utf8.Valid(raw) {
		return string(raw), "utf-8", nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return "", "", fmt.Errorf("decoding latin-1: %w", err)
	}
	return string(decoded), "latin-1", nil
}

// isEmptyContent applies the three-step emptiness check: byte length, trimmed
// length, and the minimum-plausible-row heuristic.
func isEmptyContent(text string) bool {
	if len(text) == 0 {
		return true
	}
	trimmed := strings.TrimSpace(text)
	if len(trimmed) == 0 {
		return true
	}

	meaningful := 0
	for _, r := range trimmed {
		if r != ' ' && r != '\t' && r != '\r' && r != '\n' {
			meaningful++
		}
	}
	return meaningful < minMeaningfulChars
}

// detectDelimiter scores semicolon, comma and tab against a sample of lines
// and returns the winner, provided it produces at least one row with three
// or more fields.
func detectDelimiter(text string, semicolonBias int) (byte, bool) {
	scores := map[byte]int{';': 0, ',': 0, '\t': 0}

	// Raw occurrence counts with the semicolon bias multiplier.
	scores[';'] = strings.Count(text, ";") * semicolonBias
	scores[','] = strings.Count(text, ",")
	scores['\t'] = strings.Count(text, "\t")

	// Doubled or tripled semicolons indicate empty fields in a
	// semicolon-delimited row, a strong signal for this log family.
	if strings.Contains(text, ";;") {
		scores[';'] += 50
	}
	// Quoted comma sequences indicate a genuine comma-delimited file.
	if strings.Count(text, `","`) > 5 {
		scores[','] += 20
	}

	// Line analysis: a delimiter that consistently splits sample lines into
	// many fields outranks one that only appears in free text.
	lines := sample(text)
	for _, line := range lines {
		for delim := range scores {
			if n := strings.Count(line, string(delim)); n > 0 {
				scores[delim] += n + 1
			}
		}
	}

	best := byte(0)
	bestScore := 0
	for _, delim := range []byte{';', ',', '\t'} {
		if scores[delim] > bestScore {
			best = delim
			bestScore = scores[delim]
		}
	}
	if best == 0 {
		return 0, false
	}

	// The winner must produce at least one plausible row; otherwise try the
	// runners-up before giving up entirely.
	if hasPlausibleRow(lines, best) {
		return best, true
	}
	for _, delim := range []byte{';', ',', '\t'} {
		if delim != best && scores[delim] > 0 && hasPlausibleRow(lines, delim) {
			return delim, true
		}
	}
	return 0, false
}

func hasPlausibleRow(lines []string, delim byte) bool {
	for _, line := range lines {
		if len(strings.Split(line, string(delim))) >= minRowFields {
			return true
		}
	}
	return false
}

func sample(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == sampleLines {
			break
		}
	}
	return lines
}

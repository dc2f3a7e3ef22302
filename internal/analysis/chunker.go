package analysis

import (
	"strings"
	"unicode/utf8"
)

// separators are tried in order: paragraph, line, sentence, word.
var separators = []string{"\n\n", "\n", ". ", " "}

// Splitter cuts text into overlapping chunks of at most Size characters,
// preferring the coarsest boundary that fits.
type Splitter struct {
	Size    int
	Overlap int
}

// NewSplitter returns a splitter whose overlap is a fifth of size.
func NewSplitter(size int) Splitter {
	if size <= 0 {
		size = 1000
	}
	return Splitter{Size: size, Overlap: size / 5}
}

// Split returns the chunks of text in order.
func (s Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return s.split(text, separators)
}

func (s Splitter) split(text string, seps []string) []string {
	if runeLen(text) <= s.Size {
		return []string{text}
	}

	sep := ""
	var rest []string
	for i, candidate := range seps {
		if strings.Contains(text, candidate) {
			sep, rest = candidate, seps[i+1:]
			break
		}
	}
	if sep == "" {
		return s.windows(text)
	}

	var (
		out     []string
		pending []string
	)
	flush := func() {
		if len(pending) > 0 {
			out = append(out, s.merge(pending)...)
			pending = nil
		}
	}
	for _, part := range strings.SplitAfter(text, sep) {
		if part == "" {
			continue
		}
		if runeLen(part) > s.Size {
			flush()
			out = append(out, s.split(part, rest)...)
			continue
		}
		pending = append(pending, part)
	}
	flush()
	return out
}

// merge packs consecutive parts into chunks, carrying up to Overlap
// characters of trailing parts into the next chunk.
func (s Splitter) merge(parts []string) []string {
	var (
		out    []string
		window []string
		total  int
	)
	emit := func() {
		if chunk := strings.TrimSpace(strings.Join(window, "")); chunk != "" {
			out = append(out, chunk)
		}
	}
	for _, part := range parts {
		n := runeLen(part)
		if total+n > s.Size && len(window) > 0 {
			emit()
			for len(window) > 0 && (total > s.Overlap || total+n > s.Size) {
				total -= runeLen(window[0])
				window = window[1:]
			}
		}
		window = append(window, part)
		total += n
	}
	if len(window) > 0 {
		emit()
	}
	return out
}

// windows cuts text without any separator into fixed windows.
func (s Splitter) windows(text string) []string {
	r := []rune(text)
	step := s.Size - s.Overlap
	if step <= 0 {
		step = s.Size
	}
	var out []string
	for start := 0; start < len(r); start += step {
		end := start + s.Size
		if end > len(r) {
			end = len(r)
		}
		out = append(out, string(r[start:end]))
		if end == len(r) {
			break
		}
	}
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

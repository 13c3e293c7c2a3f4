package ingest

import (
	"strings"
	"unicode/utf8"
)

// Splitter defaults.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 150
)

// DefaultSeparators are tried in order: paragraphs, lines, words, characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter cuts text into overlapping chunks, preferring the coarsest
// separator that keeps chunks under Size. Lengths are counted in runes.
type Splitter struct {
	Size       int
	Overlap    int
	Separators []string
}

// NewSplitter returns a splitter with the default separators.
func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &Splitter{Size: size, Overlap: overlap, Separators: DefaultSeparators}
}

// Split returns the chunks of text in order.
func (s *Splitter) Split(text string) []string {
	seps := s.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}
	return s.split(text, seps)
}

func (s *Splitter) split(text string, seps []string) []string {
	sep := seps[len(seps)-1]
	var rest []string
	for i, candidate := range seps {
		if candidate == "" || strings.Contains(text, candidate) {
			sep = candidate
			rest = seps[i+1:]
			break
		}
	}

	var out, good []string
	for _, piece := range splitOn(text, sep) {
		if runeLen(piece) < s.Size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good, sep)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, piece)
		} else {
			out = append(out, s.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, s.merge(good, sep)...)
	}
	return out
}

// merge packs pieces into chunks up to Size, carrying up to Overlap runes of
// trailing pieces into the next chunk.
func (s *Splitter) merge(pieces []string, sep string) []string {
	sepLen := runeLen(sep)
	var (
		out     []string
		current []string
		total   int
	)
	joinLen := func() int {
		if len(current) > 0 {
			return sepLen
		}
		return 0
	}
	for _, p := range pieces {
		n := runeLen(p)
		if total+n+joinLen() > s.Size && len(current) > 0 {
			if chunk := strings.TrimSpace(strings.Join(current, sep)); chunk != "" {
				out = append(out, chunk)
			}
			for len(current) > 0 && (total > s.Overlap || total+n+joinLen() > s.Size) {
				drop := runeLen(current[0])
				if len(current) > 1 {
					drop += sepLen
				}
				total -= drop
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
		if len(current) > 1 {
			total += sepLen
		}
	}
	if chunk := strings.TrimSpace(strings.Join(current, sep)); chunk != "" {
		out = append(out, chunk)
	}
	return out
}

func splitOn(text, sep string) []string {
	if sep != "" {
		return strings.Split(text, sep)
	}
	out := make([]string, 0, len(text))
	for _, r := range text {
		out = append(out, string(r))
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

package prompt

import (
	"strings"

	"github.com/becomeliminal/recall/core"
)

// Stage identifies a degradation level.
type Stage int

const (
	StageFull Stage = iota + 1
	StageShortChunks
	StageTopChunk
	StageRecentTurns
	StageTruncatedMessage
)

func (s Stage) String() string {
	switch s {
	case StageFull:
		return "full"
	case StageShortChunks:
		return "short_chunks"
	case StageTopChunk:
		return "top_chunk"
	case StageRecentTurns:
		return "recent_turns"
	case StageTruncatedMessage:
		return "truncated_message"
	default:
		return "unknown"
	}
}

// Limits applied by the stages.
const (
	ChunkWords   = 80
	KeepChunks   = 1
	KeepTurns    = 2
	MessageWords = 150
)

// Step is one degradation: a pure transform of the previous stage's input.
type Step struct {
	Stage Stage
	Apply func(Input) Input
}

// Steps run in order after the full prompt, each on the previous output.
var Steps = []Step{
	{StageShortChunks, ShortenChunks},
	{StageTopChunk, TopChunk},
	{StageRecentTurns, RecentTurns},
	{StageTruncatedMessage, TruncateMessage},
}

// ShortenChunks cuts every chunk to its first ChunkWords words, marked with
// " ..." when cut.
func ShortenChunks(in Input) Input {
	if len(in.Chunks) == 0 {
		return in
	}
	chunks := make([]string, len(in.Chunks))
	for i, c := range in.Chunks {
		chunks[i] = truncateWords(c, ChunkWords, " ...")
	}
	in.Chunks = chunks
	return in
}

// TopChunk keeps only the best-ranked chunk.
func TopChunk(in Input) Input {
	if len(in.Chunks) > KeepChunks {
		in.Chunks = in.Chunks[:KeepChunks]
	}
	return in
}

// RecentTurns keeps only the last KeepTurns short-term entries.
func RecentTurns(in Input) Input {
	if len(in.ShortTerm) > KeepTurns {
		in.ShortTerm = append([]core.Entry(nil), in.ShortTerm[len(in.ShortTerm)-KeepTurns:]...)
	}
	return in
}

// TruncateMessage cuts the user message to its first MessageWords words.
func TruncateMessage(in Input) Input {
	in.UserMessage = truncateWords(in.UserMessage, MessageWords, "...")
	return in
}

// truncateWords keeps the first n words of s followed by marker. Text is
// returned unchanged when it has at most n words, or when the cut version
// would not be shorter.
func truncateWords(s string, n int, marker string) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return s
	}
	cut := strings.Join(words[:n], " ") + marker
	if len(cut) >= len(s) {
		return s
	}
	return cut
}

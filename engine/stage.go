package engine

// Stage is a point in the life of a chat turn.
type Stage int

const (
	StageReceived Stage = iota
	StageStoredUserMsg
	StageSummaryChecked
	StageMemoryLoaded
	StageRetrieved
	StagePromptBuilt
	StageGenerating
	StageStoredReply
	StageDone
)

var stageNames = [...]string{
	StageReceived:       "received",
	StageStoredUserMsg:  "stored_user_msg",
	StageSummaryChecked: "summary_checked",
	StageMemoryLoaded:   "memory_loaded",
	StageRetrieved:      "retrieved",
	StagePromptBuilt:    "prompt_built",
	StageGenerating:     "generating",
	StageStoredReply:    "stored_reply",
	StageDone:           "done",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

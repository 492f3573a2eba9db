package pipeline

type Stage string

const (
	StageRetrieve Stage = "retrieve"
	StageDecide   Stage = "decide"
	StageGenerate Stage = "generate"
	StageFallback Stage = "fallback"
	StagePersist  Stage = "persist"
	StageDone     Stage = "done"
)

// State is owned by a single run and never shared across sessions.
type State struct {
	SessionKey string
	Input      string

	// Set by Retrieve
	Documents  []string
	Context    string
	Confidence float64
	Summary    string

	// Set by Decide
	UseRetrieval bool

	// Set by Generate or Fallback
	Output string

	Route   Stage
	Visited []Stage
	Errors  []error
}

func NewState(sessionKey, input string) *State {
	return &State{SessionKey: sessionKey, Input: input}
}

func (s *State) fail(err error) {
	s.Errors = append(s.Errors, err)
}

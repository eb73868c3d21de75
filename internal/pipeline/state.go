package pipeline

// State is the position of a run in the pipeline state machine.
type State int

const (
	StateIdle State = iota
	StateAcquiring
	StateRewriting
	StateTranslating
	StateNarrating
	StateCompleted
	StateFailed
)

// String returns the lower-case state name used in logs, metrics and the API.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateRewriting:
		return "rewriting"
	case StateTranslating:
		return "translating"
	case StateNarrating:
		return "narrating"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stage records which transformation last produced a [Document]'s text.
type Stage int

const (
	StageAcquired Stage = iota
	StageRewritten
	StageTranslated
	StageFinal
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageAcquired:
		return "acquired"
	case StageRewritten:
		return "rewritten"
	case StageTranslated:
		return "translated"
	case StageFinal:
		return "final"
	default:
		return "unknown"
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Document is the text flowing through one run. It is owned by that run.
type Document struct {
	Text  string `json:"text"`
	Stage Stage  `json:"stage"`
}

// advance replaces the text and moves the document to stage.
func (d *Document) advance(text string, stage Stage) {
	d.Text = text
	d.Stage = stage
}

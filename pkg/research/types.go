package research

import (
	"time"

	"github.com/mikeboe/deep-researcher/pkg/research/tools"
)

// Config holds the pipeline limits and per-call timeouts.
type Config struct {
	MaxResults      int // evidence items per sub-question
	SearchWorkers   int
	MaxSubQuestions int // cap applied to the planner output
	MaxSections     int // latency cap for the section writer
	EvidenceChars   int // serialized evidence handed to each section call
	NotesChars      int // joined section text handed to synthesis
	SectionTokens   int
	ReportTokens    int

	SearchTimeout  time.Duration
	SectionTimeout time.Duration
	LLMTimeout     time.Duration
	StreamTimeout  time.Duration
	ChatTimeout    time.Duration
}

// DefaultConfig returns the limits the pipeline was tuned with.
func DefaultConfig() Config {
	return Config{
		MaxResults:      3,
		SearchWorkers:   4,
		MaxSubQuestions: 6,
		MaxSections:     3,
		EvidenceChars:   1200,
		NotesChars:      3000,
		SectionTokens:   600,
		ReportTokens:    900,
		SearchTimeout:   10 * time.Second,
		SectionTimeout:  60 * time.Second,
		LLMTimeout:      120 * time.Second,
		StreamTimeout:   300 * time.Second,
		ChatTimeout:     30 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxResults <= 0 {
		c.MaxResults = d.MaxResults
	}
	if c.SearchWorkers <= 0 {
		c.SearchWorkers = d.SearchWorkers
	}
	if c.MaxSubQuestions <= 0 {
		c.MaxSubQuestions = d.MaxSubQuestions
	}
	if c.MaxSections <= 0 {
		c.MaxSections = d.MaxSections
	}
	if c.EvidenceChars <= 0 {
		c.EvidenceChars = d.EvidenceChars
	}
	if c.NotesChars <= 0 {
		c.NotesChars = d.NotesChars
	}
	if c.SectionTokens <= 0 {
		c.SectionTokens = d.SectionTokens
	}
	if c.ReportTokens <= 0 {
		c.ReportTokens = d.ReportTokens
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = d.SearchTimeout
	}
	if c.SectionTimeout <= 0 {
		c.SectionTimeout = d.SectionTimeout
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = d.LLMTimeout
	}
	if c.StreamTimeout <= 0 {
		c.StreamTimeout = d.StreamTimeout
	}
	if c.ChatTimeout <= 0 {
		c.ChatTimeout = d.ChatTimeout
	}
	return c
}

// Intent is the classifier's verdict for a query. Replies outside the
// three known values are kept as-is and handled as normal chat.
type Intent string

const (
	IntentPlan      Intent = "PLAN"
	IntentCalculate Intent = "CALCULATE"
	IntentNormal    Intent = "NORMAL"
)

// Evidence is one search hit attached to a sub-question.
type Evidence = tools.SearchResult

// QuestionEvidence pairs a sub-question with its evidence.
type QuestionEvidence struct {
	Question string     `json:"question"`
	Evidence []Evidence `json:"evidence"`
}

// SearchResults keeps one entry per distinct sub-question, in submission
// order.
type SearchResults []QuestionEvidence

// Get returns the evidence recorded for question.
func (r SearchResults) Get(question string) ([]Evidence, bool) {
	for _, qe := range r {
		if qe.Question == question {
			return qe.Evidence, true
		}
	}
	return nil, false
}

// Plan is the planner output. Error carries an error marker the model put
// in its reply.
type Plan struct {
	SubQuestions []string `json:"sub_questions"`
	Error        string   `json:"error,omitempty"`
}

// Result is what Run hands back to its caller.
type Result struct {
	Intent       Intent   `json:"intent"`
	Report       string   `json:"report"`
	Sources      []string `json:"sources"`
	SubQuestions []string `json:"sub_questions"`
}

// ReportResult is what Report hands back to its caller.
type ReportResult struct {
	Report       string   `json:"report"`
	Sources      []string `json:"sources"`
	SubQuestions []string `json:"sub_questions"`
}

// Mode selects how many reviewed questions feed a report.
type Mode string

const (
	ModeDeep Mode = "deep"
	ModeFast Mode = "fast"
)

// QuestionLimit returns how many questions a report in this mode uses.
func (m Mode) QuestionLimit() int {
	if m == ModeFast {
		return 2
	}
	return 4
}

// Stage names a step of the pipeline for progress events.
type Stage string

const (
	StagePlanning     Stage = "planning"
	StageSearching    Stage = "searching"
	StageWriting      Stage = "writing"
	StageSynthesizing Stage = "synthesizing"
	StageDone         Stage = "done"
)

// Event is a progress notification emitted at stage transitions.
type Event struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
	Current int    `json:"current,omitempty"`
	Total   int    `json:"total,omitempty"`
}

func (e Event) String() string {
	return e.Message
}

// ProgressFunc receives progress events. A nil ProgressFunc is allowed
// wherever one is accepted.
type ProgressFunc func(Event)

func (f ProgressFunc) emit(e Event) {
	if f != nil {
		f(e)
	}
}

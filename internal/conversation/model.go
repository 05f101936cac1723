package conversation

import (
	"time"

	"github.com/google/uuid"
)

// State identifies where a conversation is in its lifecycle. Transitions
// are linear (collecting -> analyzing -> complete); the only way back is
// a full reset.
type State string

const (
	StateCollecting State = "collecting"
	StateAnalyzing  State = "analyzing"
	StateComplete   State = "complete"
)

type Author string

const (
	AuthorUser      Author = "user"
	AuthorAssistant Author = "assistant"
)

type Kind string

const (
	KindPlain    Kind = "text"
	KindAnalysis Kind = "analysis"
)

// Source records whether an assistant reply came from the remote model
// or the local fallback list.
type Source string

const (
	SourceRemote   Source = "remote"
	SourceFallback Source = "fallback"
)

// Severity is the coarse urgency tier attached to an analysis.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AnalysisResult is the structured output of a final symptom analysis.
// Immutable once attached to a message.
type AnalysisResult struct {
	Diagnosis       string   `json:"diagnosis"`
	Severity        Severity `json:"severity"`
	Confidence      int      `json:"confidence"`
	Recommendation  string   `json:"recommendation"`
	RequiresDoctor  bool     `json:"requiresDoctor"`
	AdditionalNotes string   `json:"additionalNotes,omitempty"`
}

type Message struct {
	ID        string          `json:"id"`
	Text      string          `json:"text"`
	Author    Author          `json:"author"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      Kind            `json:"type"`
	Analysis  *AnalysisResult `json:"analysis,omitempty"`
	Source    Source          `json:"source,omitempty"`
}

type Rating struct {
	Stars   int    `json:"stars"`
	Comment string `json:"comment,omitempty"`
}

const TypeSymptomCheck = "symptom_check"

// Record is the persisted form of a completed conversation. Append-only
// after creation except the rating fields, which may be overwritten.
type Record struct {
	ID            uuid.UUID       `json:"id"`
	OwnerID       uuid.UUID       `json:"owner_id"`
	Type          string          `json:"conversation_type"`
	Title         string          `json:"title"`
	Messages      []Message       `json:"messages"`
	FinalAnalysis *AnalysisResult `json:"final_diagnosis,omitempty"`
	Severity      string          `json:"severity"`
	Rating        *int            `json:"rating,omitempty"`
	RatingComment *string         `json:"rating_comment,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// storedSeverity maps the analysis tier onto the column values the
// history views filter on.
func storedSeverity(s Severity) string {
	switch s {
	case SeverityHigh:
		return "severe"
	case SeverityMedium:
		return "moderate"
	default:
		return "mild"
	}
}

package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Analyzer defines the interface for the AI collaborator consumed by the
// state machine. We declare it here to decouple from the specific model
// client implementation.
type Analyzer interface {
	// ChatReply returns a short empathetic acknowledgment plus one
	// clarifying follow-up question for a single symptom statement.
	ChatReply(ctx context.Context, priorSymptoms []string, statement string) (string, error)
	// Analyze produces the final structured result for the accumulated
	// symptom text.
	Analyze(ctx context.Context, symptomText string, hint Severity) (*AnalysisResult, error)
	// GenerateTitle summarizes a full transcript into a short title.
	GenerateTitle(ctx context.Context, transcript string) (string, error)
}

// Repository persists conversation records.
type Repository interface {
	Insert(ctx context.Context, rec *Record) error
	GetByID(ctx context.Context, id, owner uuid.UUID) (*Record, error)
	ListByOwner(ctx context.Context, owner uuid.UUID) ([]Record, error)
	UpdateRating(ctx context.Context, id, owner uuid.UUID, stars int, comment string) error
}

var (
	ErrBusy       = errors.New("another call is in flight")
	ErrEmptyInput = errors.New("statement is empty")
	ErrNoSymptoms = errors.New("no symptoms collected yet")
	ErrWrongState = errors.New("operation not allowed in current state")
	ErrNotSaved   = errors.New("conversation has not been saved")
	ErrBadRating  = errors.New("rating must be between 1 and 5")
)

const (
	greetingText = "Hello! I'm your AI Health Assistant from HomeDoc. " +
		"Please describe your symptoms and I'll help you understand what might be going on."
	analyzingText      = "Analyzing your symptoms with HomeDoc AI..."
	analysisFailedText = "Sorry, I encountered an error while analysing your symptoms. " +
		"Please try again or consult a healthcare provider."
	defaultTitle = "Health Consultation"
)

// fallbackReplies are the generic clarifying prompts used when the
// conversational call fails. Order matters: selection is round-robin.
var fallbackReplies = []string{
	"I understand. Can you tell me when these symptoms first started?",
	"Thank you for sharing. How long have you been experiencing this?",
	"I see. Does anything make these symptoms better or worse?",
	"Got it. Are there any other symptoms you've noticed?",
	"Thanks for the details. Is the symptom constant or does it come and go?",
	"I hear you. Have you noticed any patterns with food, stress, or activity?",
}

// fallbackReply picks the reply for the i-th fallback. Pure: the counter
// lives in machine state, not in a closure.
func fallbackReply(i int) string {
	return fallbackReplies[i%len(fallbackReplies)]
}

// Machine drives one symptom-check conversation for a single owner. It
// is transport-agnostic: handlers invoke its operations and render the
// message log however they like.
//
// At most one remote call may be in flight; operations attempted while
// busy fail with ErrBusy. This mirrors the disabled-input guard of the
// patient UI and is the only concurrency control the flow needs.
type Machine struct {
	mu          sync.Mutex
	busy        bool
	state       State
	messages    []Message
	symptoms    []string
	fallbackIdx int
	analysis    *AnalysisResult

	saved  bool
	record *Record

	owner    uuid.UUID
	analyzer Analyzer
	repo     Repository
	now      func() time.Time
}

func NewMachine(owner uuid.UUID, analyzer Analyzer, repo Repository) *Machine {
	m := &Machine{owner: owner, analyzer: analyzer, repo: repo, now: time.Now}
	m.seed()
	return m
}

// seed resets all local state and re-installs the greeting message.
// Callers hold the lock (or own the machine exclusively).
func (m *Machine) seed() {
	m.state = StateCollecting
	m.symptoms = nil
	m.analysis = nil
	m.fallbackIdx = 0
	m.saved = false
	m.record = nil
	m.messages = []Message{{
		ID:        uuid.NewString(),
		Text:      greetingText,
		Author:    AuthorAssistant,
		Timestamp: m.now(),
		Kind:      KindPlain,
		Source:    SourceRemote,
	}}
}

// Submit records one symptom statement and produces the assistant reply.
// A failed remote call is non-fatal: a locally held fallback prompt is
// appended instead and collection continues.
func (m *Machine) Submit(ctx context.Context, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyInput
	}

	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return Message{}, ErrBusy
	}
	if m.state != StateCollecting {
		m.mu.Unlock()
		return Message{}, ErrWrongState
	}
	m.busy = true
	prior := append([]string(nil), m.symptoms...)
	m.symptoms = append(m.symptoms, text)
	m.messages = append(m.messages, Message{
		ID:        uuid.NewString(),
		Text:      text,
		Author:    AuthorUser,
		Timestamp: m.now(),
		Kind:      KindPlain,
	})
	m.mu.Unlock()

	reply, err := m.analyzer.ChatReply(ctx, prior, text)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = false

	msg := Message{
		ID:        uuid.NewString(),
		Author:    AuthorAssistant,
		Timestamp: m.now(),
		Kind:      KindPlain,
	}
	if err != nil {
		msg.Text = fallbackReply(m.fallbackIdx)
		msg.Source = SourceFallback
		m.fallbackIdx++
	} else {
		msg.Text = reply
		msg.Source = SourceRemote
	}
	m.messages = append(m.messages, msg)
	return msg, nil
}

// Done closes symptom collection and runs the final structured analysis.
// There is no fallback here: on failure an error message is appended and
// the machine returns to collecting with the accumulator intact so the
// user can retry.
func (m *Machine) Done(ctx context.Context) (Message, error) {
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return Message{}, ErrBusy
	}
	if m.state != StateCollecting {
		m.mu.Unlock()
		return Message{}, ErrWrongState
	}
	if len(m.symptoms) == 0 {
		m.mu.Unlock()
		return Message{}, ErrNoSymptoms
	}
	m.state = StateAnalyzing
	m.busy = true
	m.messages = append(m.messages, Message{
		ID:        uuid.NewString(),
		Text:      analyzingText,
		Author:    AuthorAssistant,
		Timestamp: m.now(),
		Kind:      KindPlain,
		Source:    SourceRemote,
	})
	symptomText := strings.Join(m.symptoms, ". ")
	m.mu.Unlock()

	result, err := m.analyzer.Analyze(ctx, symptomText, SeverityMedium)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = false

	if err != nil {
		m.state = StateCollecting
		msg := Message{
			ID:        uuid.NewString(),
			Text:      analysisFailedText,
			Author:    AuthorAssistant,
			Timestamp: m.now(),
			Kind:      KindPlain,
			Source:    SourceFallback,
		}
		m.messages = append(m.messages, msg)
		return msg, errors.Wrap(err, "final analysis failed")
	}

	m.analysis = result
	msg := Message{
		ID:        uuid.NewString(),
		Author:    AuthorAssistant,
		Timestamp: m.now(),
		Kind:      KindAnalysis,
		Analysis:  result,
		Source:    SourceRemote,
	}
	m.messages = append(m.messages, msg)
	m.state = StateComplete
	return msg, nil
}

// Save persists the conversation once. Calling it again after the first
// success returns the stored record without writing. Title generation is
// best-effort: on failure the title falls back to the diagnosis text or
// a static label.
func (m *Machine) Save(ctx context.Context) (*Record, error) {
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return nil, ErrBusy
	}
	if m.state != StateComplete {
		m.mu.Unlock()
		return nil, ErrWrongState
	}
	if m.saved {
		rec := m.record
		m.mu.Unlock()
		return rec, nil
	}
	m.busy = true
	msgs := append([]Message(nil), m.messages...)
	analysis := m.analysis
	m.mu.Unlock()

	title, err := m.analyzer.GenerateTitle(ctx, transcript(msgs))
	if err != nil || strings.TrimSpace(title) == "" {
		title = fallbackTitle(analysis)
	}

	rec := &Record{
		ID:            uuid.New(),
		OwnerID:       m.owner,
		Type:          TypeSymptomCheck,
		Title:         strings.TrimSpace(title),
		Messages:      msgs,
		FinalAnalysis: analysis,
		Severity:      storedSeverity(analysis.Severity),
		CreatedAt:     m.now(),
	}
	insertErr := m.repo.Insert(ctx, rec)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = false
	if insertErr != nil {
		// Stay in complete, unsaved. The user may retry.
		return nil, errors.Wrap(insertErr, "save conversation")
	}
	m.saved = true
	m.record = rec
	return rec, nil
}

// Rate writes a star rating onto the saved record. Allowed only after a
// successful save; a repeated call overwrites the previous rating.
func (m *Machine) Rate(ctx context.Context, stars int, comment string) error {
	if stars < 1 || stars > 5 {
		return ErrBadRating
	}

	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return ErrBusy
	}
	if !m.saved {
		m.mu.Unlock()
		return ErrNotSaved
	}
	m.busy = true
	id := m.record.ID
	m.mu.Unlock()

	err := m.repo.UpdateRating(ctx, id, m.owner, stars, comment)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = false
	if err != nil {
		return errors.Wrap(err, "save rating")
	}
	m.record.Rating = &stars
	if comment != "" {
		m.record.RatingComment = &comment
	} else {
		m.record.RatingComment = nil
	}
	m.messages = append(m.messages, Message{
		ID:        uuid.NewString(),
		Text:      fmt.Sprintf("Thank you for your %d-star rating!", stars),
		Author:    AuthorAssistant,
		Timestamp: m.now(),
		Kind:      KindPlain,
		Source:    SourceRemote,
	})
	return nil
}

// Reset discards everything and starts a fresh conversation, returning
// the re-seeded greeting.
func (m *Machine) Reset() (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return Message{}, ErrBusy
	}
	m.seed()
	return m.messages[0], nil
}

// State reports the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Messages returns a copy of the visible message log.
func (m *Machine) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}

// Symptoms returns a copy of the accumulated symptom statements.
func (m *Machine) Symptoms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.symptoms...)
}

// Analysis returns the attached result, or nil before completion.
func (m *Machine) Analysis() *AnalysisResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.analysis
}

// Saved reports whether the conversation was persisted, and the record
// if so.
func (m *Machine) Saved() (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record, m.saved
}

// transcript renders the message log as labeled lines for title
// generation.
func transcript(msgs []Message) string {
	lines := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		label := "Patient"
		if msg.Author == AuthorAssistant {
			label = "AI"
		}
		lines = append(lines, label+": "+msg.Text)
	}
	return strings.Join(lines, "\n")
}

func fallbackTitle(a *AnalysisResult) string {
	if a != nil && a.Diagnosis != "" {
		// Truncate on rune boundaries so a multi-byte diagnosis cannot
		// persist as invalid UTF-8.
		if r := []rune(a.Diagnosis); len(r) > 60 {
			return string(r[:60])
		}
		return a.Diagnosis
	}
	return defaultTitle
}

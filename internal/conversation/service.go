package conversation

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"homedoc/internal/notify"
)

// ReportService defines the interface for delivering doctor-facing
// summaries of saved conversations.
type ReportService interface {
	SendDoctorReport(ctx context.Context, rec Record) error
}

// ErrConversationNotFound is returned when a conversation id is unknown
// or owned by someone else.
var ErrConversationNotFound = errors.New("conversation not found")

// Snapshot is a read-only view of a live conversation.
type Snapshot struct {
	ID       uuid.UUID       `json:"id"`
	State    State           `json:"state"`
	Messages []Message       `json:"messages"`
	Symptoms []string        `json:"symptoms"`
	Analysis *AnalysisResult `json:"analysis,omitempty"`
	Saved    bool            `json:"saved"`
	RecordID *uuid.UUID      `json:"record_id,omitempty"`
	Title    string          `json:"title,omitempty"`
}

type Service interface {
	Start(ctx context.Context, owner uuid.UUID) (uuid.UUID, Message, error)
	Submit(ctx context.Context, owner, id uuid.UUID, text string) (Message, error)
	Done(ctx context.Context, owner, id uuid.UUID) (Message, error)
	Save(ctx context.Context, owner, id uuid.UUID) (*Record, error)
	Rate(ctx context.Context, owner, id uuid.UUID, stars int, comment string) error
	Reset(ctx context.Context, owner, id uuid.UUID) (Message, error)
	Snapshot(ctx context.Context, owner, id uuid.UUID) (*Snapshot, error)
	History(ctx context.Context, owner uuid.UUID) ([]Record, error)
}

type liveConversation struct {
	owner   uuid.UUID
	machine *Machine
}

type service struct {
	repo     Repository
	analyzer Analyzer
	reports  ReportService
	events   notify.Broker

	mu   sync.RWMutex
	live map[uuid.UUID]*liveConversation
}

func NewService(repo Repository, analyzer Analyzer, reports ReportService, events notify.Broker) Service {
	return &service{
		repo:     repo,
		analyzer: analyzer,
		reports:  reports,
		events:   events,
		live:     make(map[uuid.UUID]*liveConversation),
	}
}

// UserTopic is the event-stream topic carrying a user's own
// notifications.
func UserTopic(owner uuid.UUID) string {
	return "user." + owner.String()
}

func (s *service) Start(ctx context.Context, owner uuid.UUID) (uuid.UUID, Message, error) {
	id := uuid.New()
	m := NewMachine(owner, s.analyzer, s.repo)

	s.mu.Lock()
	s.live[id] = &liveConversation{owner: owner, machine: m}
	s.mu.Unlock()

	return id, m.Messages()[0], nil
}

func (s *service) machine(owner, id uuid.UUID) (*Machine, error) {
	s.mu.RLock()
	lc, ok := s.live[id]
	s.mu.RUnlock()
	if !ok || lc.owner != owner {
		return nil, ErrConversationNotFound
	}
	return lc.machine, nil
}

func (s *service) Submit(ctx context.Context, owner, id uuid.UUID, text string) (Message, error) {
	m, err := s.machine(owner, id)
	if err != nil {
		return Message{}, err
	}
	return m.Submit(ctx, text)
}

func (s *service) Done(ctx context.Context, owner, id uuid.UUID) (Message, error) {
	m, err := s.machine(owner, id)
	if err != nil {
		return Message{}, err
	}
	return m.Done(ctx)
}

func (s *service) Save(ctx context.Context, owner, id uuid.UUID) (*Record, error) {
	m, err := s.machine(owner, id)
	if err != nil {
		return nil, err
	}

	_, alreadySaved := m.Saved()
	rec, err := m.Save(ctx)
	if err != nil {
		return nil, err
	}
	if alreadySaved {
		return rec, nil
	}

	if s.events != nil {
		s.events.Publish(UserTopic(owner), notify.NewEvent(UserTopic(owner), map[string]any{
			"kind":            "conversation_saved",
			"conversation_id": id,
			"record_id":       rec.ID,
			"title":           rec.Title,
		}))
	}

	// Doctor referral is best-effort background work, like the rest of
	// the post-save pipeline. Failure never unwinds the save.
	if s.reports != nil && rec.FinalAnalysis != nil && rec.FinalAnalysis.RequiresDoctor {
		go func(rec Record) {
			if err := s.reports.SendDoctorReport(context.Background(), rec); err != nil {
				log.Printf("doctor report for conversation %s failed: %v", rec.ID, err)
			}
		}(*rec)
	}

	return rec, nil
}

func (s *service) Rate(ctx context.Context, owner, id uuid.UUID, stars int, comment string) error {
	m, err := s.machine(owner, id)
	if err != nil {
		return err
	}
	if err := m.Rate(ctx, stars, comment); err != nil {
		return err
	}
	if s.events != nil {
		rec, _ := m.Saved()
		s.events.Publish(UserTopic(owner), notify.NewEvent(UserTopic(owner), map[string]any{
			"kind":      "rating_saved",
			"record_id": rec.ID,
			"stars":     stars,
		}))
	}
	return nil
}

func (s *service) Reset(ctx context.Context, owner, id uuid.UUID) (Message, error) {
	m, err := s.machine(owner, id)
	if err != nil {
		return Message{}, err
	}
	return m.Reset()
}

func (s *service) Snapshot(ctx context.Context, owner, id uuid.UUID) (*Snapshot, error) {
	m, err := s.machine(owner, id)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		ID:       id,
		State:    m.State(),
		Messages: m.Messages(),
		Symptoms: m.Symptoms(),
		Analysis: m.Analysis(),
	}
	if rec, saved := m.Saved(); saved {
		snap.Saved = true
		snap.RecordID = &rec.ID
		snap.Title = rec.Title
	}
	return snap, nil
}

func (s *service) History(ctx context.Context, owner uuid.UUID) ([]Record, error) {
	return s.repo.ListByOwner(ctx, owner)
}

package prediction

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"homedoc/internal/notify"
)

// ReviewTopic carries review events for doctor/admin dashboards.
const ReviewTopic = "reviews"

var ErrEmptySymptoms = errors.New("symptoms are required")

// Predictor is the slice of the external service the service layer
// needs.
type Predictor interface {
	Predict(ctx context.Context, symptoms string) (*Result, error)
	Health(ctx context.Context) bool
}

type Service interface {
	Predict(ctx context.Context, patientID uuid.UUID, patientName, symptoms string) (*Result, error)
	Health(ctx context.Context) bool
	Pending(ctx context.Context, limit, offset int) ([]Pending, error)
	Review(ctx context.Context, reviewer uuid.UUID, id uuid.UUID, rev Review) error
	Statistics(ctx context.Context) (*Statistics, error)
}

type service struct {
	client Predictor
	repo   Repository
	events notify.Broker
}

func NewService(client Predictor, repo Repository, events notify.Broker) Service {
	return &service{client: client, repo: repo, events: events}
}

// Predict calls the external model and queues the result for doctor
// review. Queueing is best-effort: a storage failure must not withhold
// the prediction from the patient.
func (s *service) Predict(ctx context.Context, patientID uuid.UUID, patientName, symptoms string) (*Result, error) {
	symptoms = strings.TrimSpace(symptoms)
	if symptoms == "" {
		return nil, ErrEmptySymptoms
	}

	result, err := s.client.Predict(ctx, symptoms)
	if err != nil {
		return nil, err
	}

	if result.Success && result.Disease != "" {
		if patientName == "" {
			patientName = "Anonymous"
		}
		p := &Pending{
			ID:               uuid.New(),
			PatientName:      patientName,
			Symptoms:         symptoms,
			PredictedDisease: result.Disease,
			Confidence:       result.Confidence,
			CreatedAt:        time.Now(),
		}
		if err := s.repo.SavePrediction(ctx, patientID, p); err != nil {
			log.Printf("could not queue prediction %s for review: %v", p.ID, err)
		}
	}

	return result, nil
}

func (s *service) Health(ctx context.Context) bool {
	return s.client.Health(ctx)
}

func (s *service) Pending(ctx context.Context, limit, offset int) ([]Pending, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.Pending(ctx, limit, offset)
}

func (s *service) Review(ctx context.Context, reviewer uuid.UUID, id uuid.UUID, rev Review) error {
	if err := s.repo.SubmitReview(ctx, id, reviewer, rev); err != nil {
		return err
	}
	if s.events != nil {
		s.events.Publish(ReviewTopic, notify.NewEvent(ReviewTopic, map[string]any{
			"kind":          "prediction_reviewed",
			"prediction_id": id,
			"is_correct":    rev.IsCorrect,
		}))
	}
	return nil
}

func (s *service) Statistics(ctx context.Context) (*Statistics, error) {
	return s.repo.Statistics(ctx)
}

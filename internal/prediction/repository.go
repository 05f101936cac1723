package prediction

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// ErrAlreadyReviewed is returned when a review targets a prediction
// that does not exist or was reviewed before.
var ErrAlreadyReviewed = errors.New("prediction not found or already reviewed")

// Repository stores prediction rows and consumes the review/statistics
// procedures. Aggregation and ordering live in the database.
type Repository interface {
	SavePrediction(ctx context.Context, patientID uuid.UUID, p *Pending) error
	Pending(ctx context.Context, limit, offset int) ([]Pending, error)
	SubmitReview(ctx context.Context, id, reviewer uuid.UUID, rev Review) error
	Statistics(ctx context.Context) (*Statistics, error)
}

type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) SavePrediction(ctx context.Context, patientID uuid.UUID, p *Pending) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO disease_predictions (id, patient_id, patient_name, symptoms, predicted_disease, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, patientID, p.PatientName, p.Symptoms, p.PredictedDisease, p.Confidence, p.CreatedAt)
	return errors.Wrap(err, "insert prediction")
}

func (r *PostgresRepository) Pending(ctx context.Context, limit, offset int) ([]Pending, error) {
	var pending []Pending
	err := r.db.SelectContext(ctx, &pending, `
		SELECT id, patient_name, symptoms, predicted_disease, confidence, created_at
		FROM get_pending_predictions($1, $2)
	`, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "get_pending_predictions")
	}
	return pending, nil
}

func (r *PostgresRepository) SubmitReview(ctx context.Context, id, reviewer uuid.UUID, rev Review) error {
	var accepted bool
	err := r.db.GetContext(ctx, &accepted, `
		SELECT submit_prediction_review($1, $2, $3, $4, $5, $6)
	`, id, rev.IsCorrect, rev.Feedback, rev.ActualDiagnosis, reviewer, rev.ReviewerName)
	if err != nil {
		return errors.Wrap(err, "submit_prediction_review")
	}
	if !accepted {
		return ErrAlreadyReviewed
	}
	return nil
}

func (r *PostgresRepository) Statistics(ctx context.Context) (*Statistics, error) {
	var raw []byte
	if err := r.db.GetContext(ctx, &raw, `SELECT get_prediction_statistics()`); err != nil {
		return nil, errors.Wrap(err, "get_prediction_statistics")
	}

	var stats Statistics
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, errors.Wrap(err, "unmarshal statistics")
	}
	return &stats, nil
}

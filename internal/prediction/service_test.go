package prediction

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"homedoc/internal/notify"
)

type fakePredictor struct {
	result *Result
	err    error
	health bool
}

func (f *fakePredictor) Predict(ctx context.Context, symptoms string) (*Result, error) {
	return f.result, f.err
}

func (f *fakePredictor) Health(ctx context.Context) bool {
	return f.health
}

type fakePredictionRepo struct {
	saved    []Pending
	saveErr  error
	pending  []Pending
	lastArgs struct {
		Limit  int
		Offset int
	}
	reviews []struct {
		ID       uuid.UUID
		Reviewer uuid.UUID
		Review   Review
	}
	reviewErr error
	stats     *Statistics
}

func (f *fakePredictionRepo) SavePrediction(ctx context.Context, patientID uuid.UUID, p *Pending) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, *p)
	return nil
}

func (f *fakePredictionRepo) Pending(ctx context.Context, limit, offset int) ([]Pending, error) {
	f.lastArgs.Limit = limit
	f.lastArgs.Offset = offset
	return f.pending, nil
}

func (f *fakePredictionRepo) SubmitReview(ctx context.Context, id, reviewer uuid.UUID, rev Review) error {
	if f.reviewErr != nil {
		return f.reviewErr
	}
	f.reviews = append(f.reviews, struct {
		ID       uuid.UUID
		Reviewer uuid.UUID
		Review   Review
	}{id, reviewer, rev})
	return nil
}

func (f *fakePredictionRepo) Statistics(ctx context.Context) (*Statistics, error) {
	return f.stats, nil
}

func TestPredictQueuesForReview(t *testing.T) {
	repo := &fakePredictionRepo{}
	svc := NewService(&fakePredictor{result: &Result{Success: true, Disease: "Influenza", Confidence: 90}}, repo, nil)

	result, err := svc.Predict(context.Background(), uuid.New(), "Jane Doe", "fever and chills")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, repo.saved, 1)
	require.Equal(t, "Influenza", repo.saved[0].PredictedDisease)
	require.Equal(t, "Jane Doe", repo.saved[0].PatientName)
	require.Equal(t, "fever and chills", repo.saved[0].Symptoms)
}

func TestPredictRejectsEmptySymptoms(t *testing.T) {
	repo := &fakePredictionRepo{}
	svc := NewService(&fakePredictor{}, repo, nil)

	_, err := svc.Predict(context.Background(), uuid.New(), "", "   ")
	require.ErrorIs(t, err, ErrEmptySymptoms)
	require.Empty(t, repo.saved)
}

func TestPredictStorageFailureIsNonFatal(t *testing.T) {
	repo := &fakePredictionRepo{saveErr: errors.New("db down")}
	svc := NewService(&fakePredictor{result: &Result{Success: true, Disease: "Influenza", Confidence: 90}}, repo, nil)

	result, err := svc.Predict(context.Background(), uuid.New(), "", "fever")
	require.NoError(t, err, "review queueing must not withhold the prediction")
	require.True(t, result.Success)
}

func TestPredictSkipsQueueOnModelFailure(t *testing.T) {
	repo := &fakePredictionRepo{}
	svc := NewService(&fakePredictor{result: &Result{Success: false, Error: "unknown"}}, repo, nil)

	result, err := svc.Predict(context.Background(), uuid.New(), "", "fever")
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Empty(t, repo.saved)
}

func TestPendingClampsPaging(t *testing.T) {
	repo := &fakePredictionRepo{}
	svc := NewService(&fakePredictor{}, repo, nil)

	_, err := svc.Pending(context.Background(), -5, -1)
	require.NoError(t, err)
	require.Equal(t, 50, repo.lastArgs.Limit)
	require.Equal(t, 0, repo.lastArgs.Offset)

	_, err = svc.Pending(context.Background(), 1000, 20)
	require.NoError(t, err)
	require.Equal(t, 50, repo.lastArgs.Limit)
	require.Equal(t, 20, repo.lastArgs.Offset)
}

func TestReviewPublishesEvent(t *testing.T) {
	repo := &fakePredictionRepo{}
	broker := notify.NewMemoryBroker()
	svc := NewService(&fakePredictor{}, repo, broker)

	received := make(chan notify.Event, 1)
	unsubscribe := broker.Subscribe(ReviewTopic, func(ev notify.Event) { received <- ev })
	defer unsubscribe()

	reviewer := uuid.New()
	id := uuid.New()
	err := svc.Review(context.Background(), reviewer, id, Review{IsCorrect: false, ActualDiagnosis: "Common cold"})
	require.NoError(t, err)
	require.Len(t, repo.reviews, 1)
	require.Equal(t, reviewer, repo.reviews[0].Reviewer)

	ev := <-received
	require.Contains(t, string(ev.Payload), "prediction_reviewed")
}

func TestReviewFailureDoesNotPublish(t *testing.T) {
	repo := &fakePredictionRepo{reviewErr: ErrAlreadyReviewed}
	broker := notify.NewMemoryBroker()
	svc := NewService(&fakePredictor{}, repo, broker)

	received := make(chan notify.Event, 1)
	unsubscribe := broker.Subscribe(ReviewTopic, func(ev notify.Event) { received <- ev })
	defer unsubscribe()

	err := svc.Review(context.Background(), uuid.New(), uuid.New(), Review{IsCorrect: true})
	require.ErrorIs(t, err, ErrAlreadyReviewed)
	require.Empty(t, received)
}

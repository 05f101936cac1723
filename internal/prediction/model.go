package prediction

import (
	"time"

	"github.com/google/uuid"
)

// Result is the response of the external disease-prediction service.
type Result struct {
	Success    bool    `json:"success"`
	Disease    string  `json:"disease,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Pending is one prediction awaiting doctor review.
type Pending struct {
	ID               uuid.UUID `db:"id" json:"id"`
	PatientName      string    `db:"patient_name" json:"patient_name"`
	Symptoms         string    `db:"symptoms" json:"symptoms"`
	PredictedDisease string    `db:"predicted_disease" json:"predicted_disease"`
	Confidence       float64   `db:"confidence" json:"confidence"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// Review is a doctor's verdict on a prediction.
type Review struct {
	IsCorrect       bool   `json:"is_correct"`
	Feedback        string `json:"feedback,omitempty"`
	ActualDiagnosis string `json:"actual_diagnosis,omitempty"`
	ReviewerName    string `json:"reviewer_name,omitempty"`
}

type DiseaseCount struct {
	Disease string `json:"disease"`
	Count   int    `json:"count"`
}

type FeedbackEntry struct {
	ID               uuid.UUID `json:"id"`
	PredictedDisease string    `json:"predicted_disease"`
	IsCorrect        bool      `json:"is_correct"`
	ActualDiagnosis  string    `json:"actual_diagnosis,omitempty"`
	DoctorFeedback   string    `json:"doctor_feedback,omitempty"`
	ReviewerName     string    `json:"reviewer_name"`
	ReviewedAt       time.Time `json:"reviewed_at"`
}

// Statistics is the aggregate view computed server-side; the Go side
// treats it as opaque JSON from the stored procedure.
type Statistics struct {
	TotalPredictions     int             `json:"total_predictions"`
	ReviewedPredictions  int             `json:"reviewed_predictions"`
	PendingReview        int             `json:"pending_review"`
	CorrectPredictions   int             `json:"correct_predictions"`
	IncorrectPredictions int             `json:"incorrect_predictions"`
	AccuracyRate         float64         `json:"accuracy_rate"`
	TopPredictedDiseases []DiseaseCount  `json:"top_predicted_diseases"`
	RecentFeedback       []FeedbackEntry `json:"recent_feedback"`
}

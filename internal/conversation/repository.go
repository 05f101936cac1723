package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrRecordNotFound is returned when a persisted record does not exist
// or belongs to another user.
var ErrRecordNotFound = errors.New("conversation record not found")

type postgresRepo struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &postgresRepo{db: db}
}

func (r *postgresRepo) Insert(ctx context.Context, rec *Record) error {
	messagesJSON, err := json.Marshal(rec.Messages)
	if err != nil {
		return errors.Wrap(err, "marshal messages")
	}
	var analysisJSON []byte
	if rec.FinalAnalysis != nil {
		analysisJSON, err = json.Marshal(rec.FinalAnalysis)
		if err != nil {
			return errors.Wrap(err, "marshal analysis")
		}
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO ai_conversations
			(id, user_id, conversation_type, title, messages, final_diagnosis, severity, rating, rating_comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.db.ExecContext(ctx, query,
		rec.ID, rec.OwnerID, rec.Type, rec.Title, messagesJSON, analysisJSON,
		rec.Severity, rec.Rating, rec.RatingComment, rec.CreatedAt)
	return errors.Wrap(err, "insert conversation")
}

func (r *postgresRepo) GetByID(ctx context.Context, id, owner uuid.UUID) (*Record, error) {
	query := `
		SELECT id, user_id, conversation_type, title, messages, final_diagnosis, severity, rating, rating_comment, created_at
		FROM ai_conversations
		WHERE id = $1 AND user_id = $2
	`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, id, owner))
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	return rec, err
}

func (r *postgresRepo) ListByOwner(ctx context.Context, owner uuid.UUID) ([]Record, error) {
	query := `
		SELECT id, user_id, conversation_type, title, messages, final_diagnosis, severity, rating, rating_comment, created_at
		FROM ai_conversations
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, errors.Wrap(err, "list conversations")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// UpdateRating sets the rating fields on a record the user owns.
// Subsequent calls overwrite rather than append.
func (r *postgresRepo) UpdateRating(ctx context.Context, id, owner uuid.UUID, stars int, comment string) error {
	query := `
		UPDATE ai_conversations
		SET rating = $3, rating_comment = NULLIF($4, '')
		WHERE id = $1 AND user_id = $2
	`
	res, err := r.db.ExecContext(ctx, query, id, owner, stars, comment)
	if err != nil {
		return errors.Wrap(err, "update rating")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var messagesJSON, analysisJSON []byte
	err := row.Scan(
		&rec.ID,
		&rec.OwnerID,
		&rec.Type,
		&rec.Title,
		&messagesJSON,
		&analysisJSON,
		&rec.Severity,
		&rec.Rating,
		&rec.RatingComment,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(messagesJSON) > 0 {
		if err := json.Unmarshal(messagesJSON, &rec.Messages); err != nil {
			return nil, errors.Wrap(err, "unmarshal messages")
		}
	}
	if len(analysisJSON) > 0 {
		rec.FinalAnalysis = &AnalysisResult{}
		if err := json.Unmarshal(analysisJSON, rec.FinalAnalysis); err != nil {
			return nil, errors.Wrap(err, "unmarshal analysis")
		}
	}
	return &rec, nil
}

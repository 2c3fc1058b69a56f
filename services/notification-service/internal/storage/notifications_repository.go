package storage

import (
	"context"
	"time"

	"github.com/healthcenter/frontdesk/libs/db"
)

// Notification is one message shown to a patient in their inbox.
type Notification struct {
	ID        int64     `json:"id"`
	PatientID string    `json:"patient_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type Repository struct {
	q db.Querier
}

func NewRepository(q db.Querier) *Repository {
	return &Repository{q: q}
}

// Insert stores n through q, normally the consumer's transaction, and returns it with its id
// and creation time.
func (r *Repository) Insert(ctx context.Context, q db.Querier, n Notification) (Notification, error) {
	err := q.QueryRow(ctx, `
		INSERT INTO notifications (patient_id, title, message)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, n.PatientID, n.Title, n.Message).Scan(&n.ID, &n.CreatedAt)
	return n, err
}

// ListByPatient returns the newest notifications first.
func (r *Repository) ListByPatient(ctx context.Context, patientID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.q.Query(ctx, `
		SELECT id, patient_id, title, message, created_at
		FROM notifications
		WHERE patient_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, patientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.PatientID, &n.Title, &n.Message, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

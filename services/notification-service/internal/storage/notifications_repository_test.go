package storage

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestInsertAndList(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	repo := NewRepository(mock)
	created := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO notifications").WithArgs("p-1", "Appointment Approved", "ok").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(4), created))
	mock.ExpectQuery("FROM notifications").WithArgs("p-1", 50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "patient_id", "title", "message", "created_at"}).
			AddRow(int64(4), "p-1", "Appointment Approved", "ok", created))

	n, err := repo.Insert(context.Background(), mock, Notification{PatientID: "p-1", Title: "Appointment Approved", Message: "ok"})
	if err != nil || n.ID != 4 || !n.CreatedAt.Equal(created) {
		t.Fatalf("Insert: %+v (err=%v)", n, err)
	}
	items, err := repo.ListByPatient(context.Background(), "p-1", 0)
	if err != nil || len(items) != 1 || items[0].Message != "ok" {
		t.Fatalf("ListByPatient: %+v (err=%v)", items, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

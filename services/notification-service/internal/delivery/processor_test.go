package delivery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/healthcenter/frontdesk/libs/db"
	"github.com/healthcenter/frontdesk/services/notification-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

type memStore struct {
	rows []storage.Notification
	err  error
}

func (m *memStore) Insert(_ context.Context, _ db.Querier, n storage.Notification) (storage.Notification, error) {
	if m.err != nil {
		return storage.Notification{}, m.err
	}
	n.ID = int64(len(m.rows) + 1)
	n.CreatedAt = time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	m.rows = append(m.rows, n)
	return n, nil
}

type capture struct {
	published []storage.Notification
}

func (c *capture) Publish(n storage.Notification) { c.published = append(c.published, n) }

func newProcessor() (*Processor, *memStore, *capture) {
	store, pub := &memStore{}, &capture{}
	return NewProcessor(store, pub, slog.New(slog.NewTextHandler(io.Discard, nil))), store, pub
}

func TestHandleStoresThenPublishesAfterCommit(t *testing.T) {
	p, store, pub := newProcessor()
	msg := kafka.Message{Value: []byte(`{"patient_id":"p-1","title":"Appointment Approved","message":"Your appointment for 2025-06-10 09:30 has been APPROVED.","requested_at":"2025-06-09T12:00:00Z"}`)}

	after, err := p.Handle(context.Background(), nil, msg)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(store.rows) != 1 || store.rows[0].Title != "Appointment Approved" {
		t.Fatalf("unexpected rows %+v", store.rows)
	}
	if len(pub.published) != 0 {
		t.Fatalf("must not publish before commit")
	}
	after()
	if len(pub.published) != 1 || pub.published[0].ID != 1 {
		t.Fatalf("expected stored notification to be published, got %+v", pub.published)
	}
}

func TestHandleSkipsMalformed(t *testing.T) {
	p, store, _ := newProcessor()
	for _, raw := range []string{`not json`, `{"patient_id":" ","message":"x"}`, `{"patient_id":"p-1","message":""}`} {
		after, err := p.Handle(context.Background(), nil, kafka.Message{Value: []byte(raw)})
		if err != nil || after != nil {
			t.Fatalf("%q: expected skip, got after=%v err=%v", raw, after != nil, err)
		}
	}
	if len(store.rows) != 0 {
		t.Fatalf("nothing should be stored")
	}
}

func TestHandlePropagatesStoreErrors(t *testing.T) {
	p, store, _ := newProcessor()
	store.err = errors.New("db down")
	if _, err := p.Handle(context.Background(), nil, kafka.Message{Value: []byte(`{"patient_id":"p-1","message":"m"}`)}); err == nil {
		t.Fatalf("expected error so the message is retried")
	}
}

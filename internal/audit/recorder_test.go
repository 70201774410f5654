package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bikastore/backend/internal/domain"
)

type fakeStore struct {
	events []domain.OrderStatusEvent
	err    error
}

func (f *fakeStore) InsertEvent(_ context.Context, event domain.OrderStatusEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleRecordsEvent(t *testing.T) {
	store := &fakeStore{}
	recorder := NewRecorder(store, testLogger())

	event := domain.OrderStatusEvent{
		EventID:   "evt-1",
		OrderID:   7,
		OrderCode: "BKS000007",
		From:      domain.StatusPendingReview,
		To:        domain.StatusCompleted,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	payload, _ := json.Marshal(event)

	if err := recorder.Handle(context.Background(), payload); err != nil {
		t.Fatalf("Handle returned %v", err)
	}
	if len(store.events) != 1 || store.events[0] != event {
		t.Fatalf("stored events = %+v, want the decoded event", store.events)
	}
}

func TestHandleDropsMalformedPayload(t *testing.T) {
	store := &fakeStore{}
	recorder := NewRecorder(store, testLogger())

	if err := recorder.Handle(context.Background(), []byte("not json")); err != nil {
		t.Fatalf("malformed payload should not error, got %v", err)
	}
	if len(store.events) != 0 {
		t.Fatalf("malformed payload was stored: %+v", store.events)
	}
}

func TestHandlePropagatesStoreErrors(t *testing.T) {
	storeErr := errors.New("connection refused")
	recorder := NewRecorder(&fakeStore{err: storeErr}, testLogger())

	payload, _ := json.Marshal(domain.OrderStatusEvent{EventID: "evt-2"})
	if err := recorder.Handle(context.Background(), payload); !errors.Is(err, storeErr) {
		t.Fatalf("Handle returned %v, want wrapped store error", err)
	}
}

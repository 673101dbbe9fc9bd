package lifecycle

import (
	"context"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/dashlink/connect/store"
)

func TestMemoryAuditLog_FillsIdentityAndTimestamp(t *testing.T) {
	l := NewMemoryAuditLog()

	err := l.Record(context.Background(), Event{
		UserID:  "u1",
		Service: store.ServiceMail,
		Reason:  ReasonInvalidGrant,
	})
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}

	events := l.Events()
	if len(events) != 1 {
		t.Fatalf("Events returned %d entries; want 1", len(events))
	}
	ev := events[0]
	if ev.ID == "" {
		t.Error("ID not filled in")
	}
	if ev.At.IsZero() {
		t.Error("At not filled in")
	}
	if ev.Reason != ReasonInvalidGrant {
		t.Errorf("Reason = %q; want %q", ev.Reason, ReasonInvalidGrant)
	}
}

func TestMemoryAuditLog_EventsReturnsCopy(t *testing.T) {
	l := NewMemoryAuditLog()
	if err := l.Record(context.Background(), Event{UserID: "u1", Service: store.ServiceMail, Reason: ReasonRevoked}); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}

	events := l.Events()
	events[0].UserID = "mutated"
	if l.Events()[0].UserID != "u1" {
		t.Error("mutating the returned slice leaked into the log")
	}
}

func TestMongoAuditLog_Record(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.ClearCollections()

	mt.Run("success", func(mt *mtest.T) {
		l := NewMongoAuditLog(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		err := l.Record(context.Background(), Event{
			UserID:  "u1",
			Service: store.ServiceCalendar,
			Reason:  ReasonScopeShortfall,
			At:      time.Now().UTC(),
		})
		if err != nil {
			mt.Fatalf("Record failed: %v", err)
		}
	})

	mt.Run("insert error", func(mt *mtest.T) {
		l := NewMongoAuditLog(mt.DB)
		mt.AddMockResponses(bson.D{{Key: "ok", Value: 0}})

		err := l.Record(context.Background(), Event{UserID: "u1", Service: store.ServiceMail, Reason: ReasonNotAuthorized})
		if err == nil {
			mt.Fatal("Record did not return an error for insert failure")
		}
	})
}

package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/dashlink/connect/store"
)

// Event is one write-once reauthorization record, kept so operators can
// distinguish "user revoked access" from "scope requirements grew" after the
// fact.
type Event struct {
	ID      string        `bson:"event_id" json:"event_id"`
	UserID  string        `bson:"user_id" json:"user_id"`
	Service store.Service `bson:"service" json:"service"`
	Reason  Reason        `bson:"reason" json:"reason"`
	At      time.Time     `bson:"at" json:"at"`
}

// AuditLog records reauthorization events. Implementations are insert-only.
type AuditLog interface {
	Record(ctx context.Context, ev Event) error
}

var _ AuditLog = &MongoAuditLog{}

// MongoAuditLog stores events in an insert-only collection.
type MongoAuditLog struct {
	events *mongo.Collection
}

// NewMongoAuditLog creates an audit log backed by the given DB.
func NewMongoAuditLog(db *mongo.Database) *MongoAuditLog {
	return &MongoAuditLog{events: db.Collection("reauth_audit")}
}

// Record inserts one event, filling in the ID and timestamp if unset.
func (l *MongoAuditLog) Record(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	_, err := l.events.InsertOne(ctx, bson.M{
		"event_id": ev.ID,
		"user_id":  ev.UserID,
		"service":  ev.Service,
		"reason":   ev.Reason,
		"at":       ev.At,
	})
	return err
}

var _ AuditLog = &MemoryAuditLog{}

// MemoryAuditLog is an in-memory audit log for tests and single-node
// development.
type MemoryAuditLog struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryAuditLog creates an empty in-memory audit log.
func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

func (l *MemoryAuditLog) Record(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

// Events returns a copy of everything recorded so far.
func (l *MemoryAuditLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

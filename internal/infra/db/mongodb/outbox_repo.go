package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	outboxDomain "github.com/davicafu/formintake/internal/outbox/domain"
)

// Orden de reclamo: createdAt y luego la secuencia de inserción.
var oldestFirst = bson.D{{Key: "createdAt", Value: 1}, {Key: "seq", Value: 1}, {Key: "_id", Value: 1}}

// OutboxRepoMongoDB implementa la interfaz outboxDomain.OutboxRepository.
type OutboxRepoMongoDB struct {
	outboxColl *mongo.Collection
}

func NewOutboxRepoMongoDB(client *mongo.Client, dbName string) *OutboxRepoMongoDB {
	outboxColl := client.Database(dbName).Collection(outboxDomain.OutboxCollection)
	return &OutboxRepoMongoDB{outboxColl: outboxColl}
}

// mongoOutboxEvent es un helper para mapear los documentos de la base de datos a un struct.
type mongoOutboxEvent struct {
	ID          string     `bson:"_id"`
	Type        string     `bson:"type"`
	Payload     bson.M     `bson:"payload"`
	Status      string     `bson:"status"`
	Attempts    int        `bson:"attempts"`
	LastError   *string    `bson:"lastError,omitempty"`
	LockedUntil *time.Time `bson:"lockedUntil,omitempty"`
	CreatedAt   time.Time  `bson:"createdAt"`
	UpdatedAt   time.Time  `bson:"updatedAt"`
}

// ClaimNextPending reclama el pending más antiguo sin lease vigente.
// FindOneAndUpdate es atómico por documento: dos pollers nunca obtienen el mismo.
func (r *OutboxRepoMongoDB) ClaimNextPending(ctx context.Context, now time.Time, lease time.Duration) (*outboxDomain.OutboxEvent, error) {
	filter := bson.M{
		"status": string(outboxDomain.StatusPending),
		"$or": bson.A{
			bson.M{"lockedUntil": nil},
			bson.M{"lockedUntil": bson.M{"$lte": now}},
		},
	}
	update := bson.M{
		"$inc": bson.M{"attempts": 1},
		"$set": bson.M{"lockedUntil": now.Add(lease), "updatedAt": now},
	}
	opts := options.FindOneAndUpdate().
		SetSort(oldestFirst).
		SetReturnDocument(options.After)

	var mo mongoOutboxEvent
	if err := r.outboxColl.FindOneAndUpdate(ctx, filter, update, opts).Decode(&mo); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, outboxDomain.ErrNoPendingEvents
		}
		return nil, err
	}
	return fromMongoOutboxEvent(&mo)
}

func (r *OutboxRepoMongoDB) MarkSent(ctx context.Context, id uuid.UUID, now time.Time) error {
	return r.transition(ctx, id, bson.M{"status": string(outboxDomain.StatusSent), "updatedAt": now})
}

func (r *OutboxRepoMongoDB) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, now time.Time) error {
	return r.transition(ctx, id, bson.M{"status": string(outboxDomain.StatusFailed), "lastError": lastError, "updatedAt": now})
}

// transition solo mueve eventos pending; los terminales no se revisitan.
func (r *OutboxRepoMongoDB) transition(ctx context.Context, id uuid.UUID, set bson.M) error {
	filter := bson.M{"_id": id.String(), "status": string(outboxDomain.StatusPending)}
	update := bson.M{"$set": set, "$unset": bson.M{"lockedUntil": ""}}

	res, err := r.outboxColl.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return outboxDomain.ErrEventNotClaimable
	}
	return nil
}

// ListPending obtiene los eventos pending del más antiguo al más nuevo.
func (r *OutboxRepoMongoDB) ListPending(ctx context.Context, limit int) ([]outboxDomain.OutboxEvent, error) {
	filter := bson.M{"status": string(outboxDomain.StatusPending)}
	opts := options.Find().SetSort(oldestFirst).SetLimit(int64(limit))

	cursor, err := r.outboxColl.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	events := []outboxDomain.OutboxEvent{}
	for cursor.Next(ctx) {
		var mo mongoOutboxEvent
		if err := cursor.Decode(&mo); err != nil {
			return nil, err
		}
		evt, err := fromMongoOutboxEvent(&mo)
		if err != nil {
			return nil, err
		}
		events = append(events, *evt)
	}
	return events, cursor.Err()
}

// fromMongoOutboxEvent convierte de BSON a nuestro tipo de dominio.
func fromMongoOutboxEvent(mo *mongoOutboxEvent) (*outboxDomain.OutboxEvent, error) {
	id, err := uuid.Parse(mo.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID in outbox document: %w", err)
	}
	evt := &outboxDomain.OutboxEvent{
		ID:        id,
		Type:      mo.Type,
		Payload:   map[string]interface{}(mo.Payload),
		Status:    outboxDomain.OutboxStatus(mo.Status),
		Attempts:  mo.Attempts,
		LastError: mo.LastError,
		CreatedAt: mo.CreatedAt.UTC(),
		UpdatedAt: mo.UpdatedAt.UTC(),
	}
	if mo.LockedUntil != nil {
		t := mo.LockedUntil.UTC()
		evt.LockedUntil = &t
	}
	return evt, nil
}

// Verificación en tiempo de compilación.
var _ outboxDomain.OutboxRepository = (*OutboxRepoMongoDB)(nil)

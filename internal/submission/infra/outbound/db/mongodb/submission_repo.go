package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	outboxDomain "github.com/davicafu/formintake/internal/outbox/domain"
	sharedQuery "github.com/davicafu/formintake/internal/shared/infra/platform/query"
	"github.com/davicafu/formintake/internal/submission/domain"
)

// SubmissionRepoMongoDB implementa domain.SubmissionRepository para MongoDB.
type SubmissionRepoMongoDB struct {
	client          *mongo.Client
	submissionsColl *mongo.Collection
	dedupeColl      *mongo.Collection
	outboxColl      *mongo.Collection
	useTransactions bool
}

// NewSubmissionRepoMongoDB es el constructor del repositorio. Con
// useTransactions=true las tres escrituras de Create van en una transacción
// (requiere replica set); sin ella se compensan en caso de fallo.
func NewSubmissionRepoMongoDB(ctx context.Context, client *mongo.Client, dbName string, useTransactions bool) (*SubmissionRepoMongoDB, error) {
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("could not ping mongoDB: %w", err)
	}

	db := client.Database(dbName)
	return &SubmissionRepoMongoDB{
		client:          client,
		submissionsColl: db.Collection(domain.SubmissionsCollection),
		dedupeColl:      db.Collection(domain.DedupeCollection),
		outboxColl:      db.Collection(outboxDomain.OutboxCollection),
		useTransactions: useTransactions,
	}, nil
}

// EnsureIndexes crea los índices de las tres colecciones. Es idempotente.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	submissionIdx := []mongo.IndexModel{
		{Keys: bson.D{{Key: "businessId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "franchiseId", Value: 1}}},
		{Keys: bson.D{{Key: "formId", Value: 1}}},
		{Keys: bson.D{{Key: "staffId", Value: 1}}},
		{Keys: bson.D{{Key: "deviceId", Value: 1}}},
		{Keys: bson.D{{Key: "dedupeKey", Value: 1}}}, // no único: la unicidad la da submission_dedupe
	}
	if _, err := db.Collection(domain.SubmissionsCollection).Indexes().CreateMany(ctx, submissionIdx); err != nil {
		return fmt.Errorf("create submission indexes: %w", err)
	}

	outboxIdx := []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "seq", Value: 1}}},
	}
	if _, err := db.Collection(outboxDomain.OutboxCollection).Indexes().CreateMany(ctx, outboxIdx); err != nil {
		return fmt.Errorf("create outbox indexes: %w", err)
	}

	// Los claims caducan solos al cerrar su bucket
	ttl := mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}
	if _, err := db.Collection(domain.DedupeCollection).Indexes().CreateOne(ctx, ttl); err != nil {
		return fmt.Errorf("create dedupe ttl index: %w", err)
	}
	return nil
}

// --- Structs de BSON para el mapeo ---
// Se definen localmente para no "contaminar" el dominio con tags de BSON.

type mongoCategory struct {
	Key   string  `bson:"key"`
	Score float64 `bson:"score"`
}

type mongoSubmission struct {
	ID          string          `bson:"_id"`
	BusinessID  string          `bson:"businessId"`
	FranchiseID string          `bson:"franchiseId,omitempty"`
	FormID      string          `bson:"formId"`
	Rating      int             `bson:"rating"`
	Categories  []mongoCategory `bson:"categories"`
	Comment     string          `bson:"comment,omitempty"`
	StaffID     string          `bson:"staffId,omitempty"`
	DeviceID    string          `bson:"deviceId,omitempty"`
	IP          string          `bson:"ip,omitempty"`
	DedupeKey   string          `bson:"dedupeKey"`
	CreatedBy   string          `bson:"createdBy,omitempty"`
	CreatedAt   time.Time       `bson:"createdAt"`
	UpdatedAt   time.Time       `bson:"updatedAt"`
}

type mongoDedupeClaim struct {
	Key          string    `bson:"_id"`
	SubmissionID string    `bson:"submissionId"`
	ExpiresAt    time.Time `bson:"expiresAt"`
}

// Seq desempata eventos del mismo milisegundo: un ObjectID crece con cada
// inserción dentro del proceso.
type mongoOutboxEvent struct {
	ID        string                 `bson:"_id"`
	Seq       primitive.ObjectID     `bson:"seq"`
	Type      string                 `bson:"type"`
	Payload   map[string]interface{} `bson:"payload"`
	Status    string                 `bson:"status"`
	Attempts  int                    `bson:"attempts"`
	CreatedAt time.Time              `bson:"createdAt"`
	UpdatedAt time.Time              `bson:"updatedAt"`
}

// --- Create + Outbox ---

func (r *SubmissionRepoMongoDB) Create(ctx context.Context, s *domain.Submission, evt outboxDomain.OutboxEvent) error {
	claim := mongoDedupeClaim{Key: s.DedupeKey, SubmissionID: s.ID.String(), ExpiresAt: domain.DedupeBucketEnd(s.CreatedAt)}
	ms := toMongoSubmission(s)
	mo := toMongoOutboxEvent(evt)

	if !r.useTransactions {
		return r.createSequential(ctx, claim, ms, mo)
	}

	session, err := r.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	// La transacción asegura que claim, submission y evento sean atómicos.
	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		if _, err := r.dedupeColl.InsertOne(sessCtx, claim); err != nil {
			return nil, claimError(err)
		}
		if _, err := r.submissionsColl.InsertOne(sessCtx, ms); err != nil {
			return nil, err
		}
		if _, err := r.outboxColl.InsertOne(sessCtx, mo); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

// createSequential se usa contra un mongod standalone. Si falla una escritura
// posterior al claim, deshace las anteriores.
func (r *SubmissionRepoMongoDB) createSequential(ctx context.Context, claim mongoDedupeClaim, ms mongoSubmission, mo mongoOutboxEvent) error {
	if _, err := r.dedupeColl.InsertOne(ctx, claim); err != nil {
		return claimError(err)
	}
	if _, err := r.submissionsColl.InsertOne(ctx, ms); err != nil {
		_, _ = r.dedupeColl.DeleteOne(ctx, bson.M{"_id": claim.Key})
		return err
	}
	if _, err := r.outboxColl.InsertOne(ctx, mo); err != nil {
		_, _ = r.submissionsColl.DeleteOne(ctx, bson.M{"_id": ms.ID})
		_, _ = r.dedupeColl.DeleteOne(ctx, bson.M{"_id": claim.Key})
		return err
	}
	return nil
}

func claimError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrDuplicateSubmission
	}
	return fmt.Errorf("claim dedupe key: %w", err)
}

// --- Lectura ---

func (r *SubmissionRepoMongoDB) findOne(ctx context.Context, filter bson.M) (*domain.Submission, error) {
	var ms mongoSubmission
	err := r.submissionsColl.FindOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: 1}})).Decode(&ms)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrSubmissionNotFound
		}
		return nil, err
	}
	return fromMongoSubmission(&ms)
}

func (r *SubmissionRepoMongoDB) FindByDedupeKey(ctx context.Context, key string) (*domain.Submission, error) {
	return r.findOne(ctx, bson.M{"dedupeKey": key})
}

func (r *SubmissionRepoMongoDB) GetByID(ctx context.Context, id uuid.UUID) (*domain.Submission, error) {
	return r.findOne(ctx, bson.M{"_id": id.String()})
}

func (r *SubmissionRepoMongoDB) ListByBusiness(ctx context.Context, businessID string, p sharedQuery.OffsetPagination) ([]*domain.Submission, int64, error) {
	filter := bson.M{"businessId": businessID}

	total, err := r.submissionsColl.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(p.Offset)).
		SetLimit(int64(p.Limit))

	cursor, err := r.submissionsColl.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	items := []*domain.Submission{}
	for cursor.Next(ctx) {
		var ms mongoSubmission
		if err := cursor.Decode(&ms); err != nil {
			return nil, 0, err
		}
		s, err := fromMongoSubmission(&ms)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, cursor.Err()
}

// --- Helpers de mapeo ---

func toMongoSubmission(s *domain.Submission) mongoSubmission {
	categories := make([]mongoCategory, 0, len(s.Categories))
	for _, c := range s.Categories {
		categories = append(categories, mongoCategory{Key: c.Key, Score: c.Score})
	}
	return mongoSubmission{
		ID:          s.ID.String(),
		BusinessID:  s.BusinessID,
		FranchiseID: s.FranchiseID,
		FormID:      s.FormID,
		Rating:      s.Rating,
		Categories:  categories,
		Comment:     s.Comment,
		StaffID:     s.StaffID,
		DeviceID:    s.DeviceID,
		IP:          s.IP,
		DedupeKey:   s.DedupeKey,
		CreatedBy:   s.CreatedBy,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func fromMongoSubmission(ms *mongoSubmission) (*domain.Submission, error) {
	id, err := uuid.Parse(ms.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID in submission document: %w", err)
	}
	categories := make([]domain.Category, 0, len(ms.Categories))
	for _, c := range ms.Categories {
		categories = append(categories, domain.Category{Key: c.Key, Score: c.Score})
	}
	return &domain.Submission{
		ID:          id,
		BusinessID:  ms.BusinessID,
		FranchiseID: ms.FranchiseID,
		FormID:      ms.FormID,
		Rating:      ms.Rating,
		Categories:  categories,
		Comment:     ms.Comment,
		StaffID:     ms.StaffID,
		DeviceID:    ms.DeviceID,
		IP:          ms.IP,
		DedupeKey:   ms.DedupeKey,
		CreatedBy:   ms.CreatedBy,
		CreatedAt:   ms.CreatedAt.UTC(),
		UpdatedAt:   ms.UpdatedAt.UTC(),
	}, nil
}

func toMongoOutboxEvent(evt outboxDomain.OutboxEvent) mongoOutboxEvent {
	return mongoOutboxEvent{
		ID:        evt.ID.String(),
		Seq:       primitive.NewObjectID(),
		Type:      evt.Type,
		Payload:   evt.Payload,
		Status:    string(outboxDomain.StatusPending),
		Attempts:  0,
		CreatedAt: evt.CreatedAt,
		UpdatedAt: evt.UpdatedAt,
	}
}

// Verificación en tiempo de compilación.
var _ domain.SubmissionRepository = (*SubmissionRepoMongoDB)(nil)

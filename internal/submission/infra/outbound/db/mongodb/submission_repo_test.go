package mongodb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	outboxMongo "github.com/davicafu/formintake/internal/infra/db/mongodb"
	"github.com/davicafu/formintake/internal/infra/db/storetest"
)

// Requiere un mongod real: MONGO_URL=mongodb://localhost:27017 go test ./...
func TestSubmissionRepoMongoDB_Conformance(t *testing.T) {
	uri := os.Getenv("MONGO_URL")
	if uri == "" {
		t.Skip("MONGO_URL no definida, se omite la prueba de integración")
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	ctx := context.Background()
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		// Una base de datos por subtest
		dbName := "formintake_test_" + uuid.NewString()[:8]
		db := client.Database(dbName)
		t.Cleanup(func() { _ = db.Drop(context.Background()) })

		require.NoError(t, EnsureIndexes(ctx, db))
		repo, err := NewSubmissionRepoMongoDB(ctx, client, dbName, false)
		require.NoError(t, err)
		return storetest.Backend{
			Submissions: repo,
			Outbox:      outboxMongo.NewOutboxRepoMongoDB(client, dbName),
		}
	})
}

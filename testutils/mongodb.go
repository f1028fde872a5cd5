// Package testutils holds helpers shared by tests.
package testutils

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// MongoDBURIEnv names the environment variable pointing tests at a MongoDB deployment.
const MongoDBURIEnv = "TEST_MONGODB_URI"

var (
	cacheMu                       sync.Mutex
	cachedBackingMongoDBClient    *mongo.Client
	cachedBackingMongoDBClientErr error
)

func backingMongoDBClient() (*mongo.Client, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if cachedBackingMongoDBClient != nil {
		return cachedBackingMongoDBClient, nil
	}
	if cachedBackingMongoDBClientErr != nil {
		return nil, cachedBackingMongoDBClientErr
	}
	mongoURI, ok := os.LookupEnv(MongoDBURIEnv)
	if !ok || mongoURI == "" {
		cachedBackingMongoDBClientErr = errNoMongoDB
		return nil, cachedBackingMongoDBClientErr
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	if err != nil {
		cachedBackingMongoDBClientErr = err
		return nil, cachedBackingMongoDBClientErr
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		cachedBackingMongoDBClientErr = multierr.Combine(err, client.Disconnect(ctx))
		return nil, cachedBackingMongoDBClientErr
	}
	cachedBackingMongoDBClient = client
	return client, nil
}

type noMongoDBError struct{}

func (noMongoDBError) Error() string {
	return MongoDBURIEnv + " not set"
}

var errNoMongoDB = noMongoDBError{}

// BackingMongoDBClient returns a client for the deployment named by TEST_MONGODB_URI and skips
// the test when there is none.
func BackingMongoDBClient(t *testing.T) *mongo.Client {
	t.Helper()
	client, err := backingMongoDBClient()
	if err != nil {
		t.Skipf("skipping MongoDB test: %v", err)
		return nil
	}
	return client
}

// NewMongoDBDatabase returns a randomly named database that is dropped when the test ends.
func NewMongoDBDatabase(t *testing.T, client *mongo.Client) string {
	t.Helper()
	name := "test_" + utils.RandomAlphaString(8)
	t.Cleanup(func() {
		utils.UncheckedError(client.Database(name).Drop(context.Background()))
	})
	return name
}

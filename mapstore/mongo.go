package mapstore

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/multierr"

	"go.viam.com/anchormap/logging"
	"go.viam.com/anchormap/spatialmap"
)

// MapsCollection is the collection maps are stored in, keyed by map id.
const MapsCollection = "maps"

type mongoStore struct {
	client     *mongo.Client
	ownsClient bool
	maps       *mongo.Collection
	logger     logging.Logger
}

// NewMongoStore connects to uri and stores maps in the given database.
func NewMongoStore(ctx context.Context, uri, database string, logger logging.Logger) (Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connecting to mongo")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "pinging mongo"), client.Disconnect(ctx))
	}
	logger.Infow("connected to mongo", "database", database)
	return &mongoStore{client: client, ownsClient: true, maps: client.Database(database).Collection(MapsCollection), logger: logger}, nil
}

// NewMongoStoreFromClient uses an already connected client, which Close leaves connected.
func NewMongoStoreFromClient(client *mongo.Client, database string, logger logging.Logger) Store {
	return &mongoStore{client: client, maps: client.Database(database).Collection(MapsCollection), logger: logger}
}

func (s *mongoStore) Upsert(ctx context.Context, m *spatialmap.Map) error {
	if err := validateForWrite(m); err != nil {
		return err
	}
	_, err := s.maps.ReplaceOne(ctx, bson.M{"_id": m.ID}, m, options.Replace().SetUpsert(true))
	return errors.Wrapf(err, "upserting map %q", m.ID)
}

func (s *mongoStore) Get(ctx context.Context, id string) (*spatialmap.Map, error) {
	var m spatialmap.Map
	if err := s.maps.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errors.Wrap(ErrNotFound, id)
		}
		return nil, errors.Wrapf(err, "getting map %q", id)
	}
	return &m, nil
}

func (s *mongoStore) Delete(ctx context.Context, id string) error {
	res, err := s.maps.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrapf(err, "deleting map %q", id)
	}
	if res.DeletedCount == 0 {
		return errors.Wrap(ErrNotFound, id)
	}
	return nil
}

func (s *mongoStore) List(ctx context.Context) ([]*spatialmap.Map, error) {
	cursor, err := s.maps.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "listing maps")
	}
	var maps []*spatialmap.Map
	if err := cursor.All(ctx, &maps); err != nil {
		return nil, errors.Wrap(err, "decoding maps")
	}
	return maps, nil
}

func (s *mongoStore) Close(ctx context.Context) error {
	if !s.ownsClient {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil && !errors.Is(err, mongo.ErrClientDisconnected) {
		return err
	}
	return nil
}

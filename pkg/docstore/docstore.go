// Package docstore reads and writes hourly summary documents in MongoDB.
package docstore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/taxiflow/taxiflow/internal/model"
	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
)

// Config configures the connection.
type Config struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

// summaryDoc is the stored form of a model.HourlySummary.
type summaryDoc struct {
	PickupHour  int       `bson:"pickup_hour"`
	AvgDistance float64   `bson:"avg_distance"`
	AvgAmount   float64   `bson:"avg_amount"`
	TotalTrips  int64     `bson:"total_trips"`
	RunID       string    `bson:"run_id,omitempty"`
	StoredAt    time.Time `bson:"stored_at"`
}

// Store wraps one collection of summary documents.
type Store struct {
	client  *mongo.Client
	coll    *mongo.Collection
	timeout time.Duration
}

// Open connects to MongoDB and pings the server.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, tferrors.New(tferrors.CodeConfig, "docstore.uri is not set")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	opts := options.Client().ApplyURI(cfg.URI).SetConnectTimeout(cfg.Timeout).SetServerSelectionTimeout(cfg.Timeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, tferrors.Wrap(err, tferrors.CodeConfig, "invalid docstore uri")
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, classify(err, "docstore unreachable")
	}

	s := NewWithCollection(client.Database(cfg.Database).Collection(cfg.Collection), cfg.Timeout)
	s.client = client
	return s, nil
}

// NewWithCollection wraps an existing collection.
func NewWithCollection(coll *mongo.Collection, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Store{coll: coll, timeout: timeout}
}

// Summaries returns the stored summary ordered by pickup hour.
func (s *Store) Summaries(ctx context.Context) ([]model.HourlySummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cur, err := s.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "pickup_hour", Value: 1}}))
	if err != nil {
		return nil, classify(err, "failed to query summaries")
	}
	defer cur.Close(ctx)

	out := make([]model.HourlySummary, 0, 24)
	for cur.Next(ctx) {
		var doc summaryDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, tferrors.Wrap(err, tferrors.CodeParse, "malformed summary document")
		}
		out = append(out, model.HourlySummary{
			PickupHour:  doc.PickupHour,
			AvgDistance: doc.AvgDistance,
			AvgAmount:   doc.AvgAmount,
			TotalTrips:  doc.TotalTrips,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, classify(err, "failed to read summaries")
	}
	return out, nil
}

// ReplaceSummaries swaps the collection contents for rows.
func (s *Store) ReplaceSummaries(ctx context.Context, runID string, rows []model.HourlySummary) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.coll.DeleteMany(ctx, bson.D{}); err != nil {
		return classify(err, "failed to clear summaries")
	}
	if len(rows) == 0 {
		return nil
	}

	now := time.Now().UTC()
	docs := make([]interface{}, len(rows))
	for i, r := range rows {
		docs[i] = summaryDoc{
			PickupHour:  r.PickupHour,
			AvgDistance: r.AvgDistance,
			AvgAmount:   r.AvgAmount,
			TotalTrips:  r.TotalTrips,
			RunID:       runID,
			StoredAt:    now,
		}
	}
	if _, err := s.coll.InsertMany(ctx, docs); err != nil {
		return classify(err, "failed to store summaries")
	}
	return nil
}

// Close disconnects the client, if Open created one.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func classify(err error, msg string) error {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && (cmdErr.Code == 13 || cmdErr.Code == 18) { // Unauthorized, AuthenticationFailed
		return tferrors.Wrap(err, tferrors.CodeAuthentication, msg)
	}
	return tferrors.Wrap(err, tferrors.CodeNetwork, msg)
}

// Package mongo stores one document per item, keyed by _id = item id.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/typesarecool/myhn/pkg/item"
	"github.com/typesarecool/myhn/pkg/store"
)

// Backend is the metrics and configuration name of this store.
const Backend = "mongo"

const (
	itemsCollection = "items"
	defaultDBName   = "hn"
)

// document is the stored shape of an item.
type document struct {
	ID              int64   `bson:"_id"`
	Kind            string  `bson:"type,omitempty"`
	Deleted         *bool   `bson:"deleted,omitempty"`
	Dead            *bool   `bson:"dead,omitempty"`
	Author          *string `bson:"by,omitempty"`
	CreatedAt       *int64  `bson:"time,omitempty"`
	Text            *string `bson:"text,omitempty"`
	Title           *string `bson:"title,omitempty"`
	URL             *string `bson:"url,omitempty"`
	Score           *int64  `bson:"score,omitempty"`
	DescendantCount *int64  `bson:"descendants,omitempty"`
	Parent          *int64  `bson:"parent,omitempty"`
	Poll            *int64  `bson:"poll,omitempty"`
	Children        []int64 `bson:"kids,omitempty"`
	Parts           []int64 `bson:"parts,omitempty"`
}

func toDocument(it item.Item) document {
	return document{
		ID:              it.ID,
		Kind:            string(it.Kind),
		Deleted:         it.Deleted,
		Dead:            it.Dead,
		Author:          it.Author,
		CreatedAt:       it.CreatedAt,
		Text:            it.Text,
		Title:           it.Title,
		URL:             it.URL,
		Score:           it.Score,
		DescendantCount: it.DescendantCount,
		Parent:          it.Parent,
		Poll:            it.Poll,
		Children:        it.Children,
		Parts:           it.Parts,
	}
}

func (d document) item() item.Item {
	it := item.Item{
		ID:              d.ID,
		Kind:            item.Kind(d.Kind),
		Deleted:         d.Deleted,
		Dead:            d.Dead,
		Author:          d.Author,
		CreatedAt:       d.CreatedAt,
		Text:            d.Text,
		Title:           d.Title,
		URL:             d.URL,
		Score:           d.Score,
		DescendantCount: d.DescendantCount,
		Parent:          d.Parent,
		Poll:            d.Poll,
	}
	if len(d.Children) > 0 {
		it.Children = d.Children
	}
	if len(d.Parts) > 0 {
		it.Parts = d.Parts
	}
	return it
}

// Store is a MongoDB item collection.
type Store struct {
	client *mongodriver.Client
	items  *mongodriver.Collection
	logger zerolog.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to uri, pings the primary and ensures indexes. The database
// name is taken from the uri path, defaulting to "hn".
func Open(ctx context.Context, uri string, logger zerolog.Logger) (*Store, error) {
	if uri == "" {
		return nil, errors.New("mongo store: uri is required")
	}

	cli, err := mongodriver.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	s := &Store{
		client: cli,
		items:  cli.Database(databaseFromURI(uri)).Collection(itemsCollection),
		logger: logger,
	}

	if _, err := s.items.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "parent", Value: 1}},
		Options: options.Index().SetName("parent_asc"),
	}); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("mongo ensure indexes: %w", err)
	}

	logger.Info().Str("collection", itemsCollection).Msg("Opened MongoDB store")
	return s, nil
}

// Upsert replaces the document for it.ID, inserting it when absent.
func (s *Store) Upsert(ctx context.Context, it item.Item) error {
	_, err := s.items.ReplaceOne(ctx,
		bson.M{"_id": it.ID},
		toDocument(it),
		options.Replace().SetUpsert(true))
	store.ObserveUpsert(Backend, err)
	if err != nil {
		return fmt.Errorf("mongo upsert %d: %w", it.ID, err)
	}
	return nil
}

// Get returns the item stored under id.
func (s *Store) Get(ctx context.Context, id int64) (item.Item, error) {
	var doc document
	err := s.items.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return item.Item{}, store.ErrNotFound
	}
	if err != nil {
		return item.Item{}, fmt.Errorf("mongo get %d: %w", id, err)
	}
	return doc.item(), nil
}

// QueryRange returns items with minID <= id <= maxID in ascending id order.
func (s *Store) QueryRange(ctx context.Context, minID, maxID int64) ([]item.Item, error) {
	cur, err := s.items.Find(ctx,
		bson.M{"_id": bson.M{"$gte": minID, "$lte": maxID}},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongo query range: %w", err)
	}
	defer cur.Close(ctx)

	var items []item.Item
	for cur.Next(ctx) {
		var doc document
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo query range: %w", err)
		}
		items = append(items, doc.item())
	}
	return items, cur.Err()
}

// LastID returns the highest stored id, or 0.
func (s *Store) LastID(ctx context.Context) (int64, error) {
	var doc struct {
		ID int64 `bson:"_id"`
	}
	err := s.items.FindOne(ctx, bson.M{},
		options.FindOne().
			SetSort(bson.D{{Key: "_id", Value: -1}}).
			SetProjection(bson.M{"_id": 1})).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("mongo last id: %w", err)
	}
	return doc.ID, nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

// databaseFromURI returns the database named in the uri path, or the default.
func databaseFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err == nil {
		if name := strings.Trim(u.Path, "/"); name != "" {
			return name
		}
	}
	return defaultDBName
}

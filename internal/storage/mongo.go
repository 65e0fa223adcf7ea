// Package storage implements the ledger stores on MongoDB.
package storage

import (
	"context"
	"fmt"
	"time"

	"sjsage522/priceworker/internal/ledger"
	"sjsage522/priceworker/pkg/errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStorage holds products and price histories
type MongoStorage struct {
	client   *mongo.Client
	db       *mongo.Database
	products *mongo.Collection
	prices   *mongo.Collection
}

// NewMongoStorage connects and ensures the history index exists
func NewMongoStorage(ctx context.Context, uri, dbName, productsColl, pricesColl string) (*MongoStorage, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(dbName)
	s := &MongoStorage{
		client:   client,
		db:       db,
		products: db.Collection(productsColl),
		prices:   db.Collection(pricesColl),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStorage) ensureIndexes(ctx context.Context) error {
	_, err := s.prices.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "product_id", Value: 1}, {Key: "shop_sld", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create price history index: %w", err)
	}
	return nil
}

func (s *MongoStorage) Close() error {
	return s.client.Disconnect(context.Background())
}

// AppendPrice pushes point unless the history already has that date. The
// upsert relies on the unique (product_id, shop_sld) index: when the date is
// present the filter misses, the upsert collides, and the write is skipped.
func (s *MongoStorage) AppendPrice(ctx context.Context, key ledger.HistoryKey, siteID string, point ledger.PricePoint) (bool, error) {
	filter := bson.M{
		"product_id":  key.ProductID,
		"shop_sld":    key.SiteKey,
		"prices.date": bson.M{"$ne": point.Date},
	}
	update := bson.M{
		"$push":        bson.M{"prices": point},
		"$setOnInsert": bson.M{"shop_id": siteID},
	}

	res, err := s.prices.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err == nil {
		return res.ModifiedCount > 0 || res.UpsertedCount > 0, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return false, fmt.Errorf("append price for %s: %w", key, err)
	}

	// either today's point exists already or a concurrent insert won
	entry, findErr := s.Entry(ctx, key)
	if findErr != nil {
		return false, errors.NewLedgerConflict(key.SiteKey, "history insert collided", err)
	}
	if entry.HasDate(point.Date) {
		return false, nil
	}
	return false, errors.NewLedgerConflict(key.SiteKey, "history insert collided", err)
}

func (s *MongoStorage) History(ctx context.Context, productID string) ([]ledger.HistoryEntry, error) {
	cursor, err := s.prices.Find(ctx, bson.M{"product_id": productID},
		options.Find().SetSort(bson.D{{Key: "shop_sld", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find history of %s: %w", productID, err)
	}
	defer cursor.Close(ctx)

	var entries []ledger.HistoryEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decode history of %s: %w", productID, err)
	}
	return entries, nil
}

func (s *MongoStorage) Entry(ctx context.Context, key ledger.HistoryKey) (*ledger.HistoryEntry, error) {
	var entry ledger.HistoryEntry
	err := s.prices.FindOne(ctx, bson.M{"product_id": key.ProductID, "shop_sld": key.SiteKey}).Decode(&entry)
	if err == mongo.ErrNoDocuments {
		return nil, ledger.ErrHistoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find history %s: %w", key, err)
	}
	return &entry, nil
}

// productDocument adds the ObjectId the ledger model leaves out
type productDocument struct {
	ID             primitive.ObjectID `bson:"_id"`
	ledger.Product `bson:",inline"`
}

func (d productDocument) toProduct() ledger.Product {
	p := d.Product
	p.ID = d.ID.Hex()
	return p
}

func (s *MongoStorage) EligibleProducts(ctx context.Context) ([]ledger.Product, error) {
	filter := bson.M{
		"upload": true,
		"shop_urls": bson.M{"$elemMatch": bson.M{
			"priceCC": bson.M{"$ne": false},
		}},
	}
	cursor, err := s.products.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find eligible products: %w", err)
	}
	defer cursor.Close(ctx)

	var products []ledger.Product
	for cursor.Next(ctx) {
		var doc productDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode product: %w", err)
		}
		p := doc.toProduct()
		if p.Eligible() {
			products = append(products, p)
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

func (s *MongoStorage) Product(ctx context.Context, id string) (*ledger.Product, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ledger.ErrProductNotFound
	}

	var doc productDocument
	err = s.products.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ledger.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find product %s: %w", id, err)
	}
	p := doc.toProduct()
	return &p, nil
}

// AppendCheapest pushes entry unless the last cheapest entry has the same date.
// The $arrayElemAt guard keeps the check and the push in one update.
func (s *MongoStorage) AppendCheapest(ctx context.Context, productID string, entry ledger.CheapestEntry) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(productID)
	if err != nil {
		return false, ledger.ErrProductNotFound
	}

	filter := bson.M{
		"_id": oid,
		"$expr": bson.M{"$ne": bson.A{
			bson.M{"$arrayElemAt": bson.A{bson.M{"$ifNull": bson.A{"$cheapest.date", bson.A{}}}, -1}},
			entry.Date,
		}},
	}
	res, err := s.products.UpdateOne(ctx, filter, bson.M{"$push": bson.M{"cheapest": entry}})
	if err != nil {
		return false, fmt.Errorf("append cheapest to %s: %w", productID, err)
	}
	if res.MatchedCount > 0 {
		return true, nil
	}

	// distinguish "already appended today" from "no such product"
	count, err := s.products.CountDocuments(ctx, bson.M{"_id": oid})
	if err != nil {
		return false, fmt.Errorf("find product %s: %w", productID, err)
	}
	if count == 0 {
		return false, ledger.ErrProductNotFound
	}
	return false, nil
}

// InsertProduct stores a product and returns its id. Used by seeding tools and tests.
func (s *MongoStorage) InsertProduct(ctx context.Context, p ledger.Product) (string, error) {
	doc := productDocument{ID: primitive.NewObjectID(), Product: p}
	if doc.ShopURLs == nil {
		doc.ShopURLs = []ledger.ShopURL{}
	}
	if doc.Cheapest == nil {
		doc.Cheapest = []ledger.CheapestEntry{}
	}
	if _, err := s.products.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("insert product: %w", err)
	}
	return doc.ID.Hex(), nil
}

var (
	_ ledger.HistoryStore = (*MongoStorage)(nil)
	_ ledger.ProductStore = (*MongoStorage)(nil)
)

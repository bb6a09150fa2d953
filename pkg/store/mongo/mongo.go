// Package mongo provides a MongoDB implementation of [store.Store].
//
// Each block is one document in the blocks collection, keyed by its id string. The
// children list is an embedded array updated with $push and $pull, and descendants
// come from a single $graphLookup aggregation restricted to the owner's live blocks.
//
// [Store.WithinTx] uses a session transaction when transactions are enabled. That
// needs a replica set; against a standalone server the unit of work runs its writes in
// sequence without rollback.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/hydranotes/hydra/pkg/models"
	"github.com/hydranotes/hydra/pkg/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Config holds the connection parameters.
type Config struct {
	URI      string
	Database string

	// Transactions runs WithinTx in a session transaction.
	Transactions bool
}

// Store implements store.Store on MongoDB.
type Store struct {
	ops
	client       *mongo.Client
	transactions bool
}

var _ store.Store = (*Store)(nil)

// New connects to the server at cfg.URI and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*Store, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(10).
		SetMinPoolSize(1).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return NewFromClient(client, cfg.Database, cfg.Transactions), nil
}

// NewFromClient wraps a connected client. The blocks collection decodes with
// [Registry] whatever registry the client was built with.
func NewFromClient(client *mongo.Client, database string, transactions bool) *Store {
	return &Store{
		ops:          ops{coll: client.Database(database).Collection(models.BlocksTable, options.Collection().SetRegistry(Registry()))},
		client:       client,
		transactions: transactions,
	}
}

// Migrate creates the collection indexes.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "parent_id", Value: 1}, {Key: "order", Value: 1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "depth", Value: 1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "updated_at", Value: -1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "deleted_at", Value: 1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "portals_in", Value: 1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "backlinks", Value: 1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "tags", Value: 1}}},
	}
	if _, err := s.coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// Close disconnects the client
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if !s.transactions {
		return fn(ctx, s.ops)
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc, s.ops)
	})
	return err
}

// ops holds the operations shared by the store and its units of work. Inside a
// transaction the context carries the session.
type ops struct {
	coll *mongo.Collection
}

func live(owner models.UserID) bson.M {
	return bson.M{"owner_id": owner, "deleted_at": nil}
}

func with(filter bson.M, key string, value any) bson.M {
	filter[key] = value
	return filter
}

func (o ops) GetBlock(ctx context.Context, owner models.UserID, id models.BlockID) (*models.Block, error) {
	return o.findOne(ctx, with(live(owner), "_id", id))
}

func (o ops) LookupBlock(ctx context.Context, owner models.UserID, id models.BlockID) (*models.Block, error) {
	return o.findOne(ctx, bson.M{"_id": id, "owner_id": owner})
}

func (o ops) findOne(ctx context.Context, filter bson.M) (*models.Block, error) {
	var block models.Block
	if err := o.coll.FindOne(ctx, filter).Decode(&block); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &block, nil
}

func (o ops) MaxSiblingOrder(ctx context.Context, owner models.UserID, parent *models.BlockID) (int, bool, error) {
	filter := live(owner)
	if parent == nil {
		filter["parent_id"] = nil
	} else {
		filter["parent_id"] = *parent
	}
	opts := options.FindOne().
		SetSort(bson.D{{Key: "order", Value: -1}}).
		SetProjection(bson.M{"order": 1})

	var doc struct {
		Order int `bson:"order"`
	}
	if err := o.coll.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return doc.Order, true, nil
}

type traversal struct {
	Descendants []struct {
		models.Block `bson:",inline"`
		Hop          int `bson:"hop"`
	} `bson:"descendants"`
}

func (o ops) Descendants(ctx context.Context, owner models.UserID, id models.BlockID, maxDepth int) ([]*models.Block, error) {
	if maxDepth == store.Unbounded || maxDepth > store.MaxTraversalDepth {
		maxDepth = store.MaxTraversalDepth
	}
	if maxDepth < 1 {
		if _, err := o.GetBlock(ctx, owner, id); err != nil {
			return nil, err
		}
		return []*models.Block{}, nil
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: with(live(owner), "_id", id)}},
		{{Key: "$graphLookup", Value: bson.M{
			"from":                    models.BlocksTable,
			"startWith":               "$children",
			"connectFromField":        "children",
			"connectToField":          "_id",
			"as":                      "descendants",
			"maxDepth":                maxDepth - 1,
			"depthField":              "hop",
			"restrictSearchWithMatch": live(owner),
		}}},
	}
	cursor, err := o.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to traverse descendants: %w", err)
	}
	var results []traversal
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode descendants: %w", err)
	}
	if len(results) == 0 {
		return nil, store.ErrNotFound
	}

	levels := make(map[models.BlockID]int)
	blocks := []*models.Block{}
	for _, d := range results[0].Descendants {
		if d.ID == id {
			continue
		}
		b := d.Block
		levels[b.ID] = d.Hop + 1
		blocks = append(blocks, &b)
	}
	store.SortByLevel(blocks, levels)
	return blocks, nil
}

func (o ops) ListBlocks(ctx context.Context, owner models.UserID, q store.ListQuery) ([]*models.Block, int, error) {
	filter := live(owner)
	switch q.Filter.Kind {
	case store.FilterRoots:
		filter["parent_id"] = nil
	case store.FilterParent:
		filter["parent_id"] = q.Filter.ParentID
	}

	total, err := o.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().SetSort(bson.D{
		{Key: "order", Value: 1},
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	if q.Offset > 0 {
		opts.SetSkip(int64(q.Offset))
	}
	cursor, err := o.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	blocks := []*models.Block{}
	if err := cursor.All(ctx, &blocks); err != nil {
		return nil, 0, err
	}
	return blocks, int(total), nil
}

func (o ops) ListOwners(ctx context.Context) ([]models.UserID, error) {
	values, err := o.coll.Distinct(ctx, "owner_id", bson.M{"deleted_at": nil})
	if err != nil {
		return nil, err
	}
	owners := make([]models.UserID, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			owners = append(owners, models.UserID(s))
		}
	}
	slices.Sort(owners)
	return owners, nil
}

func (o ops) InsertBlock(ctx context.Context, block *models.Block) error {
	if block.ID.IsZero() {
		block.ID = models.NewBlockID()
	}
	doc := block.Clone()
	for _, list := range []*models.BlockIDs{&doc.Children, &doc.PortalsIn, &doc.Backlinks} {
		if *list == nil {
			*list = models.BlockIDs{}
		}
	}
	_, err := o.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	return err
}

func (o ops) UpdateBlock(ctx context.Context, owner models.UserID, id models.BlockID, p store.Patch) error {
	res, err := o.coll.UpdateOne(ctx, with(live(owner), "_id", id), patchUpdate(p))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// patchUpdate renders a patch as an update document. A cleared parent is unset so
// roots never carry parent_id. Other cleared optionals are set to null, which reads
// back as nil like a missing field.
func patchUpdate(p store.Patch) bson.M {
	set := bson.M{"updated_at": p.UpdatedAt}
	unset := bson.M{}
	if p.Content != nil {
		set["content"] = *p.Content
	}
	if p.BlockType != nil {
		set["block_type"] = *p.BlockType
	}
	if v, ok := p.BlockProps.Get(); ok {
		set["block_props"] = v
	}
	if v, ok := p.UIState.Get(); ok {
		set["ui_state"] = v
	}
	if v, ok := p.ParentID.Get(); ok {
		if v == nil {
			unset["parent_id"] = ""
		} else {
			set["parent_id"] = *v
		}
	}
	if p.Order != nil {
		set["order"] = *p.Order
	}
	if p.Depth != nil {
		set["depth"] = *p.Depth
	}
	if v, ok := p.Children.Get(); ok {
		if v == nil {
			v = models.BlockIDs{}
		}
		set["children"] = v
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	if p.BumpVersion {
		update["$inc"] = bson.M{"version": 1}
	}
	return update
}

func (o ops) PushChild(ctx context.Context, owner models.UserID, parent, child models.BlockID, at time.Time) error {
	res, err := o.coll.UpdateOne(ctx, with(live(owner), "_id", parent), bson.M{
		"$push": bson.M{"children": child},
		"$set":  bson.M{"updated_at": at},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (o ops) PullChild(ctx context.Context, owner models.UserID, parent, child models.BlockID, at time.Time) error {
	_, err := o.coll.UpdateOne(ctx, bson.M{"_id": parent, "owner_id": owner}, bson.M{
		"$pull": bson.M{"children": child},
		"$set":  bson.M{"updated_at": at},
	})
	return err
}

func (o ops) SoftDelete(ctx context.Context, owner models.UserID, ids []models.BlockID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := o.coll.UpdateMany(ctx, with(live(owner), "_id", bson.M{"$in": ids}), bson.M{
		"$set": bson.M{"deleted_at": at, "updated_at": at},
	})
	return err
}

func (o ops) ShiftDepth(ctx context.Context, owner models.UserID, ids []models.BlockID, delta int, at time.Time) error {
	if len(ids) == 0 || delta == 0 {
		return nil
	}
	_, err := o.coll.UpdateMany(ctx, with(live(owner), "_id", bson.M{"$in": ids}), bson.M{
		"$inc": bson.M{"depth": delta},
		"$set": bson.M{"updated_at": at},
	})
	return err
}

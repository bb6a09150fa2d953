// Package surrealdb provides a SurrealDB implementation of [store.Store] using native
// SurrealQL through the surrealdb.go SDK.
//
// Blocks are records in the blocks table, keyed blocks:<uuid>. Typed ids marshal to
// record ids over CBOR, so parent_id and children hold record links rather than
// strings. Timestamps travel as SurrealDB datetimes.
//
// # Transactions
//
// SurrealDB runs a transaction only within a single query call. [Store.WithinTx]
// therefore passes reads straight through and buffers every write, then sends the
// buffered statements as one BEGIN TRANSACTION ... COMMIT TRANSACTION query when the
// unit of work returns. Writes issued inside a unit of work are not visible to its own
// reads, and PushChild or UpdateBlock on a missing record cannot report ErrNotFound
// there; the tree manager validates everything it writes before the first write.
//
// # Security and Query Safety
//
// Every value is bound as a $param. Statement text is assembled only from fixed field
// names.
//
// # Usage Example
//
//	s, err := surrealdb.New(ctx, surrealdb.Config{
//		URL:       "ws://localhost:8000/rpc",
//		Namespace: "hydra",
//		Database:  "hydra",
//		Username:  "root",
//		Password:  "root",
//	})
//	if err != nil {
//		return err
//	}
//	defer s.Close()
package surrealdb

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/hydranotes/hydra/pkg/models"
	"github.com/hydranotes/hydra/pkg/store"
	"github.com/surrealdb/surrealdb.go"
	sdkmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Config holds the connection parameters.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
}

// Store implements store.Store on SurrealDB.
type Store struct {
	db *surrealdb.DB
}

var _ store.Store = (*Store)(nil)

// New connects, signs in when credentials are given and selects the namespace and
// database.
func New(ctx context.Context, cfg Config) (*Store, error) {
	db, err := surrealdb.FromEndpointURLString(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if cfg.Username != "" && cfg.Password != "" {
		if _, err := db.SignIn(ctx, &surrealdb.Auth{
			Username: cfg.Username,
			Password: cfg.Password,
		}); err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("failed to use namespace/database: %w", err)
	}
	return &Store{db: db}, nil
}

// Migrate defines the blocks table and its indexes. Tables would be created on first
// insert anyway; the indexes are what matters here.
func (s *Store) Migrate(ctx context.Context) error {
	const schema = `
DEFINE TABLE IF NOT EXISTS blocks SCHEMALESS;
DEFINE INDEX IF NOT EXISTS idx_blocks_owner_parent_order ON blocks FIELDS owner_id, parent_id, ` + "`order`" + `;
DEFINE INDEX IF NOT EXISTS idx_blocks_owner_depth ON blocks FIELDS owner_id, depth;
DEFINE INDEX IF NOT EXISTS idx_blocks_owner_updated ON blocks FIELDS owner_id, updated_at;
DEFINE INDEX IF NOT EXISTS idx_blocks_owner_deleted ON blocks FIELDS owner_id, deleted_at;
DEFINE INDEX IF NOT EXISTS idx_blocks_owner_portals_in ON blocks FIELDS owner_id, portals_in;
DEFINE INDEX IF NOT EXISTS idx_blocks_owner_backlinks ON blocks FIELDS owner_id, backlinks;
DEFINE INDEX IF NOT EXISTS idx_blocks_owner_tags ON blocks FIELDS owner_id, tags;`
	if _, err := query[any](ctx, s.db, schema, nil); err != nil {
		return fmt.Errorf("failed to define schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close(context.Background())
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	b := &batch{}
	if err := fn(ctx, ops{db: s.db, batch: b}); err != nil {
		return err
	}
	if len(b.stmts) == 0 {
		return nil
	}
	sql := "BEGIN TRANSACTION;\n" + strings.Join(b.stmts, ";\n") + ";\nCOMMIT TRANSACTION;"
	if _, err := query[any](ctx, s.db, sql, b.vars); err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}
	return nil
}

func (s *Store) ops() ops { return ops{db: s.db} }

func (s *Store) GetBlock(ctx context.Context, owner models.UserID, id models.BlockID) (*models.Block, error) {
	return s.ops().GetBlock(ctx, owner, id)
}

func (s *Store) LookupBlock(ctx context.Context, owner models.UserID, id models.BlockID) (*models.Block, error) {
	return s.ops().LookupBlock(ctx, owner, id)
}

func (s *Store) MaxSiblingOrder(ctx context.Context, owner models.UserID, parent *models.BlockID) (int, bool, error) {
	return s.ops().MaxSiblingOrder(ctx, owner, parent)
}

func (s *Store) Descendants(ctx context.Context, owner models.UserID, id models.BlockID, maxDepth int) ([]*models.Block, error) {
	return s.ops().Descendants(ctx, owner, id, maxDepth)
}

func (s *Store) ListBlocks(ctx context.Context, owner models.UserID, q store.ListQuery) ([]*models.Block, int, error) {
	return s.ops().ListBlocks(ctx, owner, q)
}

func (s *Store) ListOwners(ctx context.Context) ([]models.UserID, error) {
	return s.ops().ListOwners(ctx)
}

func (s *Store) InsertBlock(ctx context.Context, block *models.Block) error {
	return s.ops().InsertBlock(ctx, block)
}

func (s *Store) UpdateBlock(ctx context.Context, owner models.UserID, id models.BlockID, p store.Patch) error {
	return s.ops().UpdateBlock(ctx, owner, id, p)
}

func (s *Store) PushChild(ctx context.Context, owner models.UserID, parent, child models.BlockID, at time.Time) error {
	return s.ops().PushChild(ctx, owner, parent, child, at)
}

func (s *Store) PullChild(ctx context.Context, owner models.UserID, parent, child models.BlockID, at time.Time) error {
	return s.ops().PullChild(ctx, owner, parent, child, at)
}

func (s *Store) SoftDelete(ctx context.Context, owner models.UserID, ids []models.BlockID, at time.Time) error {
	return s.ops().SoftDelete(ctx, owner, ids, at)
}

func (s *Store) ShiftDepth(ctx context.Context, owner models.UserID, ids []models.BlockID, delta int, at time.Time) error {
	return s.ops().ShiftDepth(ctx, owner, ids, delta, at)
}

// batch collects the writes of a unit of work. Each statement gets its own variable
// prefix so bindings never collide.
type batch struct {
	stmts []string
	vars  map[string]any
}

func (b *batch) add(stmt string, vars map[string]any) {
	prefix := fmt.Sprintf("s%d_", len(b.stmts))
	if b.vars == nil {
		b.vars = make(map[string]any)
	}
	// Longest names first so $id is not rewritten inside $ids.
	names := slices.SortedFunc(maps.Keys(vars), func(a, b string) int { return len(b) - len(a) })
	for _, name := range names {
		stmt = strings.ReplaceAll(stmt, "$"+name, "$"+prefix+name)
		b.vars[prefix+name] = vars[name]
	}
	b.stmts = append(b.stmts, stmt)
}

// ops runs statements directly, or appends writes to batch inside a unit of work.
type ops struct {
	db    *surrealdb.DB
	batch *batch
}

// exec runs a write statement that returns the ids it touched. Deferred writes report
// one match because the outcome is unknown until commit.
func (o ops) exec(ctx context.Context, stmt string, vars map[string]any) (int, error) {
	if o.batch != nil {
		o.batch.add(stmt, vars)
		return 1, nil
	}
	rows, err := query[[]idRow](ctx, o.db, stmt, vars)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

type idRow struct {
	ID models.BlockID `json:"id"`
}

const liveFilter = "owner_id = $owner AND deleted_at = NONE"

func (o ops) one(ctx context.Context, stmt string, vars map[string]any) (*models.Block, error) {
	docs, err := query[[]blockDoc](ctx, o.db, stmt, vars)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, store.ErrNotFound
	}
	return docs[0].block(), nil
}

func (o ops) GetBlock(ctx context.Context, owner models.UserID, id models.BlockID) (*models.Block, error) {
	return o.one(ctx, "SELECT * FROM $id WHERE "+liveFilter, map[string]any{
		"id":    id.RecordID(),
		"owner": owner,
	})
}

func (o ops) LookupBlock(ctx context.Context, owner models.UserID, id models.BlockID) (*models.Block, error) {
	return o.one(ctx, "SELECT * FROM $id WHERE owner_id = $owner", map[string]any{
		"id":    id.RecordID(),
		"owner": owner,
	})
}

func parentClause(parent *models.BlockID, vars map[string]any) string {
	if parent == nil {
		return "(parent_id = NONE OR parent_id = NULL)"
	}
	vars["parent"] = parent.RecordID()
	return "parent_id = $parent"
}

func (o ops) MaxSiblingOrder(ctx context.Context, owner models.UserID, parent *models.BlockID) (int, bool, error) {
	vars := map[string]any{"owner": owner}
	stmt := "SELECT `order` FROM blocks WHERE " + liveFilter + " AND " + parentClause(parent, vars) +
		" ORDER BY `order` DESC LIMIT 1"
	rows, err := query[[]struct {
		Order int `json:"order"`
	}](ctx, o.db, stmt, vars)
	if err != nil {
		return 0, false, err
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return rows[0].Order, true, nil
}

// Descendants walks one level per query, fetching the live blocks of the current
// frontier. The visited set stops cycles.
func (o ops) Descendants(ctx context.Context, owner models.UserID, id models.BlockID, maxDepth int) ([]*models.Block, error) {
	root, err := o.GetBlock(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if maxDepth == store.Unbounded || maxDepth > store.MaxTraversalDepth {
		maxDepth = store.MaxTraversalDepth
	}

	visited := map[models.BlockID]bool{id: true}
	levels := make(map[models.BlockID]int)
	out := []*models.Block{}
	frontier := root.Children
	for hop := 1; hop <= maxDepth && len(frontier) > 0; hop++ {
		next := make([]sdkmodels.RecordID, 0, len(frontier))
		for _, child := range frontier {
			if !visited[child] {
				visited[child] = true
				next = append(next, child.RecordID())
			}
		}
		if len(next) == 0 {
			break
		}
		docs, err := query[[]blockDoc](ctx, o.db, "SELECT * FROM blocks WHERE id IN $frontier AND "+liveFilter, map[string]any{
			"frontier": next,
			"owner":    owner,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to traverse descendants: %w", err)
		}
		frontier = nil
		for _, d := range docs {
			b := d.block()
			levels[b.ID] = hop
			out = append(out, b)
			frontier = append(frontier, b.Children...)
		}
	}
	store.SortByLevel(out, levels)
	return out, nil
}

func (o ops) ListBlocks(ctx context.Context, owner models.UserID, q store.ListQuery) ([]*models.Block, int, error) {
	vars := map[string]any{"owner": owner}
	where := liveFilter
	switch q.Filter.Kind {
	case store.FilterRoots:
		where += " AND " + parentClause(nil, vars)
	case store.FilterParent:
		where += " AND " + parentClause(&q.Filter.ParentID, vars)
	}

	counts, err := query[[]struct {
		Total int `json:"total"`
	}](ctx, o.db, "SELECT count() AS total FROM blocks WHERE "+where+" GROUP ALL", vars)
	if err != nil {
		return nil, 0, err
	}
	total := 0
	if len(counts) > 0 {
		total = counts[0].Total
	}

	stmt := "SELECT * FROM blocks WHERE " + where + " ORDER BY `order` ASC, created_at ASC"
	if q.Limit > 0 {
		stmt += " LIMIT $limit"
		vars["limit"] = q.Limit
	}
	if q.Offset > 0 {
		stmt += " START $offset"
		vars["offset"] = q.Offset
	}
	docs, err := query[[]blockDoc](ctx, o.db, stmt, vars)
	if err != nil {
		return nil, 0, err
	}
	blocks := make([]*models.Block, len(docs))
	for i, d := range docs {
		blocks[i] = d.block()
	}
	// SurrealDB sorts datetimes and strings differently across versions; re-sort so
	// every backend agrees on tie breaking within the page.
	store.SortBySiblingOrder(blocks)
	return blocks, total, nil
}

func (o ops) ListOwners(ctx context.Context) ([]models.UserID, error) {
	rows, err := query[[]struct {
		OwnerID models.UserID `json:"owner_id"`
	}](ctx, o.db, "SELECT owner_id FROM blocks WHERE deleted_at = NONE GROUP BY owner_id", nil)
	if err != nil {
		return nil, err
	}
	owners := make([]models.UserID, len(rows))
	for i, r := range rows {
		owners[i] = r.OwnerID
	}
	slices.Sort(owners)
	return owners, nil
}

func (o ops) InsertBlock(ctx context.Context, block *models.Block) error {
	if block.ID.IsZero() {
		block.ID = models.NewBlockID()
	}
	_, err := o.exec(ctx, "CREATE $id CONTENT $doc RETURN id", map[string]any{
		"id":  block.ID.RecordID(),
		"doc": newBlockDoc(block),
	})
	if err != nil && strings.Contains(err.Error(), "already exists") {
		return store.ErrDuplicate
	}
	return err
}

func (o ops) UpdateBlock(ctx context.Context, owner models.UserID, id models.BlockID, p store.Patch) error {
	sets, vars := patchSets(p)
	vars["id"] = id.RecordID()
	vars["owner"] = owner
	n, err := o.exec(ctx, "UPDATE $id SET "+strings.Join(sets, ", ")+" WHERE "+liveFilter+" RETURN id", vars)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// patchSets renders a patch as SET clauses. A nil optional value becomes NONE so the
// field disappears from the record.
func patchSets(p store.Patch) ([]string, map[string]any) {
	sets := []string{"updated_at = $updated_at"}
	vars := map[string]any{"updated_at": &sdkmodels.CustomDateTime{Time: p.UpdatedAt}}
	set := func(field string, v any) {
		sets = append(sets, "`"+field+"` = $"+field)
		vars[field] = v
	}
	unset := func(field string) {
		sets = append(sets, "`"+field+"` = NONE")
	}

	if p.Content != nil {
		set("content", *p.Content)
	}
	if p.BlockType != nil {
		set("block_type", string(*p.BlockType))
	}
	if v, ok := p.BlockProps.Get(); ok {
		if v == nil {
			unset("block_props")
		} else {
			set("block_props", *v)
		}
	}
	if v, ok := p.UIState.Get(); ok {
		if v == nil {
			unset("ui_state")
		} else {
			set("ui_state", newUIStateDoc(v))
		}
	}
	if v, ok := p.ParentID.Get(); ok {
		if v == nil {
			unset("parent_id")
		} else {
			set("parent_id", v.RecordID())
		}
	}
	if p.Order != nil {
		set("order", *p.Order)
	}
	if p.Depth != nil {
		set("depth", *p.Depth)
	}
	if v, ok := p.Children.Get(); ok {
		set("children", recordIDs(v))
	}
	if p.BumpVersion {
		sets = append(sets, "version += 1")
	}
	return sets, vars
}

func (o ops) PushChild(ctx context.Context, owner models.UserID, parent, child models.BlockID, at time.Time) error {
	n, err := o.exec(ctx, "UPDATE $id SET children += $child, updated_at = $at WHERE "+liveFilter+" RETURN id", map[string]any{
		"id":    parent.RecordID(),
		"child": child.RecordID(),
		"owner": owner,
		"at":    &sdkmodels.CustomDateTime{Time: at},
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (o ops) PullChild(ctx context.Context, owner models.UserID, parent, child models.BlockID, at time.Time) error {
	_, err := o.exec(ctx, "UPDATE $id SET children -= $child, updated_at = $at WHERE owner_id = $owner RETURN id", map[string]any{
		"id":    parent.RecordID(),
		"child": child.RecordID(),
		"owner": owner,
		"at":    &sdkmodels.CustomDateTime{Time: at},
	})
	return err
}

func (o ops) SoftDelete(ctx context.Context, owner models.UserID, ids []models.BlockID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := o.exec(ctx, "UPDATE $ids SET deleted_at = $at, updated_at = $at WHERE "+liveFilter+" RETURN id", map[string]any{
		"ids":   recordIDs(ids),
		"owner": owner,
		"at":    &sdkmodels.CustomDateTime{Time: at},
	})
	return err
}

func (o ops) ShiftDepth(ctx context.Context, owner models.UserID, ids []models.BlockID, delta int, at time.Time) error {
	if len(ids) == 0 || delta == 0 {
		return nil
	}
	_, err := o.exec(ctx, "UPDATE $ids SET depth += $delta, updated_at = $at WHERE "+liveFilter+" RETURN id", map[string]any{
		"ids":   recordIDs(ids),
		"delta": delta,
		"owner": owner,
		"at":    &sdkmodels.CustomDateTime{Time: at},
	})
	return err
}

func recordIDs(ids []models.BlockID) []sdkmodels.RecordID {
	out := make([]sdkmodels.RecordID, len(ids))
	for i, id := range ids {
		out[i] = id.RecordID()
	}
	return out
}

// errStatement is returned when a statement in a query response did not succeed.
var errStatement = errors.New("surrealdb statement failed")

// query runs sql and returns the result of its last statement.
func query[T any](ctx context.Context, db *surrealdb.DB, sql string, vars map[string]any) (T, error) {
	var zero T
	results, err := surrealdb.Query[T](ctx, db, sql, vars)
	if err != nil {
		return zero, err
	}
	if results == nil || len(*results) == 0 {
		return zero, nil
	}
	for _, r := range *results {
		if r.Status != "OK" {
			return zero, fmt.Errorf("%w: status %s", errStatement, r.Status)
		}
	}
	return (*results)[len(*results)-1].Result, nil
}

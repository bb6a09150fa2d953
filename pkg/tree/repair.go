package tree

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/hydranotes/hydra/pkg/models"
	"github.com/hydranotes/hydra/pkg/store"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultRepairConcurrency is the number of owners repaired in parallel.
const DefaultRepairConcurrency = 4

// RepairOptions selects what the repair job touches.
type RepairOptions struct {
	// Owner restricts the run to one owner. Empty means every owner.
	Owner models.UserID
	// DryRun computes the report without writing.
	DryRun      bool
	Concurrency int
}

// OwnerReport counts the fixes found for one owner.
type OwnerReport struct {
	Owner           models.UserID `json:"owner"`
	Scanned         int           `json:"scanned"`
	ChildrenFixed   int           `json:"children_fixed"`
	DepthFixed      int           `json:"depth_fixed"`
	OrphansDeleted  int           `json:"orphans_deleted"`
	OrphansPromoted int           `json:"orphans_promoted"`
	CyclesBroken    int           `json:"cycles_broken"`
}

// Fixes is the total number of corrections in the report.
func (r OwnerReport) Fixes() int {
	return r.ChildrenFixed + r.DepthFixed + r.OrphansDeleted + r.OrphansPromoted + r.CyclesBroken
}

// RepairReport is the result of one repair run.
type RepairReport struct {
	DryRun bool          `json:"dry_run"`
	Owners []OwnerReport `json:"owners"`
}

// Total sums the per owner reports.
func (r RepairReport) Total() OwnerReport {
	var t OwnerReport
	for _, o := range r.Owners {
		t.Scanned += o.Scanned
		t.ChildrenFixed += o.ChildrenFixed
		t.DepthFixed += o.DepthFixed
		t.OrphansDeleted += o.OrphansDeleted
		t.OrphansPromoted += o.OrphansPromoted
		t.CyclesBroken += o.CyclesBroken
	}
	return t
}

// Repairer restores the structural invariants of stored trees after an interrupted
// write or manual data edits. It rebuilds children lists from parent links, finishes
// interrupted cascading deletes, promotes blocks whose parent vanished, breaks cycles
// and recomputes depth. Versions are never changed.
type Repairer struct {
	store store.Store
	clock Clock
	log   zerolog.Logger
}

// NewRepairer returns a Repairer that writes to s directly. Pass the unwrapped store
// to repair during a read-only window.
func NewRepairer(s store.Store, clock Clock, log zerolog.Logger) *Repairer {
	if clock == nil {
		clock = RealClock{}
	}
	return &Repairer{store: s, clock: clock, log: log}
}

// Run repairs the selected owners and returns what was (or in a dry run, would be)
// fixed, sorted by owner.
func (r *Repairer) Run(ctx context.Context, opts RepairOptions) (RepairReport, error) {
	owners := []models.UserID{opts.Owner}
	if opts.Owner.IsZero() {
		var err error
		owners, err = r.store.ListOwners(ctx)
		if err != nil {
			return RepairReport{}, storeError(err, "")
		}
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultRepairConcurrency
	}

	var (
		mu     sync.Mutex
		report = RepairReport{DryRun: opts.DryRun}
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, owner := range owners {
		g.Go(func() error {
			rep, err := r.repairOwner(ctx, owner, opts.DryRun)
			if err != nil {
				return fmt.Errorf("repair owner %s: %w", owner, err)
			}
			r.log.Info().
				Str("owner", owner.String()).
				Bool("dry_run", opts.DryRun).
				Int("scanned", rep.Scanned).
				Int("fixes", rep.Fixes()).
				Msg("repair finished")

			mu.Lock()
			report.Owners = append(report.Owners, rep)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RepairReport{}, err
	}
	slices.SortFunc(report.Owners, func(a, b OwnerReport) int {
		return cmp.Compare(a.Owner, b.Owner)
	})
	return report, nil
}

// ownerPlan is the set of writes computed for one owner.
type ownerPlan struct {
	report  OwnerReport
	deletes []models.BlockID
	patches map[models.BlockID]store.Patch
}

func (r *Repairer) repairOwner(ctx context.Context, owner models.UserID, dryRun bool) (OwnerReport, error) {
	if dryRun {
		blocks, _, err := r.store.ListBlocks(ctx, owner, store.ListQuery{Filter: store.All()})
		if err != nil {
			return OwnerReport{}, storeError(err, "")
		}
		plan, err := r.plan(ctx, r.store, owner, blocks)
		return plan.report, err
	}

	var report OwnerReport
	err := r.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		blocks, _, err := tx.ListBlocks(ctx, owner, store.ListQuery{Filter: store.All()})
		if err != nil {
			return storeError(err, "")
		}
		plan, err := r.plan(ctx, tx, owner, blocks)
		if err != nil {
			return err
		}
		report = plan.report

		now := r.clock.Now()
		if len(plan.deletes) > 0 {
			if err := tx.SoftDelete(ctx, owner, plan.deletes, now); err != nil {
				return storeError(err, "")
			}
		}
		for _, b := range blocks {
			p, ok := plan.patches[b.ID]
			if !ok {
				continue
			}
			p.UpdatedAt = now
			if err := tx.UpdateBlock(ctx, owner, b.ID, p); err != nil {
				return storeError(err, "")
			}
		}
		return nil
	})
	return report, storeError(err, "")
}

// plan computes the fixes for one owner from its live blocks. It only reads.
func (r *Repairer) plan(ctx context.Context, tx store.Reader, owner models.UserID, blocks []*models.Block) (ownerPlan, error) {
	plan := ownerPlan{
		report:  OwnerReport{Owner: owner, Scanned: len(blocks)},
		patches: make(map[models.BlockID]store.Patch),
	}

	byID := make(map[models.BlockID]*models.Block, len(blocks))
	for _, b := range blocks {
		byID[b.ID] = b
	}
	// parent holds the parent link each block ends up with.
	parent := make(map[models.BlockID]*models.BlockID, len(blocks))
	for _, b := range blocks {
		parent[b.ID] = b.ParentID
	}

	// Blocks whose parent is not live.
	deleted := make(map[models.BlockID]bool)
	for _, b := range blocks {
		if b.ParentID == nil {
			continue
		}
		if _, ok := byID[*b.ParentID]; ok {
			continue
		}
		_, err := tx.LookupBlock(ctx, owner, *b.ParentID)
		switch {
		case err == nil:
			deleted[b.ID] = true
		case errors.Is(err, store.ErrNotFound):
			parent[b.ID] = nil
			plan.report.OrphansPromoted++
		default:
			return ownerPlan{}, storeError(err, "")
		}
	}

	// Extend the deletions to the live subtrees below them.
	kids := childIndex(blocks, parent)
	queue := make([]models.BlockID, 0, len(deleted))
	for id := range deleted {
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, c := range kids[id] {
			if !deleted[c] {
				deleted[c] = true
				queue = append(queue, c)
			}
		}
	}
	for _, b := range blocks {
		if deleted[b.ID] {
			plan.deletes = append(plan.deletes, b.ID)
		}
	}
	plan.report.OrphansDeleted = len(plan.deletes)

	// Whatever is not reachable from a root hangs below a cycle. Promote one member of
	// each cycle until everything is reachable.
	depth := make(map[models.BlockID]int, len(blocks))
	var roots []models.BlockID
	for _, b := range blocks {
		if !deleted[b.ID] && parent[b.ID] == nil {
			roots = append(roots, b.ID)
		}
	}
	assignDepths(roots, 0, kids, deleted, depth)
	for _, b := range blocks {
		if deleted[b.ID] {
			continue
		}
		if _, reached := depth[b.ID]; reached {
			continue
		}
		member := cycleMember(b.ID, parent)
		parent[member] = nil
		plan.report.CyclesBroken++
		kids = childIndex(blocks, parent)
		assignDepths([]models.BlockID{member}, 0, kids, deleted, depth)
	}

	for _, b := range blocks {
		if deleted[b.ID] {
			continue
		}
		var p store.Patch
		changed := false

		if !equalParents(b.ParentID, parent[b.ID]) {
			p.ParentID = models.Some(parent[b.ID])
			changed = true
		}
		if want := rebuildChildren(b.Children, kids[b.ID]); !slices.Equal(want, b.Children) {
			p.Children = models.Some(want)
			plan.report.ChildrenFixed++
			changed = true
		}
		if d := depth[b.ID]; d != b.Depth {
			p.Depth = &d
			plan.report.DepthFixed++
			changed = true
		}
		if changed {
			plan.patches[b.ID] = p
		}
	}
	return plan, nil
}

// childIndex maps each block to the blocks whose parent link points at it, sorted by
// sibling order.
func childIndex(blocks []*models.Block, parent map[models.BlockID]*models.BlockID) map[models.BlockID][]models.BlockID {
	sorted := slices.Clone(blocks)
	store.SortBySiblingOrder(sorted)
	idx := make(map[models.BlockID][]models.BlockID)
	for _, b := range sorted {
		if p := parent[b.ID]; p != nil {
			idx[*p] = append(idx[*p], b.ID)
		}
	}
	return idx
}

func assignDepths(start []models.BlockID, level int, kids map[models.BlockID][]models.BlockID, deleted map[models.BlockID]bool, depth map[models.BlockID]int) {
	frontier := start
	for len(frontier) > 0 {
		var next []models.BlockID
		for _, id := range frontier {
			if _, seen := depth[id]; seen || deleted[id] {
				continue
			}
			depth[id] = level
			next = append(next, kids[id]...)
		}
		frontier = next
		level++
	}
}

// cycleMember follows parent links from id until a block repeats and returns it.
func cycleMember(id models.BlockID, parent map[models.BlockID]*models.BlockID) models.BlockID {
	seen := make(map[models.BlockID]bool)
	cur := id
	for !seen[cur] {
		seen[cur] = true
		p := parent[cur]
		if p == nil {
			return cur
		}
		cur = *p
	}
	return cur
}

// rebuildChildren keeps the valid entries of current in place, drops stale and
// duplicate ids, and appends the missing children in sibling order.
func rebuildChildren(current models.BlockIDs, want []models.BlockID) models.BlockIDs {
	valid := make(map[models.BlockID]bool, len(want))
	for _, id := range want {
		valid[id] = true
	}
	out := make(models.BlockIDs, 0, len(want))
	placed := make(map[models.BlockID]bool, len(want))
	for _, id := range current {
		if valid[id] && !placed[id] {
			out = append(out, id)
			placed[id] = true
		}
	}
	for _, id := range want {
		if !placed[id] {
			out = append(out, id)
		}
	}
	return out
}

package store

import (
	"context"
	"time"

	"github.com/hydranotes/hydra/pkg/models"
)

// ReadOnlyStore wraps a Store and rejects writes while isReadOnly reports true.
//
// The state is read on every call, so the application can enter and leave a
// maintenance window (for example while the repair job runs) without recreating the
// store. Reads always pass through.
type ReadOnlyStore struct {
	Store
	isReadOnly func() bool
}

// NewReadOnlyStore creates a new read-only wrapper for a store
func NewReadOnlyStore(store Store, isReadOnly func() bool) *ReadOnlyStore {
	return &ReadOnlyStore{
		Store:      store,
		isReadOnly: isReadOnly,
	}
}

// Unwrap returns the underlying store
func (r *ReadOnlyStore) Unwrap() Store {
	return r.Store
}

func (r *ReadOnlyStore) checkReadOnly() error {
	if r.isReadOnly() {
		return ErrReadOnly
	}
	return nil
}

func (r *ReadOnlyStore) InsertBlock(ctx context.Context, block *models.Block) error {
	if err := r.checkReadOnly(); err != nil {
		return err
	}
	return r.Store.InsertBlock(ctx, block)
}

func (r *ReadOnlyStore) UpdateBlock(ctx context.Context, owner models.UserID, id models.BlockID, p Patch) error {
	if err := r.checkReadOnly(); err != nil {
		return err
	}
	return r.Store.UpdateBlock(ctx, owner, id, p)
}

func (r *ReadOnlyStore) PushChild(ctx context.Context, owner models.UserID, parent, child models.BlockID, at time.Time) error {
	if err := r.checkReadOnly(); err != nil {
		return err
	}
	return r.Store.PushChild(ctx, owner, parent, child, at)
}

func (r *ReadOnlyStore) PullChild(ctx context.Context, owner models.UserID, parent, child models.BlockID, at time.Time) error {
	if err := r.checkReadOnly(); err != nil {
		return err
	}
	return r.Store.PullChild(ctx, owner, parent, child, at)
}

func (r *ReadOnlyStore) SoftDelete(ctx context.Context, owner models.UserID, ids []models.BlockID, at time.Time) error {
	if err := r.checkReadOnly(); err != nil {
		return err
	}
	return r.Store.SoftDelete(ctx, owner, ids, at)
}

func (r *ReadOnlyStore) ShiftDepth(ctx context.Context, owner models.UserID, ids []models.BlockID, delta int, at time.Time) error {
	if err := r.checkReadOnly(); err != nil {
		return err
	}
	return r.Store.ShiftDepth(ctx, owner, ids, delta, at)
}

// WithinTx refuses the whole unit of work up front so no partial writes are attempted.
func (r *ReadOnlyStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := r.checkReadOnly(); err != nil {
		return err
	}
	return r.Store.WithinTx(ctx, fn)
}

package hydra

import (
	"bytes"
	"context"
	"net/http"
	"testing"

	"github.com/hydranotes/hydra/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairCommand(t *testing.T) {
	f := newAPIFixture(t)
	root := f.create(t, "alice", map[string]any{})
	child := f.create(t, "alice", map[string]any{"parent_id": root.ID})

	id, err := models.ParseBlockID(child.ID)
	require.NoError(t, err)
	corrupt, ok := f.store.Raw(id)
	require.True(t, ok)
	corrupt.Depth = 7
	f.store.Put(corrupt)

	// Repair runs while the API is read-only.
	f.app.SetReadOnly(true)
	var out bytes.Buffer
	f.app.Out = &out

	report, err := f.app.Repair(context.Background(), &RepairCommand{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total().DepthFixed)
	got, _ := f.store.Raw(id)
	assert.Equal(t, 7, got.Depth, "dry run leaves the store alone")

	report, err = f.app.Repair(context.Background(), &RepairCommand{Owner: "alice"})
	require.NoError(t, err)
	require.Len(t, report.Owners, 1)
	assert.Equal(t, models.UserID("alice"), report.Owners[0].Owner)
	assert.Equal(t, 1, report.Owners[0].DepthFixed)
	got, _ = f.store.Raw(id)
	assert.Equal(t, 1, got.Depth)
	assert.Contains(t, out.String(), `"depth_fixed": 1`)

	f.app.SetReadOnly(false)
	rec := f.do(t, "alice", http.MethodGet, "/api/blocks/"+child.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMigrateCommand(t *testing.T) {
	f := newAPIFixture(t)
	assert.NoError(t, f.app.Execute(context.Background(), &MigrateCommand{}))
}

func TestTokenCommandDevMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.Mode = AuthModeDev
	var out bytes.Buffer
	// Dev mode has no secret to sign with.
	assert.Error(t, (&TokenCommand{User: "alice"}).Run(cfg, &out))
	assert.Empty(t, out.String())
}

package hydra

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hydranotes/hydra/pkg/hydratesting"
	"github.com/hydranotes/hydra/pkg/identity"
	"github.com/hydranotes/hydra/pkg/models"
	"github.com/hydranotes/hydra/pkg/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
[auth]
jwt_secret = "hydra-test-secret"

[log]
level = "error"
`

func runMain(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := Main(context.Background(), args, &out)
	return out.String(), err
}

func TestMain_Token(t *testing.T) {
	path := writeConfig(t, testConfig)
	out, err := runMain(t, "token", "--config", path, "--user", "alice", "--name", "Alice")
	require.NoError(t, err)

	v, err := identity.NewJWTVerifier(hydratesting.TestSecret, "HS256")
	require.NoError(t, err)
	user, err := v.Verify(context.Background(), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, models.UserID("alice"), user.ID)
	assert.Equal(t, "alice@localhost", user.Email)
	assert.Equal(t, "Alice", user.Name)
}

func TestMain_TokenRequiresUser(t *testing.T) {
	path := writeConfig(t, testConfig)
	_, err := runMain(t, "token", "--config", path)
	assert.Error(t, err)
}

func TestMain_ConfigShow(t *testing.T) {
	path := writeConfig(t, testConfig)
	out, err := runMain(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "[server]")
	assert.Contains(t, out, `backend = "memory"`)
	assert.NotContains(t, out, hydratesting.TestSecret)
}

func TestMain_MigrateAndRepair(t *testing.T) {
	path := writeConfig(t, testConfig)
	_, err := runMain(t, "migrate", "--config", path)
	require.NoError(t, err)

	out, err := runMain(t, "repair", "--config", path, "--dry-run")
	require.NoError(t, err)
	var report tree.RepairReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.DryRun)
	assert.Empty(t, report.Owners)
}

func TestMain_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "[store]\nbackend = \"sqlite\"\n")
	_, err := runMain(t, "migrate", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite")
}

func TestMain_UnknownCommand(t *testing.T) {
	_, err := runMain(t, "frobnicate")
	assert.Error(t, err)
}

func TestExecute_UnknownCommand(t *testing.T) {
	f := newAPIFixture(t)
	err := f.app.Execute(context.Background(), unknownCommand{})
	assert.ErrorContains(t, err, "unknown command type")
}

type unknownCommand struct{}

func (unknownCommand) Name() string { return "unknown" }

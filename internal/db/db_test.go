package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsAreIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "agentco.db")

	d, err := Open(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, d.CreateProject(ctx, &Project{Name: "demo"}))
	require.NoError(t, d.Close())

	// Reopening applies no migrations twice and keeps the data.
	d, err = Open(path)
	require.NoError(t, err)
	defer d.Close()

	projects, err := d.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, projects, 1)
	assert.Equal(t, "demo", projects[0].Name)
}

func TestProjectCRUD(t *testing.T) {
	t.Parallel()

	d := NewTestDB(t)
	ctx := context.Background()

	p := &Project{Name: "webshop", Description: "storefront", OwnerID: "owner-1", RepoPath: "/srv/webshop"}
	require.NoError(t, d.CreateProject(ctx, p))
	require.NotEmpty(t, p.ID)

	got, err := d.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "webshop", got.Name)
	assert.Equal(t, "owner-1", got.OwnerID)
	assert.False(t, got.CreatedAt.IsZero())

	got.Name = "webshop-v2"
	require.NoError(t, d.UpdateProject(ctx, got))
	got, err = d.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "webshop-v2", got.Name)

	require.NoError(t, d.DeleteProject(ctx, p.ID))
	_, err = d.GetProject(ctx, p.ID)
	assert.Error(t, err)
}

func TestProjectConfigRoundTrip(t *testing.T) {
	t.Parallel()

	d := NewTestDB(t)
	ctx := context.Background()

	p := &Project{Name: "webshop", Config: map[string]string{"model": "model-fast", "framework": "gin"}}
	require.NoError(t, d.CreateProject(ctx, p))

	got, err := d.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"model": "model-fast", "framework": "gin"}, got.Config)

	got.Config = map[string]string{"model": "model-large"}
	require.NoError(t, d.UpdateProject(ctx, got))

	projects, err := d.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, map[string]string{"model": "model-large"}, projects[0].Config)

	// A project created without config stays config-free.
	bare := &Project{Name: "bare"}
	require.NoError(t, d.CreateProject(ctx, bare))
	got, err = d.GetProject(ctx, bare.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Config)
}

func TestProjectNotFound(t *testing.T) {
	t.Parallel()

	d := NewTestDB(t)
	ctx := context.Background()

	_, err := d.GetProject(ctx, "missing")
	assert.Error(t, err)
	assert.Error(t, d.UpdateProject(ctx, &Project{ID: "missing"}))
	assert.Error(t, d.DeleteProject(ctx, "missing"))
}

func TestWritableRoots(t *testing.T) {
	t.Parallel()

	d := NewTestDB(t)
	ctx := context.Background()

	p := &Project{Name: "p"}
	require.NoError(t, d.CreateProject(ctx, p))

	require.NoError(t, d.SetWritableRoots(ctx, p.ID, []string{"src/", "docs/"}))
	roots, err := d.WritableRoots(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/", "src/"}, roots)

	// Replacement, not accumulation.
	require.NoError(t, d.SetWritableRoots(ctx, p.ID, []string{"api/"}))
	roots, err = d.WritableRoots(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"api/"}, roots)
}

func TestDeleteProjectCascades(t *testing.T) {
	t.Parallel()

	d := NewTestDB(t)
	ctx := context.Background()

	p := seedProject(t, d)
	tk := seedTask(t, d, p.ID, nil)

	a := &Attempt{TaskID: tk.ID}
	require.NoError(t, d.CreateAttempt(ctx, a))
	_, err := d.AppendAttemptEvent(ctx, a.ID, "LOG", "hello", nil)
	require.NoError(t, err)

	require.NoError(t, d.DeleteProject(ctx, p.ID))

	_, err = d.GetTask(ctx, tk.ID)
	assert.Error(t, err)
	_, err = d.GetAttempt(ctx, a.ID)
	assert.Error(t, err)

	events, err := d.ListAttemptEvents(ctx, a.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

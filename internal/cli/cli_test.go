package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distantorigin/craftlauncher/internal/changelog"
	"github.com/distantorigin/craftlauncher/internal/channel"
	"github.com/distantorigin/craftlauncher/internal/resolver"
	"github.com/distantorigin/craftlauncher/internal/store"
	"github.com/distantorigin/craftlauncher/internal/testutil"
	"github.com/distantorigin/craftlauncher/internal/version"
)

type env struct {
	srv     *testutil.MockServer
	dataDir string
	config  string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	srv := testutil.NewMockServer(t)
	dataDir := t.TempDir()

	cfg := `data_dir: ` + dataDir + `
catalog:
  url: ` + srv.URL + `
  timeout: 5s
download:
  parallelism: 2
  initial_backoff: 1ms
  max_backoff: 2ms
launch:
  executable: sh
  args: ["-c", "echo started ${instance_name}"]
log:
  level: error
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))

	return &env{srv: srv, dataDir: dataDir, config: path}
}

// run executes the command tree and returns what it wrote to stdout
func (e *env) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := New()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *env) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, "", args...)
	require.NoError(t, err, out)
	return out
}

func (e *env) create(t *testing.T, name, game string) *store.Instance {
	t.Helper()
	out := e.mustRun(t, "create", name, "--version", game, "-o", "json")
	var inst store.Instance
	require.NoError(t, json.Unmarshal([]byte(out), &inst))
	return &inst
}

func (e *env) instanceDir(id string) string {
	return filepath.Join(e.dataDir, "instances", id)
}

func TestCreateListShowRemove(t *testing.T) {
	e := newEnv(t)

	out := e.mustRun(t, "list")
	assert.Contains(t, out, "No instances.")

	inst := e.create(t, "Survival", "1.20.1")
	assert.Equal(t, "Survival", inst.Name)
	assert.Equal(t, version.LoaderNone, inst.Loader)
	testutil.AssertFileExists(t, e.instanceDir(inst.ID))

	out = e.mustRun(t, "list")
	assert.Contains(t, out, inst.ID)
	assert.Contains(t, out, "Survival")

	out = e.mustRun(t, "show", inst.ID)
	assert.Contains(t, out, "1.20.1")
	assert.Contains(t, out, "never")

	out = e.mustRun(t, "remove", inst.ID, "--yes")
	assert.Contains(t, out, "Removed "+inst.ID)
	testutil.AssertFileNotExists(t, e.instanceDir(inst.ID))

	_, err := e.run(t, "", "show", inst.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRemove_Declined(t *testing.T) {
	e := newEnv(t)
	inst := e.create(t, "Keep", "1.20.1")

	out, err := e.run(t, "n\n", "remove", inst.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Aborted.")
	testutil.AssertFileExists(t, e.instanceDir(inst.ID))
}

func TestCreate_AsksForVersion(t *testing.T) {
	e := newEnv(t)
	e.srv.SetVersions("1.19.2", "1.20.1", "23w31a")

	out, err := e.run(t, "2\n", "create", "Picked", "--loader", "fabric", "--loader-version", "0.15.3")
	require.NoError(t, err)
	assert.Contains(t, out, "Select a game version:")
	assert.NotContains(t, out, "23w31a")

	out = e.mustRun(t, "list")
	assert.Contains(t, out, "1.19.2-fabric-0.15.3")
}

func TestCreate_InvalidLoader(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "", "create", "Bad", "--version", "1.20.1", "--loader", "rift")
	assert.Error(t, err)
}

func TestVersions(t *testing.T) {
	e := newEnv(t)
	e.srv.SetVersions("1.19.2", "23w31a", "1.20.1")

	out := e.mustRun(t, "versions")
	assert.Equal(t, "1.20.1\n1.19.2\n", out)

	out = e.mustRun(t, "versions", "--channel", "snapshot", "--remember")
	assert.Contains(t, out, "23w31a")

	ch, err := channel.Load(e.dataDir)
	require.NoError(t, err)
	assert.Equal(t, channel.Snapshot, ch)

	// The remembered channel applies without the flag
	out = e.mustRun(t, "versions")
	assert.Contains(t, out, "23w31a")
}

func TestPlanAndSync(t *testing.T) {
	e := newEnv(t)
	client := testutil.Content(1, 64<<10)
	lib := testutil.Content(2, 16<<10)
	testutil.NewRelease(e.srv, "1.20.1", version.LoaderNone, "").
		Add("client.jar", client).
		Add("libraries/lib.jar", lib).
		Publish()

	inst := e.create(t, "Survival", "1.20.1")

	out := e.mustRun(t, "plan", inst.ID)
	assert.Contains(t, out, "client.jar")
	assert.Contains(t, out, "libraries/lib.jar")
	assert.Contains(t, out, "Total changes: 2 files (2 updated, 0 deleted)")

	out = e.mustRun(t, "plan", inst.ID, "-o", "json")
	var plan resolver.Plan
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	require.Len(t, plan.Tasks, 2)
	assert.Equal(t, "client.jar", plan.Tasks[0].Path)

	out = e.mustRun(t, "sync", inst.ID, "--progress=false")
	assert.Contains(t, out, "Updated Survival to 1.20.1: 2 files (2 updated, 0 deleted)")
	testutil.AssertFileContent(t, filepath.Join(e.instanceDir(inst.ID), "client.jar"), client)
	testutil.AssertFileContent(t, filepath.Join(e.instanceDir(inst.ID), "libraries", "lib.jar"), lib)
	testutil.AssertFileExists(t, filepath.Join(e.dataDir, "changelogs", inst.ID, changelog.FileName))

	out = e.mustRun(t, "sync", inst.ID, "--progress=false")
	assert.Contains(t, out, "Survival is up to date (1.20.1).")

	out = e.mustRun(t, "show", inst.ID, "-o", "json")
	var stored store.Instance
	require.NoError(t, json.Unmarshal([]byte(out), &stored))
	assert.Equal(t, "1.20.1", stored.InstalledVersion)
	assert.False(t, stored.Updating)
	assert.Len(t, stored.Manifest, 2)
}

func TestSync_WithProgress(t *testing.T) {
	e := newEnv(t)
	testutil.NewRelease(e.srv, "1.20.1", version.LoaderNone, "").
		Add("client.jar", testutil.Content(3, 32<<10)).
		Publish()
	inst := e.create(t, "Progress", "1.20.1")

	out := e.mustRun(t, "sync", inst.ID)
	assert.Contains(t, out, "Updated Progress to 1.20.1")
}

func TestSync_DownloadFailure(t *testing.T) {
	e := newEnv(t)
	rel := testutil.NewRelease(e.srv, "1.20.1", version.LoaderNone, "").
		Add("good.jar", testutil.Content(4, 8<<10)).
		Add("bad.jar", testutil.Content(5, 8<<10))
	rel.Publish()
	e.srv.Corrupt(rel.ArtifactPath("bad.jar"), -1)

	inst := e.create(t, "Broken", "1.20.1")

	out, err := e.run(t, "", "sync", inst.ID, "--progress=false")
	require.Error(t, err)
	assert.Contains(t, out, "! bad.jar")

	out = e.mustRun(t, "show", inst.ID, "-o", "json")
	var stored store.Instance
	require.NoError(t, json.Unmarshal([]byte(out), &stored))
	assert.True(t, stored.Updating)
	assert.Contains(t, stored.Manifest, "good.jar")
	assert.NotContains(t, stored.Manifest, "bad.jar")
}

func TestSync_CatalogUnavailable(t *testing.T) {
	e := newEnv(t)
	inst := e.create(t, "Offline", "1.20.1")
	e.srv.SetOffline(true)

	_, err := e.run(t, "", "sync", inst.ID, "--progress=false")
	assert.Error(t, err)
}

func TestLaunch(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a real process")
	}
	e := newEnv(t)
	testutil.NewRelease(e.srv, "1.20.1", version.LoaderNone, "").
		Add("client.jar", testutil.Content(6, 4<<10)).
		Publish()
	inst := e.create(t, "Player", "1.20.1")

	out := e.mustRun(t, "launch", inst.ID, "--progress=false")
	assert.Contains(t, out, "Started Player")
	assert.Contains(t, out, "started Player")
	assert.Contains(t, out, "Player exited.")

	out = e.mustRun(t, "show", inst.ID, "-o", "json")
	var stored store.Instance
	require.NoError(t, json.Unmarshal([]byte(out), &stored))
	assert.False(t, stored.LastPlayed.IsZero())
	testutil.AssertFileExists(t, filepath.Join(e.instanceDir(inst.ID), "client.jar"))
}

func TestInvalidOutputFormat(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "", "list", "-o", "yaml")
	assert.Error(t, err)
}

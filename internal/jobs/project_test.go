package jobs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/relay/internal/command"
)

// fakeScaffold writes a minimal project the way create-expo-app would.
func fakeScaffold(name, _ string) command.Spec {
	script := `mkdir "$1" && echo "Installing dependencies" && ` +
		`printf '{"expo":{"name":"%s","android":{"versionCode":1}}}' "$1" > "$1/app.json" && ` +
		`echo '{}' > "$1/package.json" && echo "warn: peer dep" >&2 && echo "Success!"`
	return command.Spec{Name: "sh", Args: []string{"-c", script, "scaffold", name}}
}

func testRunner() *command.Runner {
	return command.NewRunner([]string{"sh -c", "git init"}, 0)
}

func TestProjectCreation_RejectsExisting(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(base, "taken"), 0o755))

	_, err := ProjectCreation(ProjectOptions{BasePath: base, Name: "taken"})
	require.ErrorIs(t, err, ErrProjectExists)
}

func TestProjectCreation_EndToEnd(t *testing.T) {
	base := t.TempDir()
	steps, err := ProjectCreation(ProjectOptions{
		BasePath:     base,
		Name:         "my-app",
		Owner:        "acme",
		BundlePrefix: "com.acme",
		Runner:       testRunner(),
		Scaffold:     fakeScaffold,
	})
	require.NoError(t, err)

	s, rec := newTestSupervisor(t, Config{SnapshotTail: 100})
	id, err := s.StartJob(context.Background(), KindProjectCreation, steps)
	require.NoError(t, err)

	snap := waitJob(t, s, id)
	require.Equal(t, StatusCompleted, snap.Status, snap.Error)

	info, ok := snap.Result.(ProjectInfo)
	require.True(t, ok)
	require.Equal(t, "my-app", info.Name)
	require.Equal(t, "blank", info.Template)
	require.Equal(t, filepath.Join(base, "my-app"), info.Path)

	data, err := os.ReadFile(filepath.Join(base, "my-app", "app.json"))
	require.NoError(t, err)
	var app struct {
		Expo struct {
			Name    string `json:"name"`
			Owner   string `json:"owner"`
			Android struct {
				Package     string `json:"package"`
				VersionCode int    `json:"versionCode"`
			} `json:"android"`
			IOS struct {
				BundleIdentifier string `json:"bundleIdentifier"`
			} `json:"ios"`
		} `json:"expo"`
	}
	require.NoError(t, json.Unmarshal(data, &app))
	require.Equal(t, "my-app", app.Expo.Name)
	require.Equal(t, "acme", app.Expo.Owner)
	require.Equal(t, "com.acme.myapp", app.Expo.Android.Package)
	require.Equal(t, 1, app.Expo.Android.VersionCode)
	require.Equal(t, "com.acme.myapp", app.Expo.IOS.BundleIdentifier)

	require.FileExists(t, filepath.Join(base, "my-app", "eas.json"))
	require.FileExists(t, filepath.Join(base, "my-app", MetadataFile))

	out := strings.Join(snap.Output, "\n")
	require.Contains(t, out, "Installing dependencies")
	require.Contains(t, out, "[stderr] warn: peer dep")

	// scaffold progress hints are observed as pushed updates
	seen := map[int]bool{}
	for _, sn := range jobSnapshots(rec, id) {
		seen[sn.Progress] = true
	}
	for _, p := range []int{10, 40, 60, 65, 75, 85, 95, 100} {
		require.True(t, seen[p], "progress %d not observed", p)
	}
}

func TestProjectCreation_ScaffoldFailure(t *testing.T) {
	base := t.TempDir()
	steps, err := ProjectCreation(ProjectOptions{
		BasePath: base,
		Name:     "broken",
		Runner:   testRunner(),
		Scaffold: func(string, string) command.Spec {
			return command.Spec{Name: "sh", Args: []string{"-c", "echo nope >&2; exit 3"}}
		},
	})
	require.NoError(t, err)

	s, _ := newTestSupervisor(t, Config{})
	id, err := s.StartJob(context.Background(), KindProjectCreation, steps)
	require.NoError(t, err)

	snap := waitJob(t, s, id)
	require.Equal(t, StatusFailed, snap.Status)
	require.Equal(t, "creating", snap.Phase)
	require.Contains(t, snap.Error, "code 3")
}

func TestProjectCreation_DisallowedScaffold(t *testing.T) {
	steps, err := ProjectCreation(ProjectOptions{
		BasePath: t.TempDir(),
		Name:     "app",
		Runner:   command.NewRunner(nil, 0),
		Scaffold: func(string, string) command.Spec {
			return command.Spec{Name: "rm", Args: []string{"-rf", "/"}}
		},
	})
	require.NoError(t, err)

	s, _ := newTestSupervisor(t, Config{})
	id, err := s.StartJob(context.Background(), KindProjectCreation, steps)
	require.NoError(t, err)

	snap := waitJob(t, s, id)
	require.Equal(t, StatusFailed, snap.Status)
	require.Contains(t, snap.Error, "command not allowed")
}

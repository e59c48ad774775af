package prune

import (
	"bytes"
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/hupe1980/chartprune/internal/manifest"
	"github.com/hupe1980/chartprune/internal/rules"
	"github.com/hupe1980/chartprune/internal/testutil"
)

func testLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(data)
}

func dependencies(t *testing.T, root, chart string) []manifest.Dependency {
	t.Helper()

	m, err := manifest.Load(ManifestPath(root, chart))
	require.NoError(t, err)

	return m.Dependencies()
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestRun_DefaultRules(t *testing.T) {
	root := testutil.SpireTree(t)
	logger, logBuf := testLogger()

	report, err := New(root, rules.Default(), WithLogger(logger)).Run(context.Background())
	require.NoError(t, err)

	assert.NoDirExists(t, ChartPath(root, "spire-nested"))
	for _, sub := range testutil.RemovedSubcharts {
		assert.NoDirExists(t, SubchartPath(root, "spire", sub))
	}

	// Alias removal leaves the vendored directories alone.
	assert.DirExists(t, SubchartPath(root, "spire", "other-subchart"))
	assert.DirExists(t, SubchartPath(root, "spire", "shared-lib"))
	assert.DirExists(t, SubchartPath(root, "spire", "spiffe-csi-driver"))
	assert.DirExists(t, ChartPath(root, "spire-crds"))

	assert.Equal(t, testutil.SpirePruned, readFile(t, ManifestPath(root, "spire")))

	assert.Equal(t, []string{"spire-nested"}, report.Charts)
	assert.Equal(t, []Subchart{
		{Chart: "spire", Name: "spike-keeper"},
		{Chart: "spire", Name: "spike-nexus"},
		{Chart: "spire", Name: "spike-pilot"},
		{Chart: "spire", Name: "tornjak-frontend"},
	}, report.Subcharts)
	assert.Equal(t, []RemovedDependency{
		{Chart: "spire", Name: "spike-keeper", Reason: ReasonName},
		{Chart: "spire", Name: "spike-nexus", Reason: ReasonName},
		{Chart: "spire", Name: "spike-pilot", Reason: ReasonName},
		{Chart: "spire", Name: "tornjak-frontend", Reason: ReasonName},
		{Chart: "spire", Name: "shared-lib", Alias: "upstream-spire-agent", Reason: ReasonAlias},
		{Chart: "spire", Name: "spiffe-csi-driver", Alias: "upstream-spiffe-csi-driver", Reason: ReasonAlias},
	}, report.Dependencies)
	assert.True(t, report.Changed())

	logs := logBuf.String()
	assert.Contains(t, logs, "removing chart")
	assert.Contains(t, logs, "removing subchart")
	assert.Contains(t, logs, "removing dependency")
	assert.Contains(t, logs, "alias=upstream-spire-agent")
}

func TestRun_SubchartScenario(t *testing.T) {
	root := t.TempDir()
	charts := filepath.Join(root, ChartsDir)
	testutil.WriteFile(t, filepath.Join(charts, "spire", manifest.FileName),
		"apiVersion: v2\nname: spire\nversion: 0.1.0\ndependencies:\n  - name: spike-keeper\n  - name: other-subchart\n")
	testutil.WriteChart(t, filepath.Join(charts, "spire", ChartsDir), "spike-keeper", "0.1.0")
	testutil.WriteChart(t, filepath.Join(charts, "spire", ChartsDir), "other-subchart", "0.1.0")
	testutil.WriteChart(t, charts, "spire-nested", "0.1.0")

	r := &rules.Rules{
		Charts:    sets.New("spire-nested"),
		Subcharts: map[string]sets.Set[string]{"spire": sets.New("spike-keeper")},
	}

	_, err := New(root, r, WithLogger(slog.New(slog.DiscardHandler))).Run(context.Background())
	require.NoError(t, err)

	assert.NoDirExists(t, ChartPath(root, "spire-nested"))
	assert.NoDirExists(t, SubchartPath(root, "spire", "spike-keeper"))

	deps := dependencies(t, root, "spire")
	require.Len(t, deps, 1)
	assert.Equal(t, "other-subchart", deps[0].Name)
}

func TestRun_AliasScenarioKeepsSharedDirectory(t *testing.T) {
	root := testutil.SpireTree(t)

	r := &rules.Rules{
		Aliases: map[string]sets.Set[string]{"spire": sets.New("upstream-spire-agent")},
	}

	report, err := New(root, r, WithLogger(slog.New(slog.DiscardHandler))).Run(context.Background())
	require.NoError(t, err)

	assert.DirExists(t, SubchartPath(root, "spire", "shared-lib"))

	var aliases []string
	for _, d := range dependencies(t, root, "spire") {
		if d.Alias != "" {
			aliases = append(aliases, d.Alias)
		}
	}

	assert.Equal(t, []string{"kept-alias", "upstream-spiffe-csi-driver"}, aliases)
	assert.Len(t, dependencies(t, root, "spire"), 7)
	require.Len(t, report.Dependencies, 1)
	assert.Equal(t, ReasonAlias, report.Dependencies[0].Reason)
}

func TestRun_SecondRunFailsWithMissingPath(t *testing.T) {
	root := testutil.SpireTree(t)
	logger := slog.New(slog.DiscardHandler)

	_, err := New(root, rules.Default(), WithLogger(logger)).Run(context.Background())
	require.NoError(t, err)

	_, err = New(root, rules.Default(), WithLogger(logger)).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	var pathErr *PathError
	require.ErrorAs(t, err, &pathErr)
	assert.Equal(t, ChartPath(root, "spire-nested"), pathErr.Path)

	// The failed run must not have touched the manifest.
	assert.Equal(t, testutil.SpirePruned, readFile(t, ManifestPath(root, "spire")))
}

func TestRun_MissingSubchartAbortsAfterChartRemoval(t *testing.T) {
	root := testutil.SpireTree(t)
	require.NoError(t, os.RemoveAll(SubchartPath(root, "spire", "spike-keeper")))

	_, err := New(root, rules.Default(), WithLogger(slog.New(slog.DiscardHandler))).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	// Phase 1 already ran; nothing is rolled back.
	assert.NoDirExists(t, ChartPath(root, "spire-nested"))
	assert.Equal(t, testutil.SpireChart, readFile(t, ManifestPath(root, "spire")))
}

func TestRun_MissingManifest(t *testing.T) {
	root := testutil.SpireTree(t)
	require.NoError(t, os.Remove(ManifestPath(root, "spire")))

	_, err := New(root, rules.Default(), WithLogger(slog.New(slog.DiscardHandler))).Run(context.Background())
	require.Error(t, err)

	var pathErr *PathError
	require.ErrorAs(t, err, &pathErr)
	assert.Equal(t, "load", pathErr.Op)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestRun_MalformedManifest(t *testing.T) {
	root := testutil.SpireTree(t)
	testutil.WriteFile(t, ManifestPath(root, "spire"), "dependencies: [unclosed")

	_, err := New(root, rules.Default(), WithLogger(slog.New(slog.DiscardHandler))).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, manifest.ErrMalformed)
}

func TestRun_ChartPathIsFile(t *testing.T) {
	root := testutil.SpireTree(t)
	require.NoError(t, os.RemoveAll(ChartPath(root, "spire-nested")))
	testutil.WriteFile(t, ChartPath(root, "spire-nested"), "not a chart")

	_, err := New(root, rules.Default(), WithLogger(slog.New(slog.DiscardHandler))).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotDirectory)
	assert.FileExists(t, ChartPath(root, "spire-nested"))
}

func TestRun_UnmatchedNamesAreIgnored(t *testing.T) {
	root := testutil.SpireTree(t)
	testutil.WriteChart(t, filepath.Join(root, ChartsDir, "spire", ChartsDir), "unlisted", "0.1.0")

	r := &rules.Rules{
		Subcharts: map[string]sets.Set[string]{"spire": sets.New("unlisted")},
		Aliases:   map[string]sets.Set[string]{"spire": sets.New("no-such-alias")},
	}

	report, err := New(root, r, WithLogger(slog.New(slog.DiscardHandler))).Run(context.Background())
	require.NoError(t, err)

	assert.NoDirExists(t, SubchartPath(root, "spire", "unlisted"))
	assert.Empty(t, report.Dependencies)
	assert.Empty(t, report.Diffs)
	assert.Equal(t, testutil.SpireChart, readFile(t, ManifestPath(root, "spire")))
}

func TestRun_InvalidRules(t *testing.T) {
	root := testutil.SpireTree(t)

	_, err := New(root, &rules.Rules{Charts: sets.New("../escape")}).Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "invalid rules")
	assert.DirExists(t, ChartPath(root, "spire"))
}

func TestRun_CanceledContext(t *testing.T) {
	root := testutil.SpireTree(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(root, rules.Default(), WithLogger(slog.New(slog.DiscardHandler))).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.DirExists(t, ChartPath(root, "spire-nested"))
}

// ---------------------------------------------------------------------------
// Dry run
// ---------------------------------------------------------------------------

func TestRun_DryRunChangesNothing(t *testing.T) {
	root := testutil.SpireTree(t)

	report, err := New(root, rules.Default(),
		WithLogger(slog.New(slog.DiscardHandler)),
		WithDryRun(true),
	).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.DirExists(t, ChartPath(root, "spire-nested"))
	assert.DirExists(t, SubchartPath(root, "spire", "spike-keeper"))
	assert.Equal(t, testutil.SpireChart, readFile(t, ManifestPath(root, "spire")))

	assert.Len(t, report.Dependencies, 6)

	// Name and alias phases are folded into one diff per manifest.
	require.Len(t, report.Diffs, 1)
	assert.Equal(t, filepath.Join(ChartsDir, "spire", manifest.FileName), report.Diffs[0].Path)
	assert.Contains(t, report.Diffs[0].Unified, "-  - name: spike-keeper")
	assert.Contains(t, report.Diffs[0].Unified, "-  - name: tornjak-frontend")
	assert.Contains(t, report.Diffs[0].Unified, "-    alias: upstream-spire-agent")
	assert.Contains(t, report.Diffs[0].Unified, "-    alias: upstream-spiffe-csi-driver")
	assert.NotContains(t, report.Diffs[0].Unified, "-    alias: kept-alias")
}

func TestRun_DryRunStillChecksPaths(t *testing.T) {
	root := testutil.SpireTree(t)
	require.NoError(t, os.RemoveAll(ChartPath(root, "spire-nested")))

	_, err := New(root, rules.Default(),
		WithLogger(slog.New(slog.DiscardHandler)),
		WithDryRun(true),
	).Run(context.Background())
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

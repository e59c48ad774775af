// Package testutil builds chart tree fixtures for tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// SpireChart is the parent manifest of the fixture tree, shaped like the
// upstream spire chart.
const SpireChart = `apiVersion: v2
name: spire
description: >
  A Helm chart for deploying the complete Spire stack including the server,
  agents and the SPIFFE CSI driver.
type: application
version: 0.1.0
appVersion: "1.12.0"
keywords: ["spiffe", "spire", "spire-server", "spire-agent"]
home: https://github.com/spiffe/helm-charts-hardened/tree/main/charts/spire
# Subcharts are vendored under charts/.
dependencies:
  - name: spike-keeper
    version: 0.1.0
    condition: spike-keeper.enabled
  - name: spike-nexus
    version: 0.1.0
    condition: spike-nexus.enabled
  - name: spike-pilot
    version: 0.1.0
    condition: spike-pilot.enabled
  - name: other-subchart
    version: 0.1.0
  # Agents share one vendored chart.
  - name: shared-lib
    alias: upstream-spire-agent
    version: 0.1.0
    condition: upstream.spire-agent.enabled
  - name: shared-lib
    alias: kept-alias
    version: 0.1.0
    condition: kept.enabled
  - name: spiffe-csi-driver
    alias: upstream-spiffe-csi-driver
    version: 0.1.0
    condition: upstream.spiffe-csi-driver.enabled
  - name: tornjak-frontend
    version: 0.1.0
    condition: tornjak-frontend.enabled

maintainers:
  - name: spiffe
    url: https://spiffe.io
`

// SpirePruned is SpireChart after the default rules are applied.
const SpirePruned = `apiVersion: v2
name: spire
description: >
  A Helm chart for deploying the complete Spire stack including the server,
  agents and the SPIFFE CSI driver.
type: application
version: 0.1.0
appVersion: "1.12.0"
keywords: ["spiffe", "spire", "spire-server", "spire-agent"]
home: https://github.com/spiffe/helm-charts-hardened/tree/main/charts/spire
# Subcharts are vendored under charts/.
dependencies:
  - name: other-subchart
    version: 0.1.0
  - name: shared-lib
    alias: kept-alias
    version: 0.1.0
    condition: kept.enabled

maintainers:
  - name: spiffe
    url: https://spiffe.io
`

// RemovedSubcharts lists the subcharts of spire the default rules delete.
var RemovedSubcharts = []string{"spike-keeper", "spike-nexus", "spike-pilot", "tornjak-frontend"}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644)) //nolint:gosec // test fixture
}

// WriteChart writes a minimal chart directory named name under dir.
func WriteChart(t *testing.T, dir, name, version string) {
	t.Helper()

	WriteFile(t, filepath.Join(dir, name, "Chart.yaml"),
		"apiVersion: v2\nname: "+name+"\nversion: "+version+"\n")
}

// SpireTree builds the fixture tree in a fresh temp dir and returns its
// root:
//
//	charts/spire/Chart.yaml                (SpireChart)
//	charts/spire/charts/<RemovedSubcharts>/
//	charts/spire/charts/other-subchart/
//	charts/spire/charts/shared-lib/
//	charts/spire/charts/spiffe-csi-driver/
//	charts/spire-nested/
//	charts/spire-crds/
func SpireTree(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	charts := filepath.Join(root, "charts")

	WriteFile(t, filepath.Join(charts, "spire", "Chart.yaml"), SpireChart)

	sub := filepath.Join(charts, "spire", "charts")
	for _, name := range RemovedSubcharts {
		WriteChart(t, sub, name, "0.1.0")
	}

	WriteChart(t, sub, "other-subchart", "0.1.0")
	WriteChart(t, sub, "shared-lib", "0.1.0")
	WriteChart(t, sub, "spiffe-csi-driver", "0.1.0")

	WriteChart(t, charts, "spire-nested", "0.1.0")
	WriteFile(t, filepath.Join(charts, "spire-nested", "charts", "inner", "Chart.yaml"),
		"apiVersion: v2\nname: inner\nversion: 0.1.0\n")
	WriteChart(t, charts, "spire-crds", "0.1.0")

	return root
}

// Package verify checks a chart tree against a directive set after pruning.
//
// Violations mean a directive was not honoured: a removed chart or subchart
// directory still exists, or a retained Chart.yaml still references a
// removed subchart by name or a removed alias. Warnings flag retained
// dependencies that are not vendored or whose vendored version does not
// satisfy the declared constraint; those are left for Helm to resolve.
package verify

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"github.com/Masterminds/semver/v3"
	"helm.sh/helm/v3/pkg/chart"
	helmloader "helm.sh/helm/v3/pkg/chart/loader"

	"github.com/hupe1980/chartprune/internal/prune"
	"github.com/hupe1980/chartprune/internal/rules"
)

// Severity classifies a Finding.
type Severity string

const (
	// SeverityViolation marks a directive that was not honoured.
	SeverityViolation Severity = "violation"
	// SeverityWarning marks a dependency Helm may fail to resolve.
	SeverityWarning Severity = "warning"
)

// Finding is a single verification result.
type Finding struct {
	Severity Severity
	Chart    string
	Message  string
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: %s: %s", f.Severity, f.Chart, f.Message)
}

// Result collects every finding of a Check.
type Result struct {
	Findings []Finding
}

// OK reports whether the tree has no violations. Warnings do not count.
func (r *Result) OK() bool {
	return len(r.Violations()) == 0
}

// Violations returns the findings with SeverityViolation.
func (r *Result) Violations() []Finding {
	return r.filter(SeverityViolation)
}

// Warnings returns the findings with SeverityWarning.
func (r *Result) Warnings() []Finding {
	return r.filter(SeverityWarning)
}

func (r *Result) filter(s Severity) []Finding {
	var out []Finding

	for _, f := range r.Findings {
		if f.Severity == s {
			out = append(out, f)
		}
	}

	return out
}

func (r *Result) add(s Severity, chartName, format string, args ...any) {
	r.Findings = append(r.Findings, Finding{
		Severity: s,
		Chart:    chartName,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Check verifies the tree under root against rs. It returns an error only
// when the tree cannot be inspected at all, such as a parent chart
// directory that does not exist.
func Check(root string, rs *rules.Rules, logger *slog.Logger) (*Result, error) {
	result := &Result{}

	for _, name := range rs.Charts.UnsortedList() {
		present, err := exists(prune.ChartPath(root, name))
		if err != nil {
			return nil, err
		}

		if present {
			result.add(SeverityViolation, name, "chart directory still present")
		}
	}

	for _, parent := range rs.Parents() {
		if err := checkParent(root, parent, rs, result, logger); err != nil {
			return nil, err
		}
	}

	sortFindings(result.Findings)

	return result, nil
}

func checkParent(root, parent string, rs *rules.Rules, result *Result, logger *slog.Logger) error {
	dir := prune.ChartPath(root, parent)

	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("chart directory %q: %w", dir, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("chart reference %q is not a directory", dir)
	}

	subs := rs.Subcharts[parent]
	for _, sub := range subs.UnsortedList() {
		present, err := exists(prune.SubchartPath(root, parent, sub))
		if err != nil {
			return err
		}

		if present {
			result.add(SeverityViolation, parent, "subchart %q still vendored", sub)
		}
	}

	ch, err := helmloader.LoadDir(dir)
	if err != nil {
		result.add(SeverityViolation, parent, "chart does not load: %v", err)
		return nil
	}

	aliases := rs.Aliases[parent]

	for _, dep := range ch.Metadata.Dependencies {
		if subs.Has(dep.Name) {
			result.add(SeverityViolation, parent, "dependency %q references a removed subchart", dep.Name)
		}

		if dep.Alias != "" && aliases.Has(dep.Alias) {
			result.add(SeverityViolation, parent, "dependency %q still carries removed alias %q", dep.Name, dep.Alias)
		}
	}

	checkVendored(ch, parent, result, logger)

	return nil
}

// checkVendored compares declared dependencies with the subcharts found
// in charts/.
func checkVendored(ch *chart.Chart, parent string, result *Result, logger *slog.Logger) {
	vendored := make(map[string]*chart.Chart, len(ch.Dependencies()))
	for _, sub := range ch.Dependencies() {
		if sub.Metadata != nil {
			vendored[sub.Metadata.Name] = sub
		}
	}

	for _, dep := range ch.Metadata.Dependencies {
		sub, ok := vendored[dep.Name]
		if !ok {
			logger.Warn("dependency not vendored",
				slog.String("chart", parent),
				slog.String("dependency", dep.Name),
				slog.String("repository", dep.Repository),
			)
			result.add(SeverityWarning, parent, "dependency %q is not vendored", dep.Name)

			continue
		}

		if dep.Version != "" && !versionSatisfied(dep.Version, sub.Metadata.Version) {
			logger.Warn("dependency version mismatch",
				slog.String("chart", parent),
				slog.String("dependency", dep.Name),
				slog.String("expected", dep.Version),
				slog.String("actual", sub.Metadata.Version),
			)
			result.add(SeverityWarning, parent, "dependency %q wants %s, vendored %s",
				dep.Name, dep.Version, sub.Metadata.Version)
		}
	}
}

// versionSatisfied checks actual against a semver constraint the same way
// Helm resolves dependency versions.
func versionSatisfied(constraint, actual string) bool {
	if constraint == actual {
		return true
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false
	}

	v, err := semver.NewVersion(actual)
	if err != nil {
		return false
	}

	return c.Check(v)
}

func exists(path string) (bool, error) {
	_, err := os.Lstat(path)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("inspecting %s: %w", path, err)
	}
}

func sortFindings(findings []Finding) {
	rank := func(s Severity) int {
		if s == SeverityViolation {
			return 0
		}

		return 1
	}

	slices.SortStableFunc(findings, func(a, b Finding) int {
		if c := cmp.Compare(rank(a.Severity), rank(b.Severity)); c != 0 {
			return c
		}

		if c := cmp.Compare(a.Chart, b.Chart); c != 0 {
			return c
		}

		return cmp.Compare(a.Message, b.Message)
	})
}

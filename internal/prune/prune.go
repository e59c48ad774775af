// Package prune removes charts, vendored subcharts, and dependency entries
// from a charts/ tree according to a rules.Rules directive set.
//
// A run has three phases executed strictly in order:
//
//  1. whole charts are deleted from charts/<name>;
//  2. per parent, vendored subcharts are deleted from
//     charts/<parent>/charts/<sub> and dependency entries with a matching
//     name are dropped from charts/<parent>/Chart.yaml;
//  3. per parent, dependency entries with a matching alias are dropped
//     from the (possibly already rewritten) Chart.yaml.
//
// The first error aborts the run. Nothing is rolled back, so a failed run
// leaves a partially pruned tree. Running twice fails in phase 1 because
// the configured charts are already gone.
package prune

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/hupe1980/chartprune/internal/diff"
	"github.com/hupe1980/chartprune/internal/manifest"
	"github.com/hupe1980/chartprune/internal/rules"
)

// ChartsDir is the directory holding charts, relative to the tree root and
// to every chart directory.
const ChartsDir = "charts"

// ErrNotDirectory is wrapped when a path named for removal is not a
// directory.
var ErrNotDirectory = errors.New("not a directory")

// PathError records a failed filesystem operation on a chart directory.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// Pruner applies a directive set to the chart tree under a root directory.
type Pruner struct {
	root   string
	rules  *rules.Rules
	logger *slog.Logger
	dryRun bool

	// Per-run manifest bookkeeping, reset by Run.
	pending  map[string]*manifest.Manifest
	original map[string][]byte
	final    map[string][]byte
	touched  []string
}

// Option configures a Pruner.
type Option func(*Pruner)

// WithLogger sets the logger deletions are reported to.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pruner) {
		p.logger = logger
	}
}

// WithDryRun makes the Pruner check and compute every change without
// deleting or writing anything.
func WithDryRun(dryRun bool) Option {
	return func(p *Pruner) {
		p.dryRun = dryRun
	}
}

// New creates a Pruner for the tree rooted at root, which must contain a
// charts/ directory.
func New(root string, r *rules.Rules, opts ...Option) *Pruner {
	p := &Pruner{
		root:   root,
		rules:  r,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// ChartPath returns the directory of a top-level chart.
func ChartPath(root, chart string) string {
	return filepath.Join(root, ChartsDir, chart)
}

// SubchartPath returns the directory of a subchart vendored in parent.
func SubchartPath(root, parent, sub string) string {
	return filepath.Join(root, ChartsDir, parent, ChartsDir, sub)
}

// ManifestPath returns the Chart.yaml of a top-level chart.
func ManifestPath(root, chart string) string {
	return filepath.Join(root, ChartsDir, chart, manifest.FileName)
}

// Run executes the three pruning phases and reports what was removed.
func (p *Pruner) Run(ctx context.Context) (*Report, error) {
	if err := p.rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rules: %w", err)
	}

	p.pending = make(map[string]*manifest.Manifest)
	p.original = make(map[string][]byte)
	p.final = make(map[string][]byte)
	p.touched = nil

	report := &Report{DryRun: p.dryRun}

	if err := p.removeCharts(ctx, report); err != nil {
		return report, err
	}

	if err := p.removeSubcharts(ctx, report); err != nil {
		return report, err
	}

	if err := p.removeAliases(ctx, report); err != nil {
		return report, err
	}

	for _, path := range p.touched {
		final, changed := p.final[path]
		if !changed {
			continue
		}

		rel, err := filepath.Rel(p.root, path)
		if err != nil {
			rel = path
		}

		d, err := diff.Compute(rel, string(p.original[path]), string(final), diff.DefaultOptions(filepath.ToSlash(rel)))
		if err != nil {
			return report, err
		}

		report.Diffs = append(report.Diffs, d)
	}

	return report, nil
}

// removeCharts deletes every configured top-level chart.
func (p *Pruner) removeCharts(ctx context.Context, report *Report) error {
	for _, name := range sets.List(p.rules.Charts) {
		if err := ctx.Err(); err != nil {
			return err
		}

		path := ChartPath(p.root, name)

		p.logger.Info("removing chart",
			slog.String("chart", name),
			slog.String("path", path),
		)

		if err := p.removeTree(path); err != nil {
			return err
		}

		report.Charts = append(report.Charts, name)
	}

	return nil
}

// removeSubcharts deletes configured subcharts and drops the parent's
// dependency entries that name them.
func (p *Pruner) removeSubcharts(ctx context.Context, report *Report) error {
	for _, parent := range p.rules.SubchartParents() {
		subs := p.rules.Subcharts[parent]

		for _, sub := range sets.List(subs) {
			if err := ctx.Err(); err != nil {
				return err
			}

			path := SubchartPath(p.root, parent, sub)

			p.logger.Info("removing subchart",
				slog.String("chart", parent),
				slog.String("subchart", sub),
				slog.String("path", path),
			)

			if err := p.removeTree(path); err != nil {
				return err
			}

			report.Subcharts = append(report.Subcharts, Subchart{Chart: parent, Name: sub})
		}

		keep := func(d manifest.Dependency) bool { return !subs.Has(d.Name) }
		if err := p.pruneManifest(ctx, parent, ReasonName, keep, report); err != nil {
			return err
		}
	}

	return nil
}

// removeAliases drops the configured aliased dependency entries. The
// directories those entries point at are left alone.
func (p *Pruner) removeAliases(ctx context.Context, report *Report) error {
	for _, parent := range p.rules.AliasParents() {
		aliases := p.rules.Aliases[parent]

		keep := func(d manifest.Dependency) bool { return !aliases.Has(d.Alias) }
		if err := p.pruneManifest(ctx, parent, ReasonAlias, keep, report); err != nil {
			return err
		}
	}

	return nil
}

func (p *Pruner) pruneManifest(
	ctx context.Context,
	chart string,
	reason Reason,
	keep func(manifest.Dependency) bool,
	report *Report,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m, err := p.loadManifest(ManifestPath(p.root, chart))
	if err != nil {
		return err
	}

	dropped := m.Filter(keep)
	if len(dropped) == 0 {
		p.logger.Debug("no matching dependency entries",
			slog.String("chart", chart),
			slog.String("match", string(reason)),
		)

		return nil
	}

	for _, d := range dropped {
		p.logger.Info("removing dependency",
			slog.String("chart", chart),
			slog.String("dependency", d.Name),
			slog.String("alias", d.Alias),
		)

		report.Dependencies = append(report.Dependencies, RemovedDependency{
			Chart:  chart,
			Name:   d.Name,
			Alias:  d.Alias,
			Reason: reason,
		})
	}

	return p.saveManifest(m)
}

// removeTree deletes a directory tree. A missing path is an error, unlike
// os.RemoveAll.
func (p *Pruner) removeTree(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fs.ErrNotExist
		}

		return &PathError{Op: "remove", Path: path, Err: err}
	}

	if !info.IsDir() {
		return &PathError{Op: "remove", Path: path, Err: ErrNotDirectory}
	}

	if p.dryRun {
		return nil
	}

	if err := os.RemoveAll(path); err != nil {
		return &PathError{Op: "remove", Path: path, Err: err}
	}

	return nil
}

// loadManifest reads a manifest from disk, or returns the unsaved copy from
// an earlier phase in dry-run mode.
func (p *Pruner) loadManifest(path string) (*manifest.Manifest, error) {
	if m, ok := p.pending[path]; ok {
		return m, nil
	}

	m, err := manifest.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &PathError{Op: "load", Path: path, Err: fs.ErrNotExist}
		}

		return nil, err
	}

	if _, seen := p.original[path]; !seen {
		p.original[path] = m.Original()
		p.touched = append(p.touched, path)
	}

	return m, nil
}

func (p *Pruner) saveManifest(m *manifest.Manifest) error {
	data, err := m.Bytes()
	if err != nil {
		return err
	}

	p.final[m.Path()] = data

	layout := m.Layout()
	p.logger.Debug("writing manifest",
		slog.String("path", m.Path()),
		slog.Int("indent", layout.Indent),
		slog.Bool("compactSequences", layout.CompactSequences),
		slog.Bool("dryRun", p.dryRun),
	)

	if p.dryRun {
		p.pending[m.Path()] = m
		return nil
	}

	return m.Save()
}

package prune

import (
	"fmt"
	"io"
	"strings"

	"github.com/hupe1980/chartprune/internal/diff"
)

// Reason names the field a dependency entry was matched on.
type Reason string

const (
	// ReasonName means the entry's name matched a removed subchart.
	ReasonName Reason = "name"
	// ReasonAlias means the entry's alias matched an alias directive.
	ReasonAlias Reason = "alias"
)

// Subchart identifies a vendored subchart of a top-level chart.
type Subchart struct {
	Chart string
	Name  string
}

func (s Subchart) String() string {
	return s.Chart + "/" + ChartsDir + "/" + s.Name
}

// RemovedDependency is a dependency entry dropped from a Chart.yaml.
type RemovedDependency struct {
	Chart  string
	Name   string
	Alias  string
	Reason Reason
}

// Report lists everything a run removed, or would remove in dry-run mode.
type Report struct {
	DryRun       bool
	Charts       []string
	Subcharts    []Subchart
	Dependencies []RemovedDependency

	// Diffs holds one unified diff per rewritten manifest, in the order the
	// manifests were first touched.
	Diffs []*diff.Result
}

// Changed reports whether the run removed anything.
func (r *Report) Changed() bool {
	return len(r.Charts) > 0 || len(r.Subcharts) > 0 || len(r.Dependencies) > 0
}

// Summary returns a one-line description of the run.
func (r *Report) Summary() string {
	verb := "removed"
	if r.DryRun {
		verb = "would remove"
	}

	return fmt.Sprintf("%s %d chart(s), %d subchart(s), %d dependency entr%s",
		verb, len(r.Charts), len(r.Subcharts), len(r.Dependencies), plural(len(r.Dependencies), "y", "ies"))
}

// WriteText prints the report as a human-readable listing.
func (r *Report) WriteText(w io.Writer) {
	var b strings.Builder

	for _, c := range r.Charts {
		fmt.Fprintf(&b, "chart       %s\n", c)
	}

	for _, s := range r.Subcharts {
		fmt.Fprintf(&b, "subchart    %s\n", s)
	}

	for _, d := range r.Dependencies {
		if d.Alias != "" {
			fmt.Fprintf(&b, "dependency  %s: %s (alias %s, matched by %s)\n", d.Chart, d.Name, d.Alias, d.Reason)
		} else {
			fmt.Fprintf(&b, "dependency  %s: %s (matched by %s)\n", d.Chart, d.Name, d.Reason)
		}
	}

	b.WriteString(r.Summary())
	b.WriteString("\n")

	_, _ = io.WriteString(w, b.String())
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}

	return many
}

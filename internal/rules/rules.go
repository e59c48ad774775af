// Package rules holds the removal directives applied by the pruner.
//
// Directives are plain data: which top-level charts to drop, which vendored
// subcharts to drop per parent, and which aliased dependency entries to strip
// per parent. Editing the compiled-in set in Default never requires touching
// the pruning procedure.
package rules

import (
	"fmt"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
)

// Rules describes one pruning pass.
type Rules struct {
	// Charts are top-level chart names removed together with their whole tree.
	Charts sets.Set[string]

	// Subcharts maps a parent chart to the vendored subcharts removed from
	// charts/<parent>/charts. Dependency entries with a matching name are
	// pruned from the parent's Chart.yaml.
	Subcharts map[string]sets.Set[string]

	// Aliases maps a parent chart to dependency aliases stripped from its
	// Chart.yaml. The aliased subchart directory is left in place since other
	// entries may still reference it.
	Aliases map[string]sets.Set[string]
}

// Default returns the directive set compiled into the binary.
func Default() *Rules {
	return &Rules{
		Charts: sets.New(
			"spire-nested",
		),
		Subcharts: map[string]sets.Set[string]{
			"spire": sets.New(
				"spike-keeper",
				"spike-nexus",
				"spike-pilot",
				"tornjak-frontend",
			),
		},
		Aliases: map[string]sets.Set[string]{
			"spire": sets.New(
				"upstream-spiffe-csi-driver",
				"upstream-spire-agent",
			),
		},
	}
}

// Spec is the serialisable form of Rules used by config files and the
// rules command.
type Spec struct {
	Charts    []string            `json:"charts,omitempty" mapstructure:"charts"`
	Subcharts map[string][]string `json:"subcharts,omitempty" mapstructure:"subcharts"`
	Aliases   map[string][]string `json:"aliases,omitempty" mapstructure:"aliases"`
}

// IsZero reports whether s carries no directives at all.
func (s Spec) IsZero() bool {
	return len(s.Charts) == 0 && len(s.Subcharts) == 0 && len(s.Aliases) == 0
}

// FromSpec converts a Spec into Rules.
func FromSpec(s Spec) *Rules {
	r := &Rules{
		Charts:    sets.New(s.Charts...),
		Subcharts: make(map[string]sets.Set[string], len(s.Subcharts)),
		Aliases:   make(map[string]sets.Set[string], len(s.Aliases)),
	}

	for parent, names := range s.Subcharts {
		r.Subcharts[parent] = sets.New(names...)
	}

	for parent, aliases := range s.Aliases {
		r.Aliases[parent] = sets.New(aliases...)
	}

	return r
}

// Spec returns the serialisable form of r with every list sorted.
func (r *Rules) Spec() Spec {
	s := Spec{Charts: sets.List(r.Charts)}

	if len(r.Subcharts) > 0 {
		s.Subcharts = make(map[string][]string, len(r.Subcharts))
		for parent, names := range r.Subcharts {
			s.Subcharts[parent] = sets.List(names)
		}
	}

	if len(r.Aliases) > 0 {
		s.Aliases = make(map[string][]string, len(r.Aliases))
		for parent, aliases := range r.Aliases {
			s.Aliases[parent] = sets.List(aliases)
		}
	}

	return s
}

// Validate checks that every directive names a single path component.
func (r *Rules) Validate() error {
	for _, name := range sets.List(r.Charts) {
		if err := validateName("chart", name); err != nil {
			return err
		}
	}

	for _, parent := range sortedKeys(r.Subcharts) {
		if err := validateName("parent chart", parent); err != nil {
			return err
		}

		for _, name := range sets.List(r.Subcharts[parent]) {
			if err := validateName("subchart", name); err != nil {
				return err
			}
		}
	}

	for _, parent := range sortedKeys(r.Aliases) {
		if err := validateName("parent chart", parent); err != nil {
			return err
		}

		for _, alias := range sets.List(r.Aliases[parent]) {
			if strings.TrimSpace(alias) == "" {
				return fmt.Errorf("empty alias for parent chart %q", parent)
			}
		}
	}

	return nil
}

// SubchartParents returns the parents with subchart directives, sorted.
func (r *Rules) SubchartParents() []string {
	return sortedKeys(r.Subcharts)
}

// AliasParents returns the parents with alias directives, sorted.
func (r *Rules) AliasParents() []string {
	return sortedKeys(r.Aliases)
}

// Parents returns every parent chart named by any directive, sorted.
func (r *Rules) Parents() []string {
	all := sets.New(sortedKeys(r.Subcharts)...)
	all.Insert(sortedKeys(r.Aliases)...)

	return sets.List(all)
}

func validateName(kind, name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("empty %s name", kind)
	case name == "." || name == "..":
		return fmt.Errorf("invalid %s name %q", kind, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("invalid %s name %q: must not contain path separators", kind, name)
	}

	return nil
}

func sortedKeys(m map[string]sets.Set[string]) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

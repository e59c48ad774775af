// Package manifest edits the dependencies list of a Chart.yaml in place.
//
// The document is parsed into a YAML node tree to find the entries, but a
// block-style list is rewritten by cutting the dropped entries' lines out of
// the source text, so everything else in the file is written back byte for
// byte. Flow-style lists are re-encoded from the node tree with the layout
// detected in the source.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// FileName is the manifest file name inside a chart directory.
const FileName = "Chart.yaml"

// dependenciesKey is the top-level key holding the dependency list.
const dependenciesKey = "dependencies"

// ErrMalformed is wrapped by every error caused by manifest content that
// cannot be parsed or does not have the expected shape.
var ErrMalformed = errors.New("malformed manifest")

// Dependency is one entry of the dependencies list.
type Dependency struct {
	Name  string
	Alias string
}

// Manifest is a parsed Chart.yaml.
type Manifest struct {
	path    string
	raw     []byte
	doc     yaml.Node
	layout  Layout
	block   *blockList
	changed bool
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is built from the chart tree root
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	return Parse(path, data)
}

// Parse parses manifest content. path is only used for error messages and
// as the destination of Save.
func Parse(path string, data []byte) (*Manifest, error) {
	m := &Manifest{
		path:   path,
		raw:    data,
		layout: DetectLayout(data),
	}

	if err := yaml.Unmarshal(data, &m.doc); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrMalformed, path, err)
	}

	if m.doc.Kind != yaml.DocumentNode || len(m.doc.Content) == 0 {
		return nil, fmt.Errorf("%w %s: empty document", ErrMalformed, path)
	}

	if m.root().Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w %s: top level is not a mapping", ErrMalformed, path)
	}

	if _, err := m.dependencyList(); err != nil {
		return nil, err
	}

	m.captureBlockList()

	return m, nil
}

// Path returns the file the manifest was loaded from.
func (m *Manifest) Path() string { return m.path }

// Original returns the bytes the manifest was parsed from.
func (m *Manifest) Original() []byte { return m.raw }

// Layout returns the formatting detected in the source document.
func (m *Manifest) Layout() Layout { return m.layout }

// Dependencies returns the entries of the dependencies list in order.
func (m *Manifest) Dependencies() []Dependency {
	seq, _ := m.dependencyList()
	if seq == nil {
		return nil
	}

	deps := make([]Dependency, 0, len(seq.Content))
	for _, item := range seq.Content {
		deps = append(deps, dependencyFromNode(item))
	}

	return deps
}

// Filter drops every dependency for which keep returns false and returns
// the dropped entries in their original order. Retained entries are not
// modified.
func (m *Manifest) Filter(keep func(Dependency) bool) []Dependency {
	seq, _ := m.dependencyList()
	if seq == nil {
		return nil
	}

	var (
		kept    = make([]*yaml.Node, 0, len(seq.Content))
		dropped []Dependency
	)

	for _, item := range seq.Content {
		dep := dependencyFromNode(item)
		if keep(dep) {
			kept = append(kept, item)
			continue
		}

		dropped = append(dropped, dep)
	}

	if len(dropped) > 0 {
		m.changed = true
		seq.Content = kept
		if len(kept) == 0 {
			// An emptied block sequence can only be written in flow style.
			seq.Style = yaml.FlowStyle
		}
	}

	return dropped
}

// Bytes returns the manifest content with every dropped entry removed.
// An unchanged manifest is returned as it was parsed.
func (m *Manifest) Bytes() ([]byte, error) {
	seq, _ := m.dependencyList()
	if !m.changed || seq == nil {
		return bytes.Clone(m.raw), nil
	}

	if out, ok := m.splice(seq.Content); ok {
		return out, nil
	}

	return m.encode()
}

// encode re-encodes the node tree using the layout detected at parse time.
func (m *Manifest) encode() ([]byte, error) {
	var buf bytes.Buffer

	if m.layout.ExplicitStart {
		buf.WriteString("---\n")
	}

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(m.layout.Indent)

	if m.layout.CompactSequences {
		enc.CompactSeqIndent()
	}

	if err := enc.Encode(&m.doc); err != nil {
		return nil, fmt.Errorf("encoding manifest %s: %w", m.path, err)
	}

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding manifest %s: %w", m.path, err)
	}

	return buf.Bytes(), nil
}

// Save writes the manifest back to the path it was loaded from, keeping
// the existing file mode.
func (m *Manifest) Save() error {
	data, err := m.Bytes()
	if err != nil {
		return err
	}

	perm := os.FileMode(0o644)
	if info, err := os.Stat(m.path); err == nil {
		perm = info.Mode().Perm()
	}

	if err := os.WriteFile(m.path, data, perm); err != nil {
		return fmt.Errorf("writing manifest %s: %w", m.path, err)
	}

	return nil
}

func (m *Manifest) root() *yaml.Node {
	return m.doc.Content[0]
}

// dependencyList returns the sequence node under the dependencies key, or
// nil when the key is absent or null.
func (m *Manifest) dependencyList() (*yaml.Node, error) {
	root := m.root()

	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != dependenciesKey {
			continue
		}

		v := resolve(root.Content[i+1])

		switch {
		case v.Kind == yaml.SequenceNode:
			return v, nil
		case v.Kind == yaml.ScalarNode && v.ShortTag() == "!!null":
			return nil, nil
		default:
			return nil, fmt.Errorf("%w %s: %s is not a list", ErrMalformed, m.path, dependenciesKey)
		}
	}

	return nil, nil
}

func dependencyFromNode(n *yaml.Node) Dependency {
	var dep Dependency

	n = resolve(n)
	if n.Kind != yaml.MappingNode {
		return dep
	}

	for i := 0; i+1 < len(n.Content); i += 2 {
		v := resolve(n.Content[i+1])
		if v.Kind != yaml.ScalarNode {
			continue
		}

		switch n.Content[i].Value {
		case "name":
			dep.Name = v.Value
		case "alias":
			dep.Alias = v.Value
		}
	}

	return dep
}

func resolve(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}

	return n
}

package manifest

import (
	"bytes"
	"strings"

	"go.yaml.in/yaml/v3"
)

// blockList records where a block-style dependencies list sits in the
// source text, so dropped entries can be cut out line by line.
type blockList struct {
	key   *yaml.Node
	items []*yaml.Node
}

// captureBlockList remembers the dependencies list when it is a block
// sequence written directly under its key. Flow lists, aliased lists and
// lists whose entries share a line are left to the encoder.
func (m *Manifest) captureBlockList() {
	root := m.root()

	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		if key.Value != dependenciesKey {
			continue
		}

		if value.Kind != yaml.SequenceNode || value.Style&yaml.FlowStyle != 0 || len(value.Content) == 0 {
			return
		}

		prev := key.Line
		for _, item := range value.Content {
			if item.Line <= prev {
				return
			}

			prev = item.Line
		}

		m.block = &blockList{
			key:   key,
			items: append([]*yaml.Node(nil), value.Content...),
		}

		return
	}
}

// splice returns the source text with the lines of every dropped entry
// removed. Everything outside those lines is kept byte for byte. It
// reports false when the source cannot be edited this way.
func (m *Manifest) splice(kept []*yaml.Node) ([]byte, bool) {
	b := m.block
	if b == nil {
		return nil, false
	}

	lines := splitLinesKeepEnd(m.raw)
	keyLine := b.key.Line - 1
	keyIndent := b.key.Column - 1

	if keyLine < 0 || keyLine >= len(lines) {
		return nil, false
	}

	keep := make(map[*yaml.Node]bool, len(kept))
	for _, n := range kept {
		keep[n] = true
	}

	// Entry j owns the lines [starts[j], starts[j+1]); the last entry ends
	// where the list ends.
	starts := make([]int, len(b.items)+1)
	for j, item := range b.items {
		starts[j] = entryStart(lines, item.Line-1, keyLine)
	}

	starts[len(b.items)] = listEnd(lines, b.items[len(b.items)-1].Line-1, keyIndent)

	for j := 1; j < len(starts); j++ {
		if starts[j] < starts[j-1] || starts[j] > len(lines) {
			return nil, false
		}
	}

	var buf bytes.Buffer

	if len(kept) == 0 {
		empty, ok := emptyListLine(lines[keyLine], keyIndent)
		if !ok {
			return nil, false
		}

		writeLines(&buf, lines[:keyLine])
		buf.WriteString(empty)
		writeLines(&buf, lines[keyLine+1:starts[0]])
		writeLines(&buf, lines[starts[len(b.items)]:])

		return buf.Bytes(), true
	}

	writeLines(&buf, lines[:starts[0]])

	first := true
	for j, item := range b.items {
		if !keep[item] {
			continue
		}

		from := starts[j]

		// A blank line separating entries is not carried to the top of
		// the list when the entries above it are dropped.
		if first && j > 0 && !isBlankLine(lines[starts[0]]) {
			for from < starts[j+1] && isBlankLine(lines[from]) {
				from++
			}
		}

		writeLines(&buf, lines[from:starts[j+1]])
		first = false
	}

	writeLines(&buf, lines[starts[len(b.items)]:])

	return buf.Bytes(), true
}

// entryStart returns the first line of the entry whose node starts on line
// idx: the dash line plus any comments and blank lines directly above it.
func entryStart(lines []string, idx, keyLine int) int {
	if idx > keyLine+1 && strings.TrimSpace(lines[idx-1]) == "-" {
		idx--
	}

	for idx > keyLine+1 && (isBlankLine(lines[idx-1]) || isCommentLine(lines[idx-1])) {
		idx--
	}

	return idx
}

// listEnd returns the line after the last entry, which starts on line
// last. The list ends at the first content line indented no deeper than
// its key; blank lines and comments at that depth stay outside it.
func listEnd(lines []string, last, keyIndent int) int {
	end := last + 1
	for end < len(lines) {
		l := lines[end]
		if !isBlankLine(l) && !isCommentLine(l) && lineIndent(l) <= keyIndent {
			break
		}

		end++
	}

	for end > last+1 {
		l := lines[end-1]
		if !isBlankLine(l) && !(isCommentLine(l) && lineIndent(l) <= keyIndent) {
			break
		}

		end--
	}

	return end
}

// emptyListLine rewrites "dependencies:" as "dependencies: []", keeping a
// trailing comment. It fails when anything other than a comment follows
// the colon.
func emptyListLine(line string, keyIndent int) (string, bool) {
	if keyIndent > len(line) {
		return "", false
	}

	colon := strings.Index(line[keyIndent:], ":")
	if colon < 0 {
		return "", false
	}

	head := line[:keyIndent+colon+1]
	rest := line[keyIndent+colon+1:]
	body := strings.TrimRight(rest, "\r\n")
	eol := rest[len(body):]

	comment := strings.TrimSpace(body)
	if comment != "" && !strings.HasPrefix(comment, "#") {
		return "", false
	}

	out := head + " []"
	if comment != "" {
		out += " " + comment
	}

	if eol == "" {
		eol = "\n"
	}

	return out + eol, true
}

func splitLinesKeepEnd(data []byte) []string {
	var lines []string

	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			lines = append(lines, string(data))
			break
		}

		lines = append(lines, string(data[:i+1]))
		data = data[i+1:]
	}

	return lines
}

func writeLines(buf *bytes.Buffer, lines []string) {
	for _, l := range lines {
		buf.WriteString(l)
	}
}

func isBlankLine(l string) bool {
	return strings.TrimSpace(l) == ""
}

func isCommentLine(l string) bool {
	return strings.HasPrefix(strings.TrimSpace(l), "#")
}

func lineIndent(l string) int {
	return len(l) - len(strings.TrimLeft(l, " \t"))
}

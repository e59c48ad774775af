package manifest

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"
)

// DefaultIndent is used when a document has no nested block to measure.
const DefaultIndent = 2

// The YAML emitter only honours indents in this range.
const (
	minIndent = 2
	maxIndent = 9
)

// blockScalarHeader matches a key whose value is a literal or folded block.
var blockScalarHeader = regexp.MustCompile(`:\s*[|>][-+0-9]*\s*(#.*)?$`)

// Layout is the block formatting of a YAML document.
type Layout struct {
	// Indent is the number of spaces a nested mapping is indented by.
	Indent int

	// CompactSequences is true when the "- " indicator counts toward the
	// indentation of a sequence nested in a mapping. With an Indent of 2
	// this yields "key:\n- item".
	CompactSequences bool

	// ExplicitStart is true when the document opens with "---".
	ExplicitStart bool
}

// DetectLayout measures indentation from the first nested mapping of data.
// The sequence style is taken from the top-level dependencies list when it
// is a block sequence, otherwise from the first block sequence. Flow
// collections and block scalar bodies are ignored.
func DetectLayout(data []byte) Layout {
	var layout Layout

	var (
		mapIndent   int
		indentFound bool
		seqFound    bool
		seqOffset   int
		depsFound   bool
		depsOffset  int
		first       = true
		prevKey     = -1    // column of the previous "key:" line opening a block, or -1
		prevDeps    = false // the previous "key:" line is the top-level dependencies key
		scalarCol   = -1    // column of the key owning an open block scalar, or -1
	)

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \t\r")
		text := strings.TrimLeft(line, " ")
		col := len(line) - len(text)

		if text == "" {
			continue
		}

		if scalarCol >= 0 {
			if col > scalarCol {
				continue
			}

			scalarCol = -1
		}

		if strings.HasPrefix(text, "#") {
			continue
		}

		if first {
			first = false

			if text == "---" || strings.HasPrefix(text, "--- ") {
				layout.ExplicitStart = true
				continue
			}
		}

		isItem := text == "-" || strings.HasPrefix(text, "- ")

		if prevKey >= 0 && col >= prevKey {
			switch {
			case isItem && prevDeps:
				depsFound = true
				depsOffset = col - prevKey
			case isItem && !seqFound:
				seqFound = true
				seqOffset = col - prevKey
			case !isItem && !indentFound && col > prevKey:
				indentFound = true
				mapIndent = col - prevKey
			}
		}

		if indentFound && depsFound {
			break
		}

		// Step past a leading "- " so a key inside a sequence item is
		// measured from its own column.
		keyCol, keyText := col, text
		for keyText == "-" || strings.HasPrefix(keyText, "- ") {
			rest := strings.TrimLeft(keyText[1:], " ")
			keyCol += len(keyText) - len(rest)
			keyText = rest
		}

		prevKey = -1
		prevDeps = false

		switch {
		case blockScalarHeader.MatchString(keyText):
			scalarCol = keyCol
		case opensBlock(keyText):
			prevKey = keyCol
			prevDeps = keyCol == 0 && keyName(keyText) == dependenciesKey
		}
	}

	if depsFound {
		seqFound, seqOffset = true, depsOffset
	}

	layout.Indent, layout.CompactSequences = pickIndent(mapIndent, indentFound, seqOffset, seqFound)

	return layout
}

// pickIndent maps the measured mapping indent and sequence dash offset onto
// the encoder settings that reproduce them. When the two disagree in a way
// the encoder cannot express, the sequence offset wins.
func pickIndent(mapIndent int, mapOK bool, seqOffset int, seqOK bool) (int, bool) {
	switch {
	case !seqOK && !mapOK:
		return DefaultIndent, false
	case !seqOK:
		return clampIndent(mapIndent), false
	case !mapOK:
		if seqOffset == 0 {
			return minIndent, true
		}

		return clampIndent(seqOffset), false
	case seqOffset == mapIndent:
		return clampIndent(mapIndent), false
	case seqOffset == mapIndent-2:
		return clampIndent(mapIndent), true
	case seqOffset == 0:
		return minIndent, true
	default:
		return clampIndent(seqOffset), false
	}
}

// opensBlock reports whether text is a mapping key with no inline value.
func opensBlock(text string) bool {
	if i := strings.Index(text, " #"); i >= 0 {
		text = strings.TrimRight(text[:i], " ")
	}

	return strings.HasSuffix(text, ":") && !strings.HasPrefix(text, "#")
}

// keyName returns the key of a "key:" line without quotes.
func keyName(text string) string {
	if i := strings.Index(text, " #"); i >= 0 {
		text = text[:i]
	}

	text = strings.TrimSuffix(strings.TrimRight(text, " "), ":")

	return strings.Trim(text, `"'`)
}

func clampIndent(n int) int {
	switch {
	case n < minIndent:
		return minIndent
	case n > maxIndent:
		return maxIndent
	default:
		return n
	}
}

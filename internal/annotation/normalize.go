package annotation

import (
	"sort"
	"strings"
)

// Line is a horizontal group of tokens, ordered left to right.
type Line struct {
	Tokens []Token
}

// Text renders the line's tokens joined by single spaces.
func (l Line) Text() string {
	parts := make([]string, 0, len(l.Tokens))
	for _, t := range l.Tokens {
		parts = append(parts, t.Text)
	}
	return strings.Join(parts, " ")
}

// Top returns the smallest token top in the line.
func (l Line) Top() int {
	if len(l.Tokens) == 0 {
		return 0
	}
	min := l.Tokens[0].Top()
	for _, t := range l.Tokens[1:] {
		if t.Top() < min {
			min = t.Top()
		}
	}
	return min
}

// Bottom returns the largest token bottom in the line.
func (l Line) Bottom() int {
	if len(l.Tokens) == 0 {
		return 0
	}
	max := l.Tokens[0].Bottom()
	for _, t := range l.Tokens[1:] {
		if t.Bottom() > max {
			max = t.Bottom()
		}
	}
	return max
}

// CenterY returns the vertical center of the line.
func (l Line) CenterY() int {
	return (l.Top() + l.Bottom()) / 2
}

// Block is a vertical run of lines separated from its neighbours by a gap
// larger than the block threshold.
type Block struct {
	Lines []Line
}

// Normalized is the uniform token stream extractors operate on: tokens in
// reading order, line and block groupings, and a plain-text rendering for
// substring search. Built once per extraction run, never persisted.
type Normalized struct {
	Tokens []Token
	Lines  []Line
	Blocks []Block
	Text   string
}

// blockGapFactor is the multiple of the median line height above which two
// adjacent lines belong to different blocks.
const blockGapFactor = 2

// Normalize flattens a raw annotation into a Normalized stream. Identical
// input tokens always yield identical grouping; both the extractors and the
// regression differ depend on that. A zero-token annotation yields an empty
// Normalized rather than an error.
func Normalize(raw Annotation) Normalized {
	if len(raw.Tokens) == 0 {
		return Normalized{}
	}

	tokens := make([]Token, len(raw.Tokens))
	copy(tokens, raw.Tokens)

	// Stable order before grouping: top to bottom, then left to right. Ties
	// broken by text so that equal geometry cannot reorder between runs.
	sort.SliceStable(tokens, func(i, j int) bool {
		if tokens[i].CenterY() != tokens[j].CenterY() {
			return tokens[i].CenterY() < tokens[j].CenterY()
		}
		if tokens[i].Left() != tokens[j].Left() {
			return tokens[i].Left() < tokens[j].Left()
		}
		return tokens[i].Text < tokens[j].Text
	})

	lines := groupLines(tokens)
	blocks := groupBlocks(lines)

	lineTexts := make([]string, 0, len(lines))
	ordered := make([]Token, 0, len(tokens))
	for _, line := range lines {
		lineTexts = append(lineTexts, line.Text())
		ordered = append(ordered, line.Tokens...)
	}

	return Normalized{
		Tokens: ordered,
		Lines:  lines,
		Blocks: blocks,
		Text:   strings.Join(lineTexts, "\n"),
	}
}

// groupLines clusters vertically-sorted tokens into lines. A token joins the
// current line when its vertical center falls inside the line's span,
// extended by half the token's own height to absorb skew.
func groupLines(tokens []Token) []Line {
	var lines []Line
	for _, tok := range tokens {
		placed := false
		for i := range lines {
			line := &lines[i]
			slack := tok.Height() / 2
			if tok.CenterY() >= line.Top()-slack && tok.CenterY() <= line.Bottom()+slack {
				line.Tokens = append(line.Tokens, tok)
				placed = true
				break
			}
		}
		if !placed {
			lines = append(lines, Line{Tokens: []Token{tok}})
		}
	}

	for i := range lines {
		sort.SliceStable(lines[i].Tokens, func(a, b int) bool {
			if lines[i].Tokens[a].Left() != lines[i].Tokens[b].Left() {
				return lines[i].Tokens[a].Left() < lines[i].Tokens[b].Left()
			}
			return lines[i].Tokens[a].Text < lines[i].Tokens[b].Text
		})
	}
	sort.SliceStable(lines, func(a, b int) bool {
		return lines[a].CenterY() < lines[b].CenterY()
	})
	return lines
}

// groupBlocks splits the line sequence wherever the vertical gap between
// consecutive lines exceeds blockGapFactor times the median line height.
func groupBlocks(lines []Line) []Block {
	if len(lines) == 0 {
		return nil
	}

	heights := make([]int, 0, len(lines))
	for _, l := range lines {
		heights = append(heights, l.Bottom()-l.Top())
	}
	sort.Ints(heights)
	median := heights[len(heights)/2]
	if median == 0 {
		median = 1
	}

	blocks := []Block{{Lines: []Line{lines[0]}}}
	for _, line := range lines[1:] {
		prev := blocks[len(blocks)-1].Lines
		gap := line.Top() - prev[len(prev)-1].Bottom()
		if gap > blockGapFactor*median {
			blocks = append(blocks, Block{Lines: []Line{line}})
			continue
		}
		blocks[len(blocks)-1].Lines = append(blocks[len(blocks)-1].Lines, line)
	}
	return blocks
}

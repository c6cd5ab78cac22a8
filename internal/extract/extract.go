// Package extract turns the captured stdout of the analysis tool into
// per-image result blocks.
//
// Extraction is a single pass over the capture with two states. OUTSIDE skips
// lines until the grammar recognises a block opener; INSIDE appends rows until
// a line is not a row, at which point the block is flushed and that same line
// is offered to OUTSIDE again, so a header directly following a block is never
// lost. Unrecognised lines outside a block are ignored.
package extract

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
)

// Block is the raw result of one image: the opener line the grammar seeds it
// with, followed by one row per analysis unit.
type Block struct {
	Header string
	Rows   []string
}

// Text renders the block as newline-terminated lines, header first.
func (b Block) Text() string {
	var sb strings.Builder
	sb.WriteString(b.Header)
	sb.WriteByte('\n')
	for _, r := range b.Rows {
		sb.WriteString(r)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Results maps an image id to its block. An image without rows is absent.
type Results map[int64]Block

// IDs returns the image ids in ascending order.
func (r Results) IDs() []int64 {
	ids := make([]int64, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// RowCount returns the total number of rows over all blocks.
func (r Results) RowCount() int {
	n := 0
	for _, b := range r {
		n += len(b.Rows)
	}
	return n
}

// Grammar supplies the transition predicates of the extractor.
type Grammar interface {
	// Open reports whether line starts a block. id is zero when the grammar
	// keys rows individually.
	Open(line string) (header string, id int64, ok bool)
	// Row reports whether line belongs to the open block, returning the text
	// to keep and the id it is filed under.
	Row(line string, current int64) (text string, id int64, ok bool)
}

type state int

const (
	outside state = iota
	inside
)

type extractor struct {
	g       Grammar
	state   state
	header  string
	id      int64
	rows    []string
	results Results
	// ids already filed since the current block opened
	filed map[int64]bool
}

// flush files the accumulator under the current id. Rows for an id seen earlier
// in the same block are appended to it; a later block for the same id replaces
// the earlier one. An empty accumulator is discarded.
func (e *extractor) flush() {
	if len(e.rows) > 0 && e.id != 0 {
		if e.filed[e.id] {
			b := e.results[e.id]
			b.Rows = append(b.Rows, e.rows...)
			e.results[e.id] = b
		} else {
			e.results[e.id] = Block{Header: e.header, Rows: e.rows}
			e.filed[e.id] = true
		}
	}
	e.rows = nil
	e.id = 0
}

func (e *extractor) step(line string) {
	if e.state == inside {
		text, id, ok := e.g.Row(line, e.id)
		if ok {
			if id != e.id && len(e.rows) > 0 {
				e.flush()
			}
			e.id = id
			e.rows = append(e.rows, text)
			return
		}
		e.flush()
		e.state = outside
	}
	// outside, including a line that just closed a block
	if header, id, ok := e.g.Open(line); ok {
		e.header = header
		e.id = id
		e.rows = nil
		e.filed = map[int64]bool{}
		e.state = inside
	}
}

// Extract runs grammar g over r.
func Extract(r io.Reader, g Grammar) (Results, error) {
	e := &extractor{g: g, results: Results{}}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		e.step(strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read capture: %w", err)
	}
	if e.state == inside {
		e.flush()
	}
	return e.results, nil
}

// ExtractFile runs grammar g over the capture file at path.
func ExtractFile(path string, g Grammar) (Results, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Extract(f, g)
}

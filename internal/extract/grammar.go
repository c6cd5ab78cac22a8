package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// RowKeyed is the grammar of the colocalisation analyser. A column header line
//
//	Image,p,Method,Frame,Ch1,...
//
// opens a block and every following "<id>.ome.tif,<values>" row is filed
// under the id in its own file name.
type RowKeyed struct{}

var (
	rowKeyedHeader = regexp.MustCompile(`^Image,(p,Method.*)$`)
	rowKeyedRow    = regexp.MustCompile(`^(\d+)\.ome\.tif,(.*)$`)
)

func (RowKeyed) Open(line string) (string, int64, bool) {
	m := rowKeyedHeader.FindStringSubmatch(line)
	if m == nil {
		return "", 0, false
	}
	return m[1], 0, true
}

func (RowKeyed) Row(line string, _ int64) (string, int64, bool) {
	m := rowKeyedRow.FindStringSubmatch(line)
	if m == nil {
		return "", 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || id == 0 {
		return "", 0, false
	}
	return m[2], id, true
}

// LabelKeyed is the grammar of the correlation analyser. A stage label
//
//	Stack correlation (Otsu) : 1851.ome.tif
//
// opens a block for image 1851 and each following line starting with the
// row prefix "t" is kept verbatim.
type LabelKeyed struct{}

// RowPrefix starts every data row of a LabelKeyed block.
const RowPrefix = "t"

var labelKeyedOpen = regexp.MustCompile(`^Stack correlation [^ ]* : (\d+)\.ome\.tif`)

func (LabelKeyed) Open(line string) (string, int64, bool) {
	m := labelKeyedOpen.FindStringSubmatch(line)
	if m == nil {
		return "", 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || id == 0 {
		return "", 0, false
	}
	return line, id, true
}

func (LabelKeyed) Row(line string, current int64) (string, int64, bool) {
	if !strings.HasPrefix(line, RowPrefix) {
		return "", 0, false
	}
	return line, current, true
}

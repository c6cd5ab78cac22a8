// Package report flattens extracted result blocks into the CSV report sent to
// the operator and summarises it for the console.
package report

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"strings"

	"stackanalyser/internal/extract"
	"stackanalyser/internal/imagestore"
)

// Prefix is the identifying column header shared by every variant.
const Prefix = "Project,Dataset,Image ID,Name"

const missing = "-"

// Report is a header row followed by one data row per analysis unit.
type Report struct {
	Header string
	Rows   []string
}

// Build prefixes every result row with its image's project, dataset, id and
// base file name. Images are visited in ascending id order. Prefix fields are
// CSV quoted when they contain a comma, quote or newline.
func Build(results extract.Results, images map[int64]imagestore.ImageRef, columns string) Report {
	rep := Report{Header: Prefix + "," + columns}
	for _, id := range results.IDs() {
		img := images[id]
		prefix := csvFields(orDash(img.Project), orDash(img.Dataset), strconv.FormatInt(id, 10), orDash(img.BaseName()))
		for _, row := range results[id].Rows {
			rep.Rows = append(rep.Rows, prefix+","+row)
		}
	}
	return rep
}

func csvFields(fields ...string) string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	// Write only fails on the underlying writer, which is a buffer
	_ = w.Write(fields)
	w.Flush()
	return strings.TrimSuffix(buf.String(), "\n")
}

// splitRow parses one report line. Tool output after the prefix is read
// leniently since it is never quoted.
func splitRow(line string) []string {
	r := csv.NewReader(strings.NewReader(line))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	fields, err := r.Read()
	if err != nil {
		return strings.Split(line, ",")
	}
	return fields
}

func orDash(s string) string {
	if s == "" {
		return missing
	}
	return s
}

// Len returns the number of data rows.
func (r Report) Len() int {
	return len(r.Rows)
}

// Lines returns the header followed by the rows.
func (r Report) Lines() []string {
	return append([]string{r.Header}, r.Rows...)
}

// CSV renders the report as newline separated text.
func (r Report) CSV() string {
	return strings.Join(r.Lines(), "\n")
}

// Columns returns the header split into column names.
func (r Report) Columns() []string {
	return splitRow(r.Header)
}

package report

import (
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// ImageSummary describes the key metric of one image across its rows.
type ImageSummary struct {
	ImageID int64
	Name    string
	Rows    int
	// Values is the number of rows whose metric parsed as a number.
	Values int
	Mean   float64
	StdDev float64
}

// Summarize groups the report rows by image and computes the mean and
// standard deviation of the named metric column. The last column with that
// name is used. Rows with an unparsable value still count towards Rows.
func Summarize(r Report, metric string) []ImageSummary {
	cols := r.Columns()
	idx := -1
	for i, c := range cols {
		if c == metric {
			idx = i
		}
	}

	var out []ImageSummary
	values := map[int64][]float64{}
	pos := map[int64]int{}
	for _, row := range r.Rows {
		fields := splitRow(row)
		if len(fields) < 4 {
			continue
		}
		id, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			continue
		}
		i, ok := pos[id]
		if !ok {
			i = len(out)
			pos[id] = i
			out = append(out, ImageSummary{ImageID: id, Name: fields[3]})
		}
		out[i].Rows++
		if idx < 0 || idx >= len(fields) {
			continue
		}
		if v, ok := parseMetric(fields[idx]); ok {
			values[id] = append(values[id], v)
		}
	}

	for i := range out {
		vs := values[out[i].ImageID]
		out[i].Values = len(vs)
		switch len(vs) {
		case 0:
		case 1:
			out[i].Mean = vs[0]
		default:
			out[i].Mean, out[i].StdDev = stat.MeanStdDev(vs, nil)
		}
	}
	return out
}

// parseMetric accepts plain numbers and percentages.
func parseMetric(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	pct := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if pct {
		v /= 100
	}
	return v, true
}

// Package params holds the typed analysis configuration and the validation
// gate that runs before any export or external process is started.
package params

import (
	"fmt"
	"strconv"
)

// DataType selects how selection ids are interpreted.
type DataType string

const (
	DataTypeImage   DataType = "Image"
	DataTypeDataset DataType = "Dataset"
)

// Selection identifies the images a run operates on.
type Selection struct {
	Type DataType
	IDs  []int64
}

// Parameters is the validated configuration of one run. It is passed by value
// and never modified once Validate has accepted it.
type Parameters struct {
	Method Method

	// Channel selectors: a channel name or a 1-based index. Channel3 is optional.
	Channel1 string
	Channel2 string
	Channel3 string

	Permutations int
	MinShift     int
	MaxShift     int
	Significance float64

	Intersect bool
	Aggregate bool

	Upload    bool
	Email     bool
	Recipient string
}

// Range is an inclusive numeric bound.
type Range struct {
	Min float64
	Max float64
}

func (r Range) contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Schema declares which parameter groups a variant uses.
type Schema struct {
	// Channels requires Channel1 and Channel2 and allows Channel3.
	Channels bool
	// Displacement enables the permutation/shift/significance ranges.
	Displacement bool

	Permutations Range
	MinShift     Range
	MaxShift     Range
	Significance Range
}

const unbounded = 1 << 31

// ColocalisationSchema is the parameter schema of the colocalisation analyser.
func ColocalisationSchema() Schema {
	return Schema{
		Channels:     true,
		Displacement: true,
		Permutations: Range{Min: 1, Max: unbounded},
		MinShift:     Range{Min: 1, Max: unbounded},
		MaxShift:     Range{Min: 2, Max: unbounded},
		Significance: Range{Min: 0, Max: 1},
	}
}

// CorrelationSchema is the parameter schema of the correlation analyser.
func CorrelationSchema() Schema {
	return Schema{}
}

// DefaultColocalisation returns the colocalisation defaults.
func DefaultColocalisation() Parameters {
	return Parameters{
		Method:       MethodOtsu,
		Channel1:     "1",
		Channel2:     "2",
		Permutations: 100,
		MinShift:     9,
		MaxShift:     16,
		Significance: 0.05,
		Email:        true,
	}
}

// DefaultCorrelation returns the correlation defaults.
func DefaultCorrelation() Parameters {
	return Parameters{
		Method:    MethodOtsu,
		Intersect: true,
		Aggregate: true,
		Email:     true,
	}
}

// Selectors returns the non-empty channel selectors in order.
func (p Parameters) Selectors() []string {
	out := []string{p.Channel1, p.Channel2}
	if p.Channel3 != "" {
		out = append(out, p.Channel3)
	}
	return out
}

// Summary returns the "Label : value" lines describing p under schema s,
// with labels padded to a common width.
func (p Parameters) Summary(s Schema) []string {
	type kv struct{ k, v string }
	var rows []kv
	if s.Channels {
		rows = append(rows,
			kv{"Channel 1", p.Channel1},
			kv{"Channel 2", p.Channel2},
			kv{"Channel 3", p.Channel3},
		)
	}
	rows = append(rows, kv{"Method", string(p.Method)})
	if s.Displacement {
		rows = append(rows,
			kv{"Permutations", strconv.Itoa(p.Permutations)},
			kv{"Minimum shift", strconv.Itoa(p.MinShift)},
			kv{"Maximum shift", strconv.Itoa(p.MaxShift)},
			kv{"Significance", strconv.FormatFloat(p.Significance, 'g', -1, 64)},
		)
	} else {
		rows = append(rows,
			kv{"Intersect", strconv.FormatBool(p.Intersect)},
			kv{"Aggregate z-stack", strconv.FormatBool(p.Aggregate)},
		)
	}

	width := 0
	for _, r := range rows {
		width = max(width, len(r.k))
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = fmt.Sprintf("%-*s : %s", width, r.k, r.v)
	}
	return out
}

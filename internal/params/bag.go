package params

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Bag keys, as supplied by an operator form or a parameters file.
const (
	KeyDataType     = "Data_Type"
	KeyIDs          = "IDs"
	KeyChannel1     = "Channel 1"
	KeyChannel2     = "Channel 2"
	KeyChannel3     = "Channel 3"
	KeyMethod       = "Method"
	KeyPermutations = "Permutations"
	KeyMinShift     = "Minimum shift"
	KeyMaxShift     = "Maximum shift"
	KeySignificance = "Significance"
	KeyIntersect    = "Intersect"
	KeyAggregate    = "Aggregate z-stack"
	KeyUpload       = "Upload results"
	KeyEmailResults = "Email results"
	KeyEmail        = "Email"
)

// Bag is the string-keyed, already-typed value set collected from the operator.
type Bag map[string]any

// LoadBag reads a YAML parameters file.
func LoadBag(path string) (Bag, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read parameters file: %w", err)
	}
	bag := Bag{}
	if err := yaml.Unmarshal(data, &bag); err != nil {
		return nil, fmt.Errorf("parse parameters file %s: %w", path, err)
	}
	return bag, nil
}

// FromBag overlays the values present in bag onto defaults. A value of the
// wrong type is an error; range and consistency checks are left to Validate.
func FromBag(bag Bag, defaults Parameters) (Parameters, error) {
	p := defaults
	var err error
	str := func(key string, dst *string) {
		if err != nil {
			return
		}
		if v, ok := bag[key]; ok {
			*dst, err = asString(key, v)
		}
	}
	num := func(key string, dst *int) {
		if err != nil {
			return
		}
		if v, ok := bag[key]; ok {
			*dst, err = asInt(key, v)
		}
	}
	flag := func(key string, dst *bool) {
		if err != nil {
			return
		}
		if v, ok := bag[key]; ok {
			*dst, err = asBool(key, v)
		}
	}

	var method string
	str(KeyMethod, &method)
	if method != "" {
		p.Method = Method(method)
	}
	str(KeyChannel1, &p.Channel1)
	str(KeyChannel2, &p.Channel2)
	str(KeyChannel3, &p.Channel3)
	num(KeyPermutations, &p.Permutations)
	num(KeyMinShift, &p.MinShift)
	num(KeyMaxShift, &p.MaxShift)
	flag(KeyIntersect, &p.Intersect)
	flag(KeyAggregate, &p.Aggregate)
	flag(KeyUpload, &p.Upload)
	flag(KeyEmailResults, &p.Email)
	str(KeyEmail, &p.Recipient)
	if err == nil {
		if v, ok := bag[KeySignificance]; ok {
			p.Significance, err = asFloat(KeySignificance, v)
		}
	}
	if err != nil {
		return Parameters{}, err
	}
	return p, nil
}

// SelectionFromBag reads the data type and id list. The data type defaults to Image.
func SelectionFromBag(bag Bag) (Selection, error) {
	sel := Selection{Type: DataTypeImage}
	if v, ok := bag[KeyDataType]; ok {
		s, err := asString(KeyDataType, v)
		if err != nil {
			return Selection{}, err
		}
		switch DataType(s) {
		case DataTypeImage, DataTypeDataset:
			sel.Type = DataType(s)
		default:
			return Selection{}, fmt.Errorf("%s: unknown data type %q", KeyDataType, s)
		}
	}
	raw, ok := bag[KeyIDs]
	if !ok {
		return sel, nil
	}
	switch ids := raw.(type) {
	case []any:
		for _, v := range ids {
			n, err := asInt(KeyIDs, v)
			if err != nil {
				return Selection{}, err
			}
			sel.IDs = append(sel.IDs, int64(n))
		}
	case []int64:
		sel.IDs = append(sel.IDs, ids...)
	default:
		n, err := asInt(KeyIDs, raw)
		if err != nil {
			return Selection{}, err
		}
		sel.IDs = []int64{int64(n)}
	}
	return sel, nil
}

func asString(key string, v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case int:
		// numeric channel selectors arrive untyped from YAML
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	default:
		return "", fmt.Errorf("%s: expected text, got %T", key, v)
	}
}

func asInt(key string, v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if t != float64(int(t)) {
			return 0, fmt.Errorf("%s: expected an integer, got %g", key, t)
		}
		return int(t), nil
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s: expected an integer, got %T", key, v)
	}
}

func asFloat(key string, v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%s: expected a number, got %T", key, v)
	}
}

func asBool(key string, v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return false, fmt.Errorf("%s: %w", key, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("%s: expected true or false, got %T", key, v)
	}
}

package params

import "fmt"

// Method is an ImageJ auto-threshold method name.
type Method string

const (
	MethodLi           Method = "Li"
	MethodMaxEntropy   Method = "MaxEntropy"
	MethodMean         Method = "Mean"
	MethodMinError     Method = "MinError(I)"
	MethodMoments      Method = "Moments"
	MethodNone         Method = "None"
	MethodOtsu         Method = "Otsu"
	MethodPercentile   Method = "Percentile"
	MethodRenyiEntropy Method = "RenyiEntropy"
	MethodTriangle     Method = "Triangle"
	MethodYen          Method = "Yen"
)

var methods = []Method{
	MethodLi, MethodMaxEntropy, MethodMean, MethodMinError, MethodMoments, MethodNone,
	MethodOtsu, MethodPercentile, MethodRenyiEntropy, MethodTriangle, MethodYen,
}

// Methods lists the supported threshold methods in display order.
func Methods() []Method {
	out := make([]Method, len(methods))
	copy(out, methods)
	return out
}

// Valid reports whether m is one of the supported methods.
func (m Method) Valid() bool {
	for _, known := range methods {
		if m == known {
			return true
		}
	}
	return false
}

// ParseMethod returns the method named s.
func ParseMethod(s string) (Method, error) {
	m := Method(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown threshold method %q", s)
	}
	return m, nil
}

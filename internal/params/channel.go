package params

import (
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// ResolveChannel returns the zero-based index of the channel identified by
// selector, or -1. An exact name match wins over a 1-based positional index,
// which must be written in canonical decimal form ("2", not "02" or "+2").
// Names are compared after NFC normalisation.
func ResolveChannel(channels []string, selector string) int {
	if selector == "" {
		return -1
	}
	want := norm.NFC.String(selector)
	for i, name := range channels {
		if norm.NFC.String(name) == want {
			return i
		}
	}
	for i := range channels {
		if selector == strconv.Itoa(i+1) {
			return i
		}
	}
	return -1
}

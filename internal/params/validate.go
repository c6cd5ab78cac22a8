package params

import (
	"fmt"
	"regexp"
	"strings"

	"stackanalyser/internal/imagestore"
)

// Violation codes reported by Validate.
const (
	CodeEmptySelection = "empty_selection"
	CodeUnknownMethod  = "unknown_method"
	CodeMissingChannel = "missing_channel"
	CodeChannelMissing = "channel_not_found"
	CodeOutOfRange     = "out_of_range"
	CodeShiftBounds    = "shift_bounds"
	CodeNoDistribution = "no_distribution"
	CodeInvalidEmail   = "invalid_email"
)

// Violation is one failed precondition.
type Violation struct {
	Code    string
	Field   string
	ImageID int64
	Message string
}

func (v Violation) String() string {
	return v.Message
}

// ValidationError enumerates every violation found in a parameter set.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Message
	}
	return "invalid parameters: " + strings.Join(msgs, "; ")
}

// Has reports whether a violation with the given code was recorded.
func (e *ValidationError) Has(code string) bool {
	for _, v := range e.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%-]+@[a-zA-Z0-9._%-]+\.[a-zA-Z]{2,6}$`)

// ValidEmail applies a structural check to an address: local part, "@",
// and a domain ending in a 2-6 letter top-level segment.
func ValidEmail(addr string) bool {
	return emailPattern.MatchString(addr)
}

// Validate checks p against the resolved images and the variant schema. It
// returns a *ValidationError listing every violation, or nil.
func Validate(images []imagestore.ImageRef, p Parameters, s Schema) error {
	var vs []Violation
	add := func(code, field string, id int64, format string, args ...any) {
		vs = append(vs, Violation{Code: code, Field: field, ImageID: id, Message: fmt.Sprintf(format, args...)})
	}

	if len(images) == 0 {
		add(CodeEmptySelection, "IDs", 0, "no images selected")
	}
	if !p.Method.Valid() {
		add(CodeUnknownMethod, "Method", 0, "unknown threshold method %q", string(p.Method))
	}

	if s.Channels {
		required := map[string]string{"Channel 1": p.Channel1, "Channel 2": p.Channel2}
		for _, field := range []string{"Channel 1", "Channel 2"} {
			if required[field] == "" {
				add(CodeMissingChannel, field, 0, "%s is required", field)
			}
		}
		for _, img := range images {
			for _, sel := range p.Selectors() {
				if sel == "" {
					continue
				}
				if ResolveChannel(img.Channels, sel) < 0 {
					add(CodeChannelMissing, "Channel", img.ID, "image %d: %s does not have channel: %s", img.ID, img.Name, sel)
				}
			}
		}
	}

	if s.Displacement {
		check := func(field string, v float64, r Range) {
			if !r.contains(v) {
				add(CodeOutOfRange, field, 0, "%s (%g) is outside [%g, %g]", field, v, r.Min, r.Max)
			}
		}
		check("Permutations", float64(p.Permutations), s.Permutations)
		check("Minimum shift", float64(p.MinShift), s.MinShift)
		check("Maximum shift", float64(p.MaxShift), s.MaxShift)
		check("Significance", p.Significance, s.Significance)
		if p.MaxShift <= p.MinShift {
			add(CodeShiftBounds, "Maximum shift", 0, "maximum shift (%d) is not greater than minimum shift (%d)", p.MaxShift, p.MinShift)
		}
	}

	if !p.Upload && !p.Email {
		add(CodeNoDistribution, "Upload results", 0, "no results option selected")
	}
	if p.Email && !ValidEmail(p.Recipient) {
		add(CodeInvalidEmail, "Email", 0, "no valid email address")
	}

	if len(vs) == 0 {
		return nil
	}
	return &ValidationError{Violations: vs}
}

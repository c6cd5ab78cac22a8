// Package analysis runs a batch analysis over remote images: export, macro
// generation, the ImageJ run, result extraction and distribution.
package analysis

import (
	"fmt"
	"strconv"
	"strings"

	"stackanalyser/internal/extract"
	"stackanalyser/internal/imagestore"
	"stackanalyser/internal/params"
)

// Variant is the analysis-specific part of a run.
type Variant interface {
	// Name is the display name, e.g. "Correlation".
	Name() string
	// Key is the lower case identifier used in commands, file names and metrics.
	Key() string
	Namespace() string
	// ScriptName is the base name of the macro and capture files.
	ScriptName() string
	Schema() params.Schema
	Defaults() params.Parameters
	Grammar() extract.Grammar
	// BuildCommand returns the macro block for one exported image.
	BuildCommand(img imagestore.ImageRef, path string, p params.Parameters) string
	// ResultName is the attachment suffix appended to "<image id>.".
	ResultName(p params.Parameters) string
	// ReportColumns are the report columns after the identifying prefix.
	ReportColumns() string
	// KeyMetric names the report column summarised per image.
	KeyMetric() string
}

// Lookup returns the variant with the given key.
func Lookup(key string) (Variant, bool) {
	for _, v := range Variants() {
		if v.Key() == strings.ToLower(key) {
			return v, true
		}
	}
	return nil, false
}

// Variants lists the available analyses.
func Variants() []Variant {
	return []Variant{Colocalisation{}, Correlation{}}
}

const namespacePrefix = "gdsc.sussex.ac.uk/"

// Colocalisation measures Manders and Pearson colocalisation between two or
// three channels, with significance from random shifts.
type Colocalisation struct{}

func (Colocalisation) Name() string                { return "Colocalisation" }
func (Colocalisation) Key() string                 { return "colocalisation" }
func (Colocalisation) Namespace() string           { return namespacePrefix + "colocalisation" }
func (Colocalisation) ScriptName() string          { return "colocalisation" }
func (Colocalisation) Schema() params.Schema       { return params.ColocalisationSchema() }
func (Colocalisation) Defaults() params.Parameters { return params.DefaultColocalisation() }
func (Colocalisation) Grammar() extract.Grammar    { return extract.RowKeyed{} }
func (Colocalisation) KeyMetric() string           { return "R" }

func (Colocalisation) ReportColumns() string {
	return "p,Method,Frame,Ch1,Ch2,Ch3,n,Area,M1,Sig,M2,Sig,R,Sig"
}

func (Colocalisation) BuildCommand(img imagestore.ImageRef, path string, p params.Parameters) string {
	c1 := params.ResolveChannel(img.Channels, p.Channel1)
	c2 := params.ResolveChannel(img.Channels, p.Channel2)
	c3 := "[None]"
	if p.Channel3 != "" {
		if idx := params.ResolveChannel(img.Channels, p.Channel3); idx >= 0 {
			c3 = strconv.Itoa(idx + 1)
		}
	}
	args := fmt.Sprintf("log_results method=%s permutations=%d minimum_shift=%d maximum_shift=%d significance=%s channel_1=%d channel_2=%d channel_3=%s",
		p.Method, p.Permutations, p.MinShift, p.MaxShift,
		strconv.FormatFloat(p.Significance, 'g', -1, 64), c1+1, c2+1, c3)
	return macroBlock("colocalisation", "Stack Colocalisation Analyser", img, path, args)
}

func (Colocalisation) ResultName(p params.Parameters) string {
	name := []string{"Colocalisation", string(p.Method), "Ch" + p.Channel1, "Ch" + p.Channel2}
	if p.Channel3 != "" {
		name = append(name, "Ch"+p.Channel3)
	}
	return strings.Join(name, "_") + ".csv"
}

// Correlation measures the per-frame correlation of every channel pair.
type Correlation struct{}

func (Correlation) Name() string                { return "Correlation" }
func (Correlation) Key() string                 { return "correlation" }
func (Correlation) Namespace() string           { return namespacePrefix + "correlation" }
func (Correlation) ScriptName() string          { return "correlate" }
func (Correlation) Schema() params.Schema       { return params.CorrelationSchema() }
func (Correlation) Defaults() params.Parameters { return params.DefaultCorrelation() }
func (Correlation) Grammar() extract.Grammar    { return extract.LabelKeyed{} }
func (Correlation) KeyMetric() string           { return "Correlation" }

func (Correlation) ReportColumns() string {
	return "Frame,Channel A,Channel B,No of pixels,Overlap,Correlation"
}

func (Correlation) BuildCommand(img imagestore.ImageRef, path string, p params.Parameters) string {
	args := []string{"method=" + string(p.Method)}
	if p.Intersect {
		args = append(args, "intersect")
	}
	if p.Aggregate {
		args = append(args, "aggregate")
	}
	return macroBlock("correlation", "Stack Correlation Analyser", img, path, strings.Join(args, " "))
}

func (Correlation) ResultName(p params.Parameters) string {
	name := []string{"Correlation", string(p.Method)}
	if p.Intersect {
		name = append(name, "Intersect")
	}
	if p.Aggregate {
		name = append(name, "Aggregate")
	}
	return strings.Join(name, "_") + ".csv"
}

// macroBlock opens the file, restores the xyzct hyperstack order from the
// known dimensions, runs the plugin and closes the image.
func macroBlock(kind, plugin string, img imagestore.ImageRef, path, args string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "// Stack %s analyser macro\n", kind)
	fmt.Fprintf(&sb, "open(%s);\n", quote(path))
	fmt.Fprintf(&sb, "run(\"Stack to Hyperstack...\", \"order=xyzct channels=%d slices=%d frames=%d\");\n",
		max(img.SizeC, 1), max(img.SizeZ, 1), max(img.SizeT, 1))
	fmt.Fprintf(&sb, "run(%s, %s);\n", quote(plugin), quote(args))
	sb.WriteString("close();\n")
	return sb.String()
}

var macroEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// quote renders s as an ImageJ macro string literal.
func quote(s string) string {
	return `"` + macroEscaper.Replace(s) + `"`
}

package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"stackanalyser/internal/imagestore"
	"stackanalyser/internal/params"
)

func TestCorrelationMacroBlock(t *testing.T) {
	img := imagestore.ImageRef{ID: 7, SizeC: 3, SizeZ: 5, SizeT: 2}
	got := Correlation{}.BuildCommand(img, "/tmp/ws/7.ome.tif", params.DefaultCorrelation())
	want := "// Stack correlation analyser macro\n" +
		"open(\"/tmp/ws/7.ome.tif\");\n" +
		"run(\"Stack to Hyperstack...\", \"order=xyzct channels=3 slices=5 frames=2\");\n" +
		"run(\"Stack Correlation Analyser\", \"method=Otsu intersect aggregate\");\n" +
		"close();\n"
	assert.Equal(t, want, got)
}

func TestColocalisationThirdChannel(t *testing.T) {
	img := imagestore.ImageRef{ID: 1, SizeC: 3, SizeZ: 1, SizeT: 1, Channels: []string{"DAPI", "GFP", "RFP"}}
	p := params.DefaultColocalisation()
	p.Channel3 = "RFP"
	assert.Contains(t, Colocalisation{}.BuildCommand(img, "x", p), "channel_1=1 channel_2=2 channel_3=3")

	p.Channel3 = ""
	assert.Contains(t, Colocalisation{}.BuildCommand(img, "x", p), "channel_3=[None]")
}

func TestResultNames(t *testing.T) {
	p := params.DefaultColocalisation()
	assert.Equal(t, "Colocalisation_Otsu_Ch1_Ch2.csv", Colocalisation{}.ResultName(p))
	p.Channel3 = "3"
	assert.Equal(t, "Colocalisation_Otsu_Ch1_Ch2_Ch3.csv", Colocalisation{}.ResultName(p))

	c := params.DefaultCorrelation()
	assert.Equal(t, "Correlation_Otsu_Intersect_Aggregate.csv", Correlation{}.ResultName(c))
	c.Intersect = false
	assert.Equal(t, "Correlation_Otsu_Aggregate.csv", Correlation{}.ResultName(c))
}

func TestQuoteEscapes(t *testing.T) {
	assert.Equal(t, `"C:\\data\\\"x\".tif"`, quote(`C:\data\"x".tif`))
}

func TestLookup(t *testing.T) {
	v, ok := Lookup("Correlation")
	assert.True(t, ok)
	assert.Equal(t, "correlate", v.ScriptName())
	_, ok = Lookup("segmentation")
	assert.False(t, ok)
}

package params

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackanalyser/internal/imagestore"
)

func testImages() []imagestore.ImageRef {
	return []imagestore.ImageRef{
		{ID: 1, Name: "a.tif", Channels: []string{"DAPI", "GFP", "RFP"}, SizeC: 3},
		{ID: 2, Name: "b.tif", Channels: []string{"DAPI", "GFP", "RFP"}, SizeC: 3},
	}
}

func validColocalisation() Parameters {
	p := DefaultColocalisation()
	p.Channel1 = "DAPI"
	p.Channel2 = "GFP"
	p.Recipient = "someone@example.org"
	return p
}

func TestResolveChannel(t *testing.T) {
	channels := []string{"DAPI", "GFP", "RFP"}
	assert.Equal(t, 1, ResolveChannel(channels, "GFP"))
	assert.Equal(t, 2, ResolveChannel(channels, "3"))
	assert.Equal(t, 0, ResolveChannel(channels, "1"))
	assert.Equal(t, -1, ResolveChannel(channels, "Cy5"))
	assert.Equal(t, -1, ResolveChannel(channels, "4"))
	assert.Equal(t, -1, ResolveChannel(channels, "0"))
	assert.Equal(t, -1, ResolveChannel(channels, ""))
}

func TestResolveChannelNamePrecedesIndex(t *testing.T) {
	// a channel literally named "1" wins over the positional reading
	channels := []string{"2", "1"}
	assert.Equal(t, 1, ResolveChannel(channels, "1"))
	assert.Equal(t, 0, ResolveChannel(channels, "2"))
}

func TestResolveChannelIndexMustBeCanonical(t *testing.T) {
	channels := []string{"DAPI", "GFP", "RFP"}
	for _, sel := range []string{"+2", "02", " 2", "2.0"} {
		assert.Equal(t, -1, ResolveChannel(channels, sel), sel)
	}
	assert.Equal(t, 1, ResolveChannel(channels, "2"))
}

func TestResolveChannelNormalisesNames(t *testing.T) {
	decomposed := "Cye\u0301"
	composed := "Cy\u00e9"
	assert.Equal(t, 0, ResolveChannel([]string{decomposed}, composed))
}

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, Validate(testImages(), validColocalisation(), ColocalisationSchema()))

	corr := DefaultCorrelation()
	corr.Recipient = "someone@example.org"
	require.NoError(t, Validate(testImages(), corr, CorrelationSchema()))
}

func TestValidateRejectsSingleViolation(t *testing.T) {
	cases := []struct {
		name   string
		images []imagestore.ImageRef
		mutate func(*Parameters)
		code   string
	}{
		{"empty selection", nil, func(*Parameters) {}, CodeEmptySelection},
		{"unknown method", testImages(), func(p *Parameters) { p.Method = "Bogus" }, CodeUnknownMethod},
		{"missing channel", testImages(), func(p *Parameters) { p.Channel2 = "" }, CodeMissingChannel},
		{"unresolved channel", testImages(), func(p *Parameters) { p.Channel3 = "Cy5" }, CodeChannelMissing},
		{"permutations", testImages(), func(p *Parameters) { p.Permutations = 0 }, CodeOutOfRange},
		{"significance", testImages(), func(p *Parameters) { p.Significance = 1.5 }, CodeOutOfRange},
		{"shift bounds", testImages(), func(p *Parameters) { p.MinShift = 16; p.MaxShift = 16 }, CodeShiftBounds},
		{"no distribution", testImages(), func(p *Parameters) { p.Upload = false; p.Email = false }, CodeNoDistribution},
		{"bad email", testImages(), func(p *Parameters) { p.Recipient = "not-an-address" }, CodeInvalidEmail},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validColocalisation()
			tc.mutate(&p)
			err := Validate(tc.images, p, ColocalisationSchema())
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.True(t, verr.Has(tc.code), "expected %s in %v", tc.code, verr.Violations)
		})
	}
}

func TestValidateCollectsEveryViolation(t *testing.T) {
	p := validColocalisation()
	p.Channel1 = "Cy5"
	p.MaxShift = 3
	p.Upload = false
	p.Email = false

	err := Validate(testImages(), p, ColocalisationSchema())
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	// Cy5 is reported once per image
	assert.Len(t, verr.Violations, 4)
	assert.Equal(t, int64(1), verr.Violations[0].ImageID)
	assert.Equal(t, int64(2), verr.Violations[1].ImageID)
	assert.True(t, verr.Has(CodeShiftBounds))
	assert.True(t, verr.Has(CodeNoDistribution))
	assert.Contains(t, verr.Error(), "does not have channel: Cy5")
}

func TestValidateUploadOnlyNeedsNoAddress(t *testing.T) {
	p := validColocalisation()
	p.Upload = true
	p.Email = false
	p.Recipient = ""
	assert.NoError(t, Validate(testImages(), p, ColocalisationSchema()))
}

func TestValidEmail(t *testing.T) {
	assert.True(t, ValidEmail("a.b-c@lab.example.ac.uk"))
	assert.False(t, ValidEmail("a@b"))
	assert.False(t, ValidEmail("a@b.toolongtld"))
	assert.False(t, ValidEmail(""))
}

func TestFromBagOverlaysDefaults(t *testing.T) {
	bag := Bag{
		KeyMethod:       "Yen",
		KeyChannel1:     2,
		KeyChannel2:     "GFP",
		KeyPermutations: 50,
		KeySignificance: 0.01,
		KeyUpload:       true,
		KeyEmailResults: false,
	}
	p, err := FromBag(bag, DefaultColocalisation())
	require.NoError(t, err)
	assert.Equal(t, MethodYen, p.Method)
	assert.Equal(t, "2", p.Channel1)
	assert.Equal(t, "GFP", p.Channel2)
	assert.Equal(t, 50, p.Permutations)
	assert.Equal(t, 9, p.MinShift)
	assert.Equal(t, 0.01, p.Significance)
	assert.True(t, p.Upload)
	assert.False(t, p.Email)
}

func TestFromBagRejectsWrongType(t *testing.T) {
	_, err := FromBag(Bag{KeyPermutations: true}, DefaultColocalisation())
	require.Error(t, err)
	assert.Contains(t, err.Error(), KeyPermutations)
}

func TestLoadBagAndSelection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	content := "Data_Type: Dataset\nIDs: [3, 4]\nMethod: Li\nIntersect: false\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	bag, err := LoadBag(path)
	require.NoError(t, err)

	sel, err := SelectionFromBag(bag)
	require.NoError(t, err)
	assert.Equal(t, DataTypeDataset, sel.Type)
	assert.Equal(t, []int64{3, 4}, sel.IDs)

	p, err := FromBag(bag, DefaultCorrelation())
	require.NoError(t, err)
	assert.Equal(t, MethodLi, p.Method)
	assert.False(t, p.Intersect)
	assert.True(t, p.Aggregate)
}

func TestSelectionFromBagRejectsUnknownType(t *testing.T) {
	_, err := SelectionFromBag(Bag{KeyDataType: "Project"})
	assert.Error(t, err)
}

func TestSummaryAlignsLabels(t *testing.T) {
	lines := DefaultCorrelation().Summary(CorrelationSchema())
	assert.Equal(t, []string{
		"Method            : Otsu",
		"Intersect         : true",
		"Aggregate z-stack : true",
	}, lines)

	coloc := DefaultColocalisation().Summary(ColocalisationSchema())
	require.Len(t, coloc, 8)
	assert.Equal(t, "Significance  : 0.05", coloc[7])
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("MinError(I)")
	require.NoError(t, err)
	assert.Equal(t, MethodMinError, m)

	_, err = ParseMethod("otsu")
	assert.Error(t, err)
	assert.Len(t, Methods(), 11)
}

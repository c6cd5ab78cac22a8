package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordRun(t *testing.T) {
	before := testutil.ToFloat64(runsTotal.WithLabelValues("correlation", "completed"))
	RecordRun("correlation", "completed", 2*time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(runsTotal.WithLabelValues("correlation", "completed")))
}

func TestRecordExport(t *testing.T) {
	okBefore := testutil.ToFloat64(imagesExported.WithLabelValues("ok"))
	bytesBefore := testutil.ToFloat64(exportBytes)
	RecordExport(true, 2048)
	RecordExport(false, 0)
	assert.Equal(t, okBefore+1, testutil.ToFloat64(imagesExported.WithLabelValues("ok")))
	assert.Equal(t, bytesBefore+2048, testutil.ToFloat64(exportBytes))
}

func TestRecordDistribution(t *testing.T) {
	before := testutil.ToFloat64(distributions.WithLabelValues("email", "failed"))
	RecordDistribution("email", false)
	assert.Equal(t, before+1, testutil.ToFloat64(distributions.WithLabelValues("email", "failed")))
}

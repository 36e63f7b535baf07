package metrics

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordArchiveLoad(t *testing.T) {
	rejected := testutil.ToFloat64(archiveLoadsTotal.WithLabelValues(ResultRejected))
	ok := testutil.ToFloat64(archiveLoadsTotal.WithLabelValues(ResultOK))

	RecordArchiveLoad(ResultRejected, 0)
	RecordArchiveLoad(ResultOK, 12)

	assert.InDelta(t, rejected+1, testutil.ToFloat64(archiveLoadsTotal.WithLabelValues(ResultRejected)), 0)
	assert.InDelta(t, ok+1, testutil.ToFloat64(archiveLoadsTotal.WithLabelValues(ResultOK)), 0)
}

func TestRecordCounters(t *testing.T) {
	avoided := testutil.ToFloat64(writesAvoidedTotal)
	decompressed := testutil.ToFloat64(bytesDecompressed)
	invalidations := testutil.ToFloat64(managerInvalidationsTotal)
	loadErrors := testutil.ToFloat64(managerLoadsTotal.WithLabelValues("error"))

	RecordWriteAvoided()
	RecordDecompressed(1024)
	RecordManagerInvalidation()
	RecordManagerLoad(false)

	assert.InDelta(t, avoided+1, testutil.ToFloat64(writesAvoidedTotal), 0)
	assert.InDelta(t, decompressed+1024, testutil.ToFloat64(bytesDecompressed), 0)
	assert.InDelta(t, invalidations+1, testutil.ToFloat64(managerInvalidationsTotal), 0)
	assert.InDelta(t, loadErrors+1, testutil.ToFloat64(managerLoadsTotal.WithLabelValues("error")), 0)
}

func TestWriteText(t *testing.T) {
	RecordContentLoad(true)
	RecordContentSave(true)

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf))

	out := buf.String()
	assert.Contains(t, out, "packfs_content_loads_total")
	assert.Contains(t, out, "packfs_content_saves_total")
	assert.Contains(t, out, "# TYPE packfs_writes_avoided_total counter")
}

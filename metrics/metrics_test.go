package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r.Prometheus())
	assert.NotNil(t, r.HTTPRequestsTotal)
	assert.NotNil(t, r.CanvasSavesTotal)
	assert.NotNil(t, r.CanvasLoadsTotal)
}

func TestRecordSave(t *testing.T) {
	r := NewRegistry()

	r.RecordSave(nil, 20*time.Millisecond, 3, 2)
	r.RecordSave(nil, 10*time.Millisecond, 4, 3)
	r.RecordSave(errors.New("boom"), 5*time.Millisecond, 9, 9)

	assert.Equal(t, float64(2), testutil.ToFloat64(r.CanvasSavesTotal.WithLabelValues(StatusSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.CanvasSavesTotal.WithLabelValues(StatusError)))
	assert.Equal(t, float64(4), testutil.ToFloat64(r.CanvasNodes))
	assert.Equal(t, float64(3), testutil.ToFloat64(r.CanvasEdges))
}

func TestRecordLoad(t *testing.T) {
	r := NewRegistry()

	r.RecordLoad(errors.New("offline"), 0, 0)
	r.RecordLoad(nil, 1, 0)

	assert.Equal(t, float64(1), testutil.ToFloat64(r.CanvasLoadsTotal.WithLabelValues(StatusError)))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.CanvasLoadsTotal.WithLabelValues(StatusSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.CanvasNodes))
}

func TestRecordHTTPRequest(t *testing.T) {
	r := NewRegistry()

	r.RecordHTTPRequest("GET", "/api/workflows/:id/canvas", "200", 100*time.Millisecond)
	r.RecordHTTPRequest("GET", "/api/workflows/:id/canvas", "200", 50*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(
		r.HTTPRequestsTotal.WithLabelValues("GET", "/api/workflows/:id/canvas", "200")))
}

func TestRecordStoreAndArchive(t *testing.T) {
	r := NewRegistry()

	r.RecordStoreOperation("save_canvas", nil)
	r.RecordStoreOperation("save_canvas", errors.New("tx"))
	r.RecordArchive(nil)

	assert.Equal(t, float64(1), testutil.ToFloat64(r.StoreOperationTotal.WithLabelValues("save_canvas", StatusError)))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.ArchiveTotal.WithLabelValues(StatusSuccess)))
}

func TestNilRegistry(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.RecordSave(nil, time.Second, 1, 1)
		r.RecordLoad(nil, 1, 1)
		r.RecordHTTPRequest("GET", "/", "200", time.Second)
		r.RecordStoreOperation("x", nil)
		r.RecordArchive(nil)
	})
}

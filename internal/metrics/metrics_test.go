package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CreatorScanner/internal/domain"
)

func TestCounters(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())
	m.Attempt(domain.PhaseDetail, false)
	m.Attempt(domain.PhaseDetail, true)
	m.Discovered("patreon", 3)
	m.Discovered("patreon", 0)
	m.MediaStored(false)
	m.MediaStored(true)
	m.MediaStored(true)
	m.SourceRun("patreon", 1.5, errors.New("boom"))

	assert.InDelta(t, 2, testutil.ToFloat64(m.Attempts.WithLabelValues("detail")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Failures.WithLabelValues("detail")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.ItemsDiscovered.WithLabelValues("patreon")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.MediaStores.WithLabelValues(OutcomeDeduplicated)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MediaStores.WithLabelValues(OutcomeStored)), 0)
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.Attempt(domain.PhaseDiscovery, true)
	m.Discovered("patreon", 1)
	m.MediaStored(true)
	m.SourceRun("patreon", 1, nil)
}

func TestHandlerExposesRegistry(t *testing.T) {
	t.Parallel()

	m := New(nil)
	m.MediaStored(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "creator_scanner_media_stores_total"))
}

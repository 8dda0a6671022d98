package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := New()
	r.IncAttempt("success")
	r.IncAttempt("success")
	r.IncMint("failed")
	r.IncTrigger("dropped_busy")
	r.AddAuthorizations(5)
	r.ObserveBlast(150 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.claimAttempts.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.mintOutcomes.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.triggers.WithLabelValues("dropped_busy")))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.authorizations))
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.IncAttempt("x")
		r.IncMint("x")
		r.IncTrigger("x")
		r.AddAuthorizations(1)
		r.ObserveBlast(time.Second)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.IncMint("success")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `b402_mint_submissions_total{result="success"} 1`))
}

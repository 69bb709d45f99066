package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"/":                                  "/",
		"/healthz":                           "/healthz",
		"/user/create":                       "/user/create",
		"/user/pubKey/04abcd":                "/user/pubKey/:pubKey",
		"/user/7f3a1c":                       "/user/:uuid",
		"/user/7f3a1c/nineum":                "/user/:uuid/nineum",
		"/user/7f3a1c/nineum/galactic":       "/user/:uuid/nineum/galactic",
		"/resolve/touch":                     "/resolve/:spellName",
		"/resolve/a-spell-with-a-long-name/": "/resolve/:spellName",
	}
	for raw, want := range cases {
		assert.Equal(t, want, canonicalPath(raw), "path %q", raw)
	}
}

func TestCountersAccumulate(t *testing.T) {
	mpBefore := promtest.ToFloat64(mpSpent)
	MPSpent(400)
	MPSpent(-10) // ignored
	assert.Equal(t, mpBefore+400, promtest.ToFloat64(mpSpent))

	mintedBefore := promtest.ToFloat64(nineumMinted)
	NineumMinted(3)
	NineumMinted(0) // ignored
	assert.Equal(t, mintedBefore+3, promtest.ToFloat64(nineumMinted))

	resolved := spellResolutions.WithLabelValues("touch", "success")
	before := promtest.ToFloat64(resolved)
	SpellResolved("touch", true)
	assert.Equal(t, before+1, promtest.ToFloat64(resolved))

	rejected := spellResolutions.WithLabelValues("unknown", "rejected")
	before = promtest.ToFloat64(rejected)
	SpellRejected("")
	assert.Equal(t, before+1, promtest.ToFloat64(rejected))
}

func TestInstrumentHandlerRecordsRequests(t *testing.T) {
	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	counter := httpRequests.WithLabelValues("GET", "/user/:uuid", "418")
	before := promtest.ToFloat64(counter)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/user/7f3a1c", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, before+1, promtest.ToFloat64(counter))
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	MPSpent(1)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fount_economy_mp_spent_total")
}

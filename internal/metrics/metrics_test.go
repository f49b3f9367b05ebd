package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetRelayStateIsExclusive(t *testing.T) {
	SetRelayState("streaming")
	for _, s := range relayStates {
		want := 0.0
		if s == "streaming" {
			want = 1
		}
		if got := testutil.ToFloat64(relayState.WithLabelValues(s)); got != want {
			t.Errorf("state %s = %v, want %v", s, got, want)
		}
	}

	SetRelayState("idle")
	if got := testutil.ToFloat64(relayState.WithLabelValues("streaming")); got != 0 {
		t.Errorf("streaming should be cleared, got %v", got)
	}
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(poolReallocations.WithLabelValues("test-pool"))
	IncPoolReallocation("test-pool")
	IncPoolReallocation("test-pool")
	if got := testutil.ToFloat64(poolReallocations.WithLabelValues("test-pool")); got != before+2 {
		t.Errorf("reallocations = %v, want %v", got, before+2)
	}

	relayed := testutil.ToFloat64(framesRelayed)
	IncFramesRelayed()
	if got := testutil.ToFloat64(framesRelayed); got != relayed+1 {
		t.Errorf("frames relayed = %v, want %v", got, relayed+1)
	}

	SetObservers(3)
	if got := testutil.ToFloat64(observers); got != 3 {
		t.Errorf("observers = %v, want 3", got)
	}
}

func TestHandlerExposesNamespace(t *testing.T) {
	IncSinkDropped("queue_full")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `sinkcam_sink_samples_dropped_total{reason="queue_full"}`) {
		t.Error("scrape output missing sink drop counter")
	}
}

package miphkb

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getStatus(t *testing.T, p *Purifier) Status {
	t.Helper()
	srv := httptest.NewServer(p.StatusHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var s Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	return s
}

func TestStatusUnbound(t *testing.T) {
	p, err := New(testConfig(), noConnect(t))
	require.NoError(t, err)

	want := Status{Name: "Air Purifier", IP: "192.168.1.40"}
	if diff := cmp.Diff(want, getStatus(t, p)); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestStatusBound(t *testing.T) {
	d := &stubDevice{}
	d.On("Model").Return("zhimi.airpurifier.m1")
	p := boundPurifier(t, testConfig(), d, ModeAuto)
	p.updateAirQuality(12)

	aqi := 12.0
	want := Status{
		Name:  "Air Purifier",
		IP:    "192.168.1.40",
		Bound: true,
		Model: "zhimi.airpurifier.m1",
		Mode:  ModeAuto,
		AQI:   &aqi,
	}
	if diff := cmp.Diff(want, getStatus(t, p)); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestStatusRoot(t *testing.T) {
	p, err := New(testConfig(), noConnect(t))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	p.StatusHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "HomeKit Bridge")
}

package app

import (
	"net/http"
	"testing"
)

func TestHealthEndpointsNeedNoAuth(t *testing.T) {
	server := newTestServer(&fakeStore{})

	rr := doJSON(t, server, http.MethodGet, "/api/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if envelopeData(t, rr)["ok"] != true {
		t.Fatalf("expected ok=true, got %s", rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodGet, "/api/ready", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestOptionsShortCircuitsWithCORSHeaders(t *testing.T) {
	server := newTestServer(&fakeStore{})

	rr := doJSON(t, server, http.MethodOptions, "/api/tasks", "", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected CORS origin header, got %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	server := newTestServer(&fakeStore{})

	rr := doJSON(t, server, http.MethodGet, "/api/nope", issueTestToken(t, "usr_1"), "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d body=%s", rr.Code, rr.Body.String())
	}
}

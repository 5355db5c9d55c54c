package connection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewHTTPClient_BaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"127.0.0.1:8899", "http://127.0.0.1:8899"},
		{"http://node:8899/", "http://node:8899"},
		{"https://node", "https://node"},
	}
	for _, tt := range tests {
		if got := NewHTTPClient(tt.in).BaseURL(); got != tt.want {
			t.Errorf("NewHTTPClient(%q).BaseURL() = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHTTPClient_GetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "ledgersnap-cli" {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		switch r.URL.Path {
		case "/status":
			json.NewEncoder(w).Encode(map[string]any{"root_slot": 42})
		case "/ready":
			w.Header().Set("X-Error-Code", "LS-SYS-5030")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"code": "LS-SYS-5030", "message": "not ready", "status": "503"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	ctx := context.Background()

	var st struct {
		RootSlot uint64 `json:"root_slot"`
	}
	if err := c.GetJSON(ctx, "/status", &st); err != nil {
		t.Fatalf("GetJSON(/status): %v", err)
	}
	if st.RootSlot != 42 {
		t.Errorf("root_slot = %d, want 42", st.RootSlot)
	}

	err := c.GetJSON(ctx, "/ready", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("GetJSON(/ready) = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusServiceUnavailable || apiErr.Code != "LS-SYS-5030" {
		t.Errorf("APIError = %+v", apiErr)
	}
	if apiErr.Error() != "[LS-SYS-5030] not ready" {
		t.Errorf("Error() = %q", apiErr.Error())
	}

	err = c.GetJSON(ctx, "/missing", nil)
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound || apiErr.Message != "Not Found" {
		t.Errorf("GetJSON(/missing) = %v", err)
	}
}

func TestHTTPClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	if err := NewHTTPClient(addr).GetJSON(context.Background(), "/health", nil); err == nil {
		t.Error("GetJSON against a closed server should fail")
	}
}

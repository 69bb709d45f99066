package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPProviderSpend(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode charge: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"approved":true}`))
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(srv.Client(), srv.URL, "secret-key", nil)
	if err != nil {
		t.Fatalf("build provider: %v", err)
	}

	approved, err := p.Spend(context.Background(), "caster-1", 250)
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	if !approved {
		t.Fatalf("expected approved charge")
	}
	if gotAuth != "Bearer secret-key" {
		t.Fatalf("api key should be sent as bearer auth, got %q", gotAuth)
	}
	if gotBody["uuid"] != "caster-1" || gotBody["amount"] != float64(250) {
		t.Fatalf("unexpected charge body %v", gotBody)
	}
}

func TestHTTPProviderDeclinedIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"approved":false,"reason":"insufficient funds"}`))
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(srv.Client(), srv.URL, "", nil)
	if err != nil {
		t.Fatalf("build provider: %v", err)
	}

	approved, err := p.Spend(context.Background(), "caster-1", 250)
	if err != nil {
		t.Fatalf("a declined charge is a result, not an error: %v", err)
	}
	if approved {
		t.Fatalf("expected declined charge")
	}
}

func TestHTTPProviderProcessorFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(srv.Client(), srv.URL, "", nil)
	if err != nil {
		t.Fatalf("build provider: %v", err)
	}

	if _, err := p.Spend(context.Background(), "caster-1", 250); err == nil {
		t.Fatalf("processor failure should surface as an error")
	}
}

func TestNewHTTPProviderRequiresEndpoint(t *testing.T) {
	if _, err := NewHTTPProvider(nil, "  ", "", nil); err == nil {
		t.Fatalf("blank endpoint should be rejected")
	}
}

func TestDisabledDeclinesEverything(t *testing.T) {
	approved, err := Disabled{}.Spend(context.Background(), "caster-1", 1)
	if err != nil || approved {
		t.Fatalf("disabled provider declines silently, got approved=%v err=%v", approved, err)
	}
}

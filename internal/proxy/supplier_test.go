package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/vaultbot/ingest/internal/utils"
)

func testConfig(endpoints ...Endpoint) Config {
	return Config{
		Enabled:   true,
		Endpoints: endpoints,
		Timeout:   2 * time.Second,
	}
}

func TestCurrentUnconfigured(t *testing.T) {
	s := NewSupplier(Config{}, utils.NopLogger{})
	if s.Configured() {
		t.Fatal("empty config must not report configured")
	}
	if s.Current() != nil {
		t.Fatal("Current must return nil without endpoints")
	}
}

func TestCurrentIncludesCredentials(t *testing.T) {
	cfg := testConfig(Endpoint{Name: "pool-a", Host: "proxy.example.net", Port: 8080, Username: "u", Password: "p"})
	s := NewSupplier(cfg, utils.NopLogger{})

	got := s.Current()
	if got == nil {
		t.Fatal("expected proxy URL")
	}
	want := "http://u:p@proxy.example.net:8080"
	if got.String() != want {
		t.Fatalf("Current() = %s, want %s", got, want)
	}
}

func TestRotateAdvancesEndpoint(t *testing.T) {
	cfg := testConfig(
		Endpoint{Name: "a", Host: "a.example.net", Port: 1},
		Endpoint{Name: "b", Host: "b.example.net", Port: 2},
	)
	s := NewSupplier(cfg, utils.NopLogger{})

	first := s.Current().Host
	s.Rotate()
	second := s.Current().Host
	if first == second {
		t.Fatalf("Rotate did not change endpoint: %s", second)
	}
	s.Rotate()
	if s.Current().Host != first {
		t.Fatalf("Rotate should wrap around to %s, got %s", first, s.Current().Host)
	}
}

func TestForPlatformBypass(t *testing.T) {
	cfg := testConfig(Endpoint{Name: "a", Host: "a.example.net", Port: 1})
	cfg.BypassPlatforms = []string{"youtube"}
	s := NewSupplier(cfg, utils.NopLogger{})

	if s.ForPlatform("YouTube") != nil {
		t.Fatal("bypassed platform must get no proxy")
	}
	if s.ForPlatform("tiktok") == nil {
		t.Fatal("non-bypassed platform should get the pool proxy")
	}
}

func TestHealthCheckDowngradesOnFailure(t *testing.T) {
	// Proxy endpoint that refuses everything.
	probe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer probe.Close()

	u, _ := url.Parse(probe.URL)
	port := 80
	if p := u.Port(); p != "" {
		// httptest binds an ephemeral port.
		port = atoiOr(p, 80)
	}

	cfg := testConfig(Endpoint{Name: "bad", Host: u.Hostname(), Port: port})
	cfg.HealthCheckURL = probe.URL
	s := NewSupplier(cfg, utils.NopLogger{})

	if ok := s.HealthCheck(context.Background()); ok {
		t.Fatal("health check against 502 endpoint must fail")
	}
	if s.Healthy() {
		t.Fatal("failed probe must downgrade Healthy()")
	}
}

func atoiOr(s string, fallback int) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
	}
	return n
}

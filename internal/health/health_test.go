package health

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/mbd888/sentinel/internal/httpclient"
	"github.com/mbd888/sentinel/internal/retry"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("api", func(_ context.Context) Status {
		return Status{Name: "api", Healthy: true}
	})
	r.Register("mcp", func(_ context.Context) Status {
		return Status{Name: "mcp", Healthy: false, Detail: "connection refused"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("registry with unhealthy checker should report unhealthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[1].Detail != "connection refused" {
		t.Fatalf("expected detail 'connection refused', got %q", statuses[1].Detail)
	}
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	// Register concurrently
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register("checker", func(_ context.Context) Status {
				return Status{Name: "checker", Healthy: true}
			})
		}()
	}

	// Check concurrently
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}

	wg.Wait()
}

func newTestService(t *testing.T, baseURL string) *httpclient.Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := httpclient.New(httpclient.Config{
		Policy: retry.Policy{MaxRetries: 0, BaseDelay: 1, MaxDelay: 1},
	}, logger)
	svc, err := httpclient.NewService("api", baseURL, client)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return svc
}

func TestServiceChecker_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	check := ServiceChecker(newTestService(t, srv.URL))
	st := check(context.Background())
	if !st.Healthy {
		t.Fatalf("expected healthy, got %+v", st)
	}
	if st.Name != "api" {
		t.Fatalf("expected service name, got %q", st.Name)
	}
}

func TestServiceChecker_FailingEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	// A >= 400 health response comes back as a client error, not a response.
	check := ServiceChecker(newTestService(t, srv.URL))
	st := check(context.Background())
	if st.Healthy {
		t.Fatal("expected unhealthy for failing health endpoint")
	}
	if st.Detail == "" {
		t.Fatal("expected error detail")
	}
}

func TestServiceChecker_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	check := ServiceChecker(newTestService(t, srv.URL))
	st := check(context.Background())
	if st.Healthy {
		t.Fatal("expected unhealthy for unreachable service")
	}
	if st.Detail == "" {
		t.Fatal("expected error detail")
	}
}

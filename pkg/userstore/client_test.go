package userstore_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garnizeh/initiatives/internal/config"
	"github.com/garnizeh/initiatives/pkg/models"
	"github.com/garnizeh/initiatives/pkg/repository"
	"github.com/garnizeh/initiatives/pkg/userstore"
)

func newClient(t *testing.T, srv *httptest.Server, mutate ...func(*config.ClientConfig)) *userstore.Client {
	t.Helper()
	cfg := config.ClientConfig{BaseURL: srv.URL, Timeout: 2 * time.Second, Backoff: time.Millisecond}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := userstore.NewClient(cfg, srv.Client())
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_SignIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/auth/signin" {
			http.NotFound(w, r)
			return
		}
		var body struct{ Email, Password string }
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		if body.Email != "alice@example.com" || body.Password != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"error":"invalid credentials"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"token":"tok","user":{"id":7,"email":"alice@example.com","points":120,"participatedInitiatives":[{"initiativeId":2,"pointsEarned":20}]}}`))
	}))
	defer srv.Close()
	c := newClient(t, srv)

	id, err := c.SignIn(context.Background(), "alice@example.com", "s3cret")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if id.Token != "tok" || id.User.ID != 7 || id.User.Points != 120 {
		t.Fatalf("unexpected identity: %+v %+v", id, id.User)
	}
	if len(id.User.ParticipatedInitiatives) != 1 || id.User.ParticipatedInitiatives[0].InitiativeID != 2 {
		t.Fatalf("participations not decoded: %+v", id.User.ParticipatedInitiatives)
	}

	_, err = c.SignIn(context.Background(), "alice@example.com", "wrong")
	if !errors.Is(err, repository.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", http.StatusNotFound, repository.ErrNotFound},
		{"conflict", http.StatusConflict, repository.ErrConflict},
		{"forbidden", http.StatusForbidden, repository.ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"success":false}`))
			}))
			defer srv.Close()
			c := newClient(t, srv)

			email := "x@example.com"
			_, err := c.UpdateUser(context.Background(), 1, "tok", models.UserPatch{Email: &email})
			if !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
		})
	}
}

func TestClient_UpdateUser_SendsBearerAndPatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/v1/users/3" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var patch map[string]any
		_ = json.NewDecoder(r.Body).Decode(&patch)
		if _, ok := patch["password"]; ok {
			t.Errorf("password should be omitted when nil: %v", patch)
		}
		_, _ = w.Write([]byte(`{"success":true,"user":{"id":3,"email":"new@example.com"}}`))
	}))
	defer srv.Close()
	c := newClient(t, srv)

	email := "new@example.com"
	u, err := c.UpdateUser(context.Background(), 3, "tok", models.UserPatch{Email: &email})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if u.Email != "new@example.com" {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestClient_GetUser_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"user":{"id":1,"email":"a@example.com"}}`))
	}))
	defer srv.Close()
	c := newClient(t, srv, func(cfg *config.ClientConfig) { cfg.Retries = 2 })

	u, err := c.GetUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Email != "a@example.com" || atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("unexpected result: %+v after %d calls", u, calls)
	}
}

func TestClient_CreateUser_NotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	c := newClient(t, srv, func(cfg *config.ClientConfig) { cfg.Retries = 3 })

	if err := c.CreateUser(context.Background(), "a@example.com", "pw"); err == nil {
		t.Fatalf("expected error")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("POST must not be retried, got %d calls", n)
	}
}

func TestClient_CircuitOpens(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()
	c := newClient(t, srv, func(cfg *config.ClientConfig) {
		cfg.CircuitFailureThreshold = 2
		cfg.CircuitReset = time.Minute
	})

	for i := 0; i < 2; i++ {
		_, _ = c.GetUser(context.Background(), 1)
	}
	_, err := c.GetUser(context.Background(), 1)
	if !errors.Is(err, userstore.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("open circuit should short-circuit requests, got %d calls", n)
	}
}

func TestClient_FetchCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/catalog.csv" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		_, _ = w.Write([]byte("company,initiative,challenge,solution,call to action,links\n" +
			"Virgin Atlantic,Clean Skies,Emissions,\"Fuel, efficiency\",Fly smart,\"https://a\nhttps://b\"\n" +
			"short,row\n"))
	}))
	defer srv.Close()
	c := newClient(t, srv)

	snap, err := c.FetchCatalog(context.Background())
	if err != nil {
		t.Fatalf("FetchCatalog: %v", err)
	}
	if snap.Len() != 1 || len(snap.Skipped) != 1 {
		t.Fatalf("unexpected snapshot: %d initiatives, %d skipped", snap.Len(), len(snap.Skipped))
	}
	in, ok := snap.Lookup(1)
	if !ok || in.Solution != "Fuel, efficiency" || len(in.Links) != 2 {
		t.Fatalf("unexpected initiative: %+v", in)
	}
}

func TestClient_Friends(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("email") != "a+b@example.com" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"users":[{"id":2,"email":"c@example.com","points":50}]}`))
	}))
	defer srv.Close()
	c := newClient(t, srv)

	users, err := c.Friends(context.Background(), "a+b@example.com")
	if err != nil {
		t.Fatalf("Friends: %v", err)
	}
	if len(users) != 1 || users[0].Points != 50 {
		t.Fatalf("unexpected users: %+v", users)
	}
}

func TestClient_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()
	c := newClient(t, srv, func(cfg *config.ClientConfig) { cfg.Timeout = 20 * time.Millisecond })

	if _, err := c.GetUser(context.Background(), 1); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestNewClient_BadURL(t *testing.T) {
	if _, err := userstore.NewClient(config.ClientConfig{BaseURL: "::bad"}, nil); err == nil {
		t.Fatalf("expected error for invalid base url")
	}
}

func TestClient_CloseIdempotent(t *testing.T) {
	c, err := userstore.NewClient(config.ClientConfig{BaseURL: "http://localhost:8080"}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

// TestDefaultLoggerUsesStderr runs a failing request in a child process that
// never calls SetLogger and checks where the retry warning lands.
func TestDefaultLoggerUsesStderr(t *testing.T) {
	if os.Getenv("USERSTORE_DEFAULT_LOGGER_CHILD") == "1" {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()
		c, err := userstore.NewClient(config.ClientConfig{BaseURL: srv.URL, Retries: 1, Backoff: time.Millisecond}, nil)
		if err != nil {
			t.Fatal(err)
		}
		defer c.Close()
		_, _ = c.GetUser(context.Background(), 1)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestDefaultLoggerUsesStderr$")
	cmd.Env = append(os.Environ(), "USERSTORE_DEFAULT_LOGGER_CHILD=1")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		t.Fatalf("child: %v\nstdout=%s\nstderr=%s", err, stdout.String(), stderr.String())
	}
	if strings.Contains(stdout.String(), "userstore: request failed") {
		t.Fatalf("log written to stdout: %s", stdout.String())
	}
	if !strings.Contains(stderr.String(), "userstore: request failed") {
		t.Fatalf("expected the retry warning on stderr, got %q", stderr.String())
	}
}

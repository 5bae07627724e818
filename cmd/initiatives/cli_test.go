package main

import (
	"bytes"
	"context"
	"io"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/garnizeh/initiatives/api"
	"github.com/garnizeh/initiatives/internal/catalog"
	"github.com/garnizeh/initiatives/internal/config"
	"github.com/garnizeh/initiatives/internal/db"
	"github.com/garnizeh/initiatives/internal/repository/sqlite"
	"github.com/garnizeh/initiatives/internal/session"
	"github.com/garnizeh/initiatives/pkg/models"
)

func quietLogger(t *testing.T) {
	t.Helper()
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	api.SetLogger(logger)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Addr:          ":0",
		JWTSecret:     "cli-test-secret",
		APITimeout:    5 * time.Second,
		DatabasePath:  filepath.Join(t.TempDir(), "initiatives.db"),
		TokenDuration: time.Hour,
		SeedPath:      seedEmbedded,
		LoginRate:     config.RateConfig{PerMinute: 600, Burst: 50},
		Client: config.ClientConfig{
			Timeout:    5 * time.Second,
			SessionDir: filepath.Join(t.TempDir(), "sessions"),
		},
	}
}

func TestCatalogCheck(t *testing.T) {
	quietLogger(t)
	path := filepath.Join(t.TempDir(), "catalog.csv")
	csv := "company,initiative,challenge,solution,call to action,links\n" +
		"Acme,Trees,Deforestation,Plant trees,Join,https://acme.example\n" +
		"Broken,row\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o600))

	var out bytes.Buffer
	require.NoError(t, runCatalogCheck(context.Background(), &out, path))
	require.Contains(t, out.String(), "1 initiatives from 1 companies, 1 rows skipped")
	require.Contains(t, out.String(), "line 3: too few fields (2 fields)")

	require.Error(t, runCatalogCheck(context.Background(), &out, filepath.Join(t.TempDir(), "missing.csv")))
}

func TestCatalogCheck_Embedded(t *testing.T) {
	quietLogger(t)
	var out bytes.Buffer
	require.NoError(t, runCatalogCheck(context.Background(), &out, ""))
	require.Contains(t, out.String(), "embedded:seed/initiatives.csv: 7 initiatives")
	require.Contains(t, out.String(), "0 rows skipped")
}

func TestDBInitBackupRestore(t *testing.T) {
	quietLogger(t)
	cfg := testConfig(t)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, runDBInit(ctx, &out, cfg))
	require.Contains(t, out.String(), "Seeded 3 users")

	out.Reset()
	require.NoError(t, runDBInit(ctx, &out, cfg))
	require.Contains(t, out.String(), "Seeded 0 users (3 already present")

	backup := cfg.DatabasePath + ".bak"
	require.NoError(t, copyFile(cfg.DatabasePath, backup))

	// wipe the live file and restore it
	require.NoError(t, os.WriteFile(cfg.DatabasePath, nil, 0o600))
	require.NoError(t, copyFile(backup, cfg.DatabasePath))

	conn, err := db.New(ctx, cfg.DatabasePath, logger)
	require.NoError(t, err)
	defer conn.Close()
	users, err := sqlite.New(conn, logger).ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)

	require.Error(t, copyFile(filepath.Join(t.TempDir(), "nope.db"), backup))
}

// startServer runs the real router over a seeded SQLite file.
func startServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, runDBInit(ctx, io.Discard, cfg))

	conn, err := db.New(ctx, cfg.DatabasePath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	repo := sqlite.New(conn, logger)

	store := newCatalogStore(cfg.Catalog, catalog.Hooks{})
	_, err = store.Reload(ctx)
	require.NoError(t, err)

	srv := httptest.NewServer(api.SetupRoutes(cfg, "test", "now", api.Deps{
		Users:          repo,
		Participations: repo,
		Catalog:        store,
		DB:             conn.GetConn(),
	}))
	t.Cleanup(srv.Close)
	cfg.Client.BaseURL = srv.URL
	return srv
}

func clientFor(t *testing.T, cfg *config.Config, tab string) (*clientEnv, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	env, err := newClientEnv(cfg.Client, tab, &out)
	require.NoError(t, err)
	t.Cleanup(func() { env.client.Close() })
	return env, &out
}

func TestClientFlow(t *testing.T) {
	quietLogger(t)
	cfg := testConfig(t)
	startServer(t, cfg)
	ctx := context.Background()

	c, out := clientFor(t, cfg, "tab1")

	require.NoError(t, c.whoami(ctx))
	require.Contains(t, out.String(), "Not signed in")

	require.Error(t, c.login(ctx, "richard@virgin.example", "wrong"))
	require.NoError(t, c.login(ctx, "richard@virgin.example", "changeme"))

	// a fresh process on the same tab restores the session from disk
	c2, out2 := clientFor(t, cfg, "tab1")
	require.NoError(t, c2.whoami(ctx))
	require.Contains(t, out2.String(), "richard@virgin.example (user 1)")

	// another tab is independent
	other, otherOut := clientFor(t, cfg, "tab2")
	require.NoError(t, other.whoami(ctx))
	require.Contains(t, otherOut.String(), "Not signed in")
	require.ErrorIs(t, other.dashboard(ctx, false), session.ErrNotSignedIn)

	out2.Reset()
	require.NoError(t, c2.dashboard(ctx, false))
	dash := out2.String()
	require.Contains(t, dash, "richard@virgin.example: 320 points (environmental 112, social 128, innovation 80)")
	require.Contains(t, dash, "Sustainable Skies")
	require.Contains(t, dash, "Community Calling")
	require.Contains(t, dash, "StartUp Loans")
	require.NotContains(t, dash, "warning:")

	out2.Reset()
	require.NoError(t, c2.friends(ctx))
	lines := strings.Split(strings.TrimSpace(out2.String()), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[1], "holly@virgin.example")
	require.Contains(t, lines[2], "sam@virgin.example")

	newPassword := "s3cret!"
	out2.Reset()
	require.NoError(t, c2.profile(ctx, patchPassword(newPassword)))
	require.Contains(t, out2.String(), "Profile updated")
	require.NoError(t, c2.logout())
	require.Error(t, c2.login(ctx, "richard@virgin.example", "changeme"))
	require.NoError(t, c2.login(ctx, "richard@virgin.example", newPassword))

	require.NoError(t, c2.logout())
	out2.Reset()
	require.NoError(t, c2.whoami(ctx))
	require.Contains(t, out2.String(), "Not signed in")
}

func TestClientSignup(t *testing.T) {
	quietLogger(t)
	cfg := testConfig(t)
	startServer(t, cfg)
	ctx := context.Background()

	c, out := clientFor(t, cfg, "default")
	require.Error(t, c.signup(ctx, "holly@virgin.example", "x"), "duplicate email is rejected")
	require.NoError(t, c.signup(ctx, "new@virgin.example", "pw"))
	require.Contains(t, out.String(), "Signed up and signed in as new@virgin.example")

	out.Reset()
	require.NoError(t, c.dashboard(ctx, true))
	require.Contains(t, out.String(), `"myInitiatives": []`)
}

func TestClient_ServerDown(t *testing.T) {
	quietLogger(t)
	cfg := testConfig(t)
	srv := startServer(t, cfg)
	srv.Close()

	c, _ := clientFor(t, cfg, "default")
	err := c.login(context.Background(), "richard@virgin.example", "changeme")
	require.ErrorIs(t, err, session.ErrUnavailable)
}

func patchPassword(pw string) models.UserPatch {
	return models.UserPatch{Password: &pw}
}

// persistSession writes a signed-in session for the tab, as a previous login
// would have.
func persistSession(t *testing.T, dir, tab string, s session.Session) {
	t.Helper()
	storage, err := session.NewFileStorage(dir)
	require.NoError(t, err)
	b, err := json.Marshal(s)
	require.NoError(t, err)
	require.NoError(t, storage.Set(tab, b))
}

func TestDashboard_CatalogUnavailable(t *testing.T) {
	quietLogger(t)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"user": models.User{
				ID:     1,
				Email:  "richard@virgin.example",
				Points: 100,
				ParticipatedInitiatives: []models.Participation{
					{InitiativeID: 2, DateParticipated: "2024-05-01", PointsEarned: 100, Contribution: "beach clean-up"},
				},
			},
		})
	})
	mux.HandleFunc("GET /catalog.csv", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "catalog reloading", http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Client.BaseURL = srv.URL
	persistSession(t, cfg.Client.SessionDir, "default", session.Session{Email: "richard@virgin.example", UserID: 1, Token: "t"})

	c, out := clientFor(t, cfg, "default")
	require.NoError(t, c.dashboard(context.Background(), false))
	got := out.String()
	require.Contains(t, got, "warning: initiative catalog unavailable")
	require.Contains(t, got, "richard@virgin.example: 100 points (environmental 35, social 40, innovation 25)")
	require.Contains(t, got, "participation 1 references initiative 2")
}

func TestDashboard_UserStoreUnavailable(t *testing.T) {
	quietLogger(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Client.BaseURL = srv.URL
	persistSession(t, cfg.Client.SessionDir, "default", session.Session{Email: "richard@virgin.example", UserID: 1, Token: "t"})

	c, out := clientFor(t, cfg, "default")
	err := c.dashboard(context.Background(), false)
	require.ErrorIs(t, err, session.ErrUnavailable)
	require.Empty(t, out.String())

	require.ErrorIs(t, c.friends(context.Background()), session.ErrUnavailable)
}

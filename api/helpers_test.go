package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/garnizeh/initiatives/api"
	"github.com/garnizeh/initiatives/internal/auth"
	"github.com/garnizeh/initiatives/internal/catalog"
	"github.com/garnizeh/initiatives/internal/config"
	"github.com/garnizeh/initiatives/pkg/repository/mock"
)

const testSecret = "testsecret"

const testCatalogCSV = `company,initiative,challenge,solution,call to action,links
Virgin Atlantic,Clean Skies,Aviation emissions,"Sustainable fuel, lighter planes",Fly greener,"https://a.example
https://b.example"
Virgin Media,Tech for Good,Digital exclusion,Refurbished devices,Donate a device,https://c.example
Virgin Atlantic,Clean Skies,Noise,Quieter engines,Support research,
`

type staticCatalog struct {
	snap *catalog.Snapshot
	raw  []byte
}

func (s *staticCatalog) Snapshot() *catalog.Snapshot { return s.snap }
func (s *staticCatalog) Raw() []byte                 { return s.raw }

func newStaticCatalog(t *testing.T) *staticCatalog {
	t.Helper()
	snap, err := catalog.Parse(strings.NewReader(testCatalogCSV))
	if err != nil {
		t.Fatalf("parse test catalog: %v", err)
	}
	snap.LoadedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &staticCatalog{snap: snap, raw: []byte(testCatalogCSV)}
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:     testSecret,
		TokenDuration: time.Hour,
		LoginRate:     config.RateConfig{PerMinute: 60, Burst: 3},
	}
}

func newTestRouter(t *testing.T) (http.Handler, *mock.Mocks) {
	t.Helper()
	m := mock.NewMocks()
	r := api.SetupRoutes(testConfig(), "test", "now", api.Deps{
		Users:          m.UserRepo,
		Participations: m.PartRepo,
		Catalog:        newStaticCatalog(t),
	})
	return r, m
}

func bearer(t *testing.T, userID int64, email string) string {
	t.Helper()
	tok, err := auth.IssueToken(testSecret, userID, email, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + tok
}

func do(t *testing.T, h http.Handler, method, path, authz string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, _ := json.Marshal(b)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	res := w.Result()
	data, _ := io.ReadAll(res.Body)
	_ = res.Body.Close()
	return res, data
}

func mustHash(t *testing.T, pw string) string {
	t.Helper()
	h, err := auth.HashPassword(pw)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return h
}

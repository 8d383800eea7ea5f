package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/devtally/devtally/internal/badges"
	"github.com/devtally/devtally/internal/config"
	"github.com/devtally/devtally/internal/signing"
	"github.com/devtally/devtally/internal/store"
	"github.com/devtally/devtally/internal/syncer"
	"github.com/devtally/devtally/internal/track"
)

// harness wires a full tracking stack against one temp data dir, plus a fake
// leaderboard capturing whatever is submitted.
type harness struct {
	t   *testing.T
	cfg *config.Config

	store  *store.Store
	signer *signing.Signer
	syncer *syncer.Syncer

	leaderboard *httptest.Server

	mu       sync.Mutex
	payloads []syncer.Payload
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{t: t}
	h.leaderboard = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload syncer.Payload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("leaderboard decode: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		h.mu.Lock()
		h.payloads = append(h.payloads, payload)
		h.mu.Unlock()
		json.NewEncoder(w).Encode(syncer.SyncResponse{Accepted: true, TrustLevel: "verified"})
	}))
	t.Cleanup(h.leaderboard.Close)

	dir := t.TempDir()
	cfg, err := config.Load(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	cfg.DataDir = dir
	cfg.Database.Path = filepath.Join(dir, "devtally.db")
	cfg.Sync.Enabled = true
	cfg.Sync.URL = h.leaderboard.URL
	cfg.Sync.UserID = "user-e2e"
	cfg.Sync.AuthToken = "token-e2e"
	h.cfg = cfg

	h.store, err = store.Open(cfg.Database.Path, nil)
	if err != nil {
		t.Fatalf("store open failed: %v", err)
	}
	t.Cleanup(func() { h.store.Close() })

	keyring, err := signing.LoadOrCreateKey(cfg.KeyPath())
	if err != nil {
		t.Fatalf("key setup failed: %v", err)
	}
	h.signer = signing.NewSigner(keyring)

	h.syncer, err = syncer.NewSyncer(cfg, h.store, h.signer, badges.NewEngine(badges.Catalog(), nil), nil)
	if err != nil {
		t.Fatalf("syncer build failed: %v", err)
	}

	return h
}

// newTracker builds a fresh tracker over the shared files, simulating a new
// short-lived hook process.
func (h *harness) newTracker() *track.Tracker {
	h.t.Helper()
	tracker, err := track.NewTracker(h.cfg, h.store, nil)
	if err != nil {
		h.t.Fatalf("tracker build failed: %v", err)
	}
	return tracker
}

func (h *harness) submittedPayloads() []syncer.Payload {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]syncer.Payload(nil), h.payloads...)
}

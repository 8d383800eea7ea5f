package syncer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/devtally/devtally/internal/badges"
	"github.com/devtally/devtally/internal/config"
	"github.com/devtally/devtally/internal/shared"
	"github.com/devtally/devtally/internal/signing"
	"github.com/devtally/devtally/internal/store"
)

type fixture struct {
	syncer *Syncer
	store  *store.Store
	signer *signing.Signer
}

func setupSyncer(t *testing.T, url string) *fixture {
	t.Helper()

	dir := t.TempDir()
	cfg, err := config.Load(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	cfg.DataDir = dir
	cfg.Sync.Enabled = true
	cfg.Sync.URL = url
	cfg.Sync.AuthToken = "token-123"
	cfg.Sync.UserID = "user-1"
	cfg.Sync.TimeoutSeconds = 2

	st, err := store.Open(filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("store open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	keyring, err := signing.LoadOrCreateKey(cfg.KeyPath())
	if err != nil {
		t.Fatalf("key setup failed: %v", err)
	}
	signer := signing.NewSigner(keyring)

	s, err := NewSyncer(cfg, st, signer, badges.NewEngine(badges.Catalog(), nil), nil)
	if err != nil {
		t.Fatalf("syncer build failed: %v", err)
	}
	return &fixture{syncer: s, store: st, signer: signer}
}

func addClosedSession(t *testing.T, st *store.Store, start time.Time, duration time.Duration, interactions int) string {
	t.Helper()

	id, err := st.CreateSession(store.Session{Tool: shared.ToolClaudeCode, StartTime: start})
	if err != nil {
		t.Fatalf("create session failed: %v", err)
	}
	for i := 0; i < interactions; i++ {
		_, err := st.RecordInteraction(store.Interaction{
			SessionID: id,
			Kind:      shared.InteractionPrompt,
			Timestamp: start.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("record interaction failed: %v", err)
		}
	}
	if err := st.EndSession(id, start.Add(duration)); err != nil {
		t.Fatalf("end session failed: %v", err)
	}
	return id
}

func TestSyncSubmitsSignedPayload(t *testing.T) {
	var (
		mu       sync.Mutex
		received Payload
		auth     string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		json.NewEncoder(w).Encode(SyncResponse{Accepted: true, TrustLevel: "verified"})
	}))
	defer server.Close()

	f := setupSyncer(t, server.URL)
	addClosedSession(t, f.store, time.Now().UTC().Add(-time.Hour), 30*time.Minute, 3)

	result, err := f.syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if !result.Synced || !result.Accepted {
		t.Errorf("expected accepted sync, got %+v", result)
	}
	if result.TrustLevel != "verified" {
		t.Errorf("trust level = %q", result.TrustLevel)
	}
	if result.SignedEvents != 1 || result.DroppedEvents != 0 {
		t.Errorf("unexpected event counts: %+v", result)
	}

	mu.Lock()
	defer mu.Unlock()
	if auth != "Bearer token-123" {
		t.Errorf("auth header = %q", auth)
	}
	if received.DeviceID != f.signer.DeviceID() {
		t.Errorf("device id = %q, want %q", received.DeviceID, f.signer.DeviceID())
	}
	if received.Signature == "" || received.TotalSessions != 1 {
		t.Errorf("unexpected payload: %+v", received)
	}
	if len(received.SignedEvents) != 1 || !f.signer.Verify(received.SignedEvents[0]) {
		t.Error("signed event missing or failed verification on the wire")
	}
}

func TestSyncSwallowsNetworkErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse all connections

	f := setupSyncer(t, server.URL)
	addClosedSession(t, f.store, time.Now().UTC().Add(-time.Hour), 30*time.Minute, 1)

	result, err := f.syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("network failure must not surface as an error, got: %v", err)
	}
	if result.Synced {
		t.Error("result must report the attempt as unsynced")
	}
}

func TestSyncDropsAnomalousSessions(t *testing.T) {
	var received Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		json.NewEncoder(w).Encode(SyncResponse{Accepted: true})
	}))
	defer server.Close()

	f := setupSyncer(t, server.URL)
	now := time.Now().UTC()
	addClosedSession(t, f.store, now.Add(-time.Hour), 30*time.Minute, 1) // plausible
	addClosedSession(t, f.store, now.Add(-time.Hour), 2*time.Second, 1)  // too short
	addClosedSession(t, f.store, now.Add(-20*time.Hour), 15*time.Hour, 1)
	addClosedSession(t, f.store, now.Add(-40*24*time.Hour), time.Hour, 1) // too old

	result, err := f.syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.SignedEvents != 1 {
		t.Errorf("expected 1 signed event, got %d", result.SignedEvents)
	}
	if result.DroppedEvents != 3 {
		t.Errorf("expected 3 dropped events, got %d", result.DroppedEvents)
	}
	if len(received.SignedEvents) != 1 {
		t.Errorf("anomalous sessions leaked onto the wire: %d events", len(received.SignedEvents))
	}
}

func TestSyncSkipsOpenSessions(t *testing.T) {
	var received Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		json.NewEncoder(w).Encode(SyncResponse{Accepted: true})
	}))
	defer server.Close()

	f := setupSyncer(t, server.URL)
	if _, err := f.store.CreateSession(store.Session{Tool: shared.ToolCursor, StartTime: time.Now().UTC()}); err != nil {
		t.Fatalf("create session failed: %v", err)
	}

	result, err := f.syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.SignedEvents != 0 || result.DroppedEvents != 0 {
		t.Errorf("open sessions must not produce signed events: %+v", result)
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) BadgeEarned(_ context.Context, badge badges.EarnedBadge) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, badge.BadgeID)
	return nil
}

func TestSyncNotifiesNewBadgesOnce(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(SyncResponse{Accepted: true})
	}))
	defer server.Close()

	f := setupSyncer(t, server.URL)
	addClosedSession(t, f.store, time.Now().UTC().Add(-time.Hour), 30*time.Minute, 2)

	notifier := &recordingNotifier{}
	f.syncer.SetNotifier(notifier)

	for i := 0; i < 2; i++ {
		if _, err := f.syncer.Sync(context.Background()); err != nil {
			t.Fatalf("sync %d failed: %v", i, err)
		}
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	seen := make(map[string]int)
	for _, id := range notifier.calls {
		seen[id]++
	}
	if seen["first-session"] != 1 {
		t.Errorf("first-session notified %d times, want 1", seen["first-session"])
	}
}

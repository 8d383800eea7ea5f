package track

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/devtally/devtally/internal/config"
	"github.com/devtally/devtally/internal/shared"
	"github.com/devtally/devtally/internal/store"
)

func setupTracker(t *testing.T) (*Tracker, *store.Store) {
	t.Helper()

	dir := t.TempDir()
	cfg, err := config.Load(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	cfg.DataDir = dir
	cfg.Database.Path = filepath.Join(dir, "test.db")

	st, err := store.Open(cfg.Database.Path, nil)
	if err != nil {
		t.Fatalf("store open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	tracker, err := NewTracker(cfg, st, nil)
	if err != nil {
		t.Fatalf("tracker build failed: %v", err)
	}

	return tracker, st
}

func TestHookLifecycle(t *testing.T) {
	tracker, st := setupTracker(t)
	ctx := context.Background()
	payload := HookPayload{Tool: "claude-code", ProjectPath: "/proj"}

	if err := tracker.HandleHook(ctx, HookSessionStart, payload); err != nil {
		t.Fatalf("session-start failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := tracker.HandleHook(ctx, HookUserPrompt, payload); err != nil {
			t.Fatalf("user-prompt %d failed: %v", i, err)
		}
	}

	if err := tracker.HandleHook(ctx, HookSessionEnd, payload); err != nil {
		t.Fatalf("session-end failed: %v", err)
	}

	sessions, err := st.GetAllSessions()
	if err != nil {
		t.Fatalf("list sessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if sessions[0].Open() {
		t.Error("session should be closed after session-end")
	}

	interactions, err := st.GetInteractionsFor(sessions[0].ID)
	if err != nil {
		t.Fatalf("list interactions failed: %v", err)
	}
	if len(interactions) != 3 {
		t.Fatalf("expected 3 interactions, got %d", len(interactions))
	}
	for _, interaction := range interactions {
		if interaction.Kind != shared.InteractionPrompt {
			t.Errorf("unexpected interaction kind %q", interaction.Kind)
		}
	}
}

func TestHookInteractionWithoutSessionIsDropped(t *testing.T) {
	tracker, st := setupTracker(t)

	err := tracker.HandleHook(context.Background(), HookPostToolUse, HookPayload{
		Tool:     "cursor",
		ToolName: "Edit",
	})
	if err != nil {
		t.Fatalf("post-tool-use failed: %v", err)
	}

	sessions, err := st.GetAllSessions()
	if err != nil {
		t.Fatalf("list sessions failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("a tool-use callback must not fabricate a session, got %d", len(sessions))
	}
}

func TestHookPostToolUseKindOverride(t *testing.T) {
	tracker, st := setupTracker(t)
	ctx := context.Background()
	payload := HookPayload{Tool: "claude-code"}

	if err := tracker.HandleHook(ctx, HookSessionStart, payload); err != nil {
		t.Fatalf("session-start failed: %v", err)
	}

	accept := payload
	accept.Kind = "accept"
	accept.ToolName = "Edit"
	if err := tracker.HandleHook(ctx, HookPostToolUse, accept); err != nil {
		t.Fatalf("post-tool-use failed: %v", err)
	}

	sessions, _ := st.GetAllSessions()
	interactions, err := st.GetInteractionsFor(sessions[0].ID)
	if err != nil {
		t.Fatalf("list interactions failed: %v", err)
	}
	if len(interactions) != 1 || interactions[0].Kind != shared.InteractionAccept {
		t.Errorf("expected one accept interaction, got %+v", interactions)
	}
}

func TestHookPreCompactWritesNoInteraction(t *testing.T) {
	tracker, st := setupTracker(t)
	ctx := context.Background()
	payload := HookPayload{Tool: "opencode"}

	if err := tracker.HandleHook(ctx, HookSessionStart, payload); err != nil {
		t.Fatalf("session-start failed: %v", err)
	}
	if err := tracker.HandleHook(ctx, HookPreCompact, payload); err != nil {
		t.Fatalf("pre-compact failed: %v", err)
	}

	sessions, _ := st.GetAllSessions()
	interactions, err := st.GetInteractionsFor(sessions[0].ID)
	if err != nil {
		t.Fatalf("list interactions failed: %v", err)
	}
	if len(interactions) != 0 {
		t.Errorf("pre-compact must not write interaction rows, got %d", len(interactions))
	}
}

func TestHookRejectsUnknownTool(t *testing.T) {
	tracker, _ := setupTracker(t)

	err := tracker.HandleHook(context.Background(), HookSessionStart, HookPayload{Tool: "emacs"})
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestVersionChecker(t *testing.T) {
	vc, err := NewVersionChecker(map[string]string{"claude-code": ">= 1.2.0"})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	tests := []struct {
		tool    string
		version string
		want    bool
	}{
		{"claude-code", "1.3.0", true},
		{"claude-code", "1.1.0", false},
		{"claude-code", "", true},
		{"cursor", "0.0.1", true},
	}
	for _, tc := range tests {
		ok, err := vc.Check(tc.tool, tc.version)
		if err != nil {
			t.Fatalf("check %s %s failed: %v", tc.tool, tc.version, err)
		}
		if ok != tc.want {
			t.Errorf("check %s %s = %v, want %v", tc.tool, tc.version, ok, tc.want)
		}
	}

	if _, err := vc.Check("claude-code", "not-a-version"); err == nil {
		t.Error("expected error for malformed version")
	}
}

package signing

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setupKeyring(t *testing.T) *Keyring {
	t.Helper()
	keyring, err := LoadOrCreateKey(filepath.Join(t.TempDir(), "device.key"))
	if err != nil {
		t.Fatalf("key setup failed: %v", err)
	}
	return keyring
}

func TestKeyPersistsAcrossLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.key")

	first, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatalf("first load failed: %v", err)
	}
	second, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}

	if first.DeviceID() != second.DeviceID() {
		t.Errorf("device id changed across loads: %s vs %s", first.DeviceID(), second.DeviceID())
	}
	if len(first.DeviceID()) != 16 {
		t.Errorf("device id must be 16 hex chars, got %q", first.DeviceID())
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("key file permissions = %o, want 600", perm)
	}
}

func TestCorruptKeyFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.key")
	if err := os.WriteFile(path, []byte("not-hex"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := LoadOrCreateKey(path); err == nil {
		t.Error("expected error for corrupt key file")
	}
}

func TestCanonicalizeIsOrderIndependent(t *testing.T) {
	a, err := Canonicalize(map[string]any{"b": 2, "a": 1, "c": map[string]any{"z": 0, "y": 1}})
	if err != nil {
		t.Fatalf("canonicalize failed: %v", err)
	}
	b, err := Canonicalize(map[string]any{"c": map[string]any{"y": 1, "z": 0}, "a": 1, "b": 2})
	if err != nil {
		t.Fatalf("canonicalize failed: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("canonical forms differ: %s vs %s", a, b)
	}
}

func TestSignAndVerify(t *testing.T) {
	signer := NewSigner(setupKeyring(t))

	event, err := signer.Sign("session_summary", map[string]any{"hours": 1.5}, time.Now())
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	if event.Nonce == "" || event.Signature == "" {
		t.Fatalf("event missing nonce or signature: %+v", event)
	}
	if !signer.Verify(event) {
		t.Error("freshly signed event must verify")
	}

	tampered := event
	tampered.Data = []byte(`{"hours":100}`)
	if signer.Verify(tampered) {
		t.Error("tampered payload must not verify")
	}

	replayed := event
	replayed.Nonce = "other-nonce"
	if signer.Verify(replayed) {
		t.Error("signature must cover the nonce")
	}
}

func TestSignaturesDifferPerNonce(t *testing.T) {
	signer := NewSigner(setupKeyring(t))
	at := time.Unix(1000, 0)

	first, err := signer.Sign("session_summary", map[string]int{"n": 1}, at)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	second, err := signer.Sign("session_summary", map[string]int{"n": 1}, at)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	if first.Signature == second.Signature {
		t.Error("identical payloads must sign differently under fresh nonces")
	}
}

func TestCheckTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name string
		ts   time.Time
		want error
	}{
		{"current", now, nil},
		{"slightly future", now.Add(time.Minute), nil},
		{"too far future", now.Add(10 * time.Minute), ErrTimestampInFuture},
		{"recent past", now.Add(-24 * time.Hour), nil},
		{"too old", now.Add(-31 * 24 * time.Hour), ErrTimestampTooOld},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckTimestamp(tc.ts, now)
			if !errors.Is(err, tc.want) {
				t.Errorf("CheckTimestamp = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestCheckSessionDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		wantErr  bool
	}{
		{"too short", 2 * time.Second, true},
		{"minimum", 5 * time.Second, false},
		{"normal", 2 * time.Hour, false},
		{"maximum", 12 * time.Hour, false},
		{"too long", 13 * time.Hour, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckSessionDuration(tc.duration)
			if (err != nil) != tc.wantErr {
				t.Errorf("CheckSessionDuration(%v) = %v", tc.duration, err)
			}
		})
	}
}

package signing

import (
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SignedEvent is one locally-attested record in a sync batch. The nonce makes
// every signature unique even for identical payloads.
type SignedEvent struct {
	Kind      string          `json:"kind"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	DeviceID  string          `json:"device_id"`
	Nonce     string          `json:"nonce"`
	Signature string          `json:"signature"`
}

// Canonicalize produces a stable key-sorted JSON serialization, so that
// signing and verification do not depend on field order.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}

	// Round-trip through generic values; map keys marshal sorted.
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return canonical, nil
}

// Signer produces and verifies signed events with the device key.
type Signer struct {
	keyring *Keyring
}

func NewSigner(keyring *Keyring) *Signer {
	return &Signer{keyring: keyring}
}

// DeviceID exposes the keyring's public identifier.
func (s *Signer) DeviceID() string {
	return s.keyring.DeviceID()
}

// Sign wraps a payload into a SignedEvent. The signature covers every field
// except itself.
func (s *Signer) Sign(kind string, data any, timestamp time.Time) (SignedEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return SignedEvent{}, fmt.Errorf("sign %s event: %w", kind, err)
	}

	event := SignedEvent{
		Kind:      kind,
		Data:      raw,
		Timestamp: timestamp.UTC(),
		DeviceID:  s.keyring.DeviceID(),
		Nonce:     uuid.New().String(),
	}

	payload, err := signedPortion(event)
	if err != nil {
		return SignedEvent{}, err
	}
	event.Signature = s.keyring.sign(payload)
	return event, nil
}

// SignPayload signs an arbitrary value directly, for the batch-level
// signature on a sync request.
func (s *Signer) SignPayload(v any) (string, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return s.keyring.sign(canonical), nil
}

// Verify recomputes the event signature and compares in constant time.
func (s *Signer) Verify(event SignedEvent) bool {
	payload, err := signedPortion(event)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(s.keyring.sign(payload)), []byte(event.Signature))
}

func signedPortion(event SignedEvent) ([]byte, error) {
	event.Signature = ""
	canonical, err := Canonicalize(event)
	if err != nil {
		return nil, fmt.Errorf("canonicalize %s event: %w", event.Kind, err)
	}
	return canonical, nil
}

package cert

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/devtally/devtally/internal/signing"
	"github.com/devtally/devtally/internal/stats"
)

const hashPrefix = "sha256:"

// Certificate is a self-verifying stats snapshot. The hash proves internal
// consistency, not origin; anyone holding the snapshot can recompute it.
type Certificate struct {
	UserID           string          `json:"user_id"`
	GeneratedAt      time.Time       `json:"generated_at"`
	Stats            stats.UserStats `json:"stats"`
	VerificationHash string          `json:"verification_hash"`
}

// Generate builds a certificate over the given stats, stamped now.
func Generate(s stats.UserStats, userID string, generatedAt time.Time) (Certificate, error) {
	cert := Certificate{
		UserID:      userID,
		GeneratedAt: generatedAt.UTC(),
		Stats:       s,
	}

	hash, err := verificationHash(cert)
	if err != nil {
		return Certificate{}, fmt.Errorf("generate certificate: %w", err)
	}
	cert.VerificationHash = hash
	return cert, nil
}

// Verify recomputes the hash from the embedded stats. Stateless: no key, no
// store, no clock.
func Verify(cert Certificate) bool {
	hash, err := verificationHash(cert)
	if err != nil {
		return false
	}
	return hash == cert.VerificationHash
}

// verificationHash covers only the identity-bearing fields, so cosmetic stats
// fields (per-language rollups, rates) can be extended without breaking
// previously issued certificates.
func verificationHash(cert Certificate) (string, error) {
	badgeIDs := append([]string(nil), cert.Stats.Badges...)
	sort.Strings(badgeIDs)

	canonical, err := signing.Canonicalize(map[string]any{
		"user_id":        cert.UserID,
		"generated_at":   cert.GeneratedAt.UTC().Format(time.RFC3339),
		"total_hours":    cert.Stats.TotalHours,
		"total_sessions": cert.Stats.TotalSessions,
		"badge_ids":      badgeIDs,
	})
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(canonical)
	return hashPrefix + hex.EncodeToString(sum[:])[:16], nil
}

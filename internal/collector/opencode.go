package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sst/opencode-sdk-go"
	"github.com/sst/opencode-sdk-go/option"
	"go.uber.org/zap"

	"github.com/devtally/devtally/internal/shared"
	"github.com/devtally/devtally/internal/store"
)

// sessionLister is the slice of the opencode SDK used for imports, kept as an
// interface for mock-based testing.
type sessionLister interface {
	List(ctx context.Context, query opencode.SessionListParams, opts ...option.RequestOption) (*[]opencode.Session, error)
}

// ImportResult counts what one import run did.
type ImportResult struct {
	Imported int
	Skipped  int
}

// OpenCodeImporter backfills sessions from a running OpenCode server into the
// event store. Imported sessions carry no interactions, so they count toward
// session totals but not active hours.
type OpenCodeImporter struct {
	sessions  sessionLister
	directory string
	store     *store.Store
	logger    *zap.Logger
}

// NewOpenCodeImporter builds an importer against the server at baseURL.
func NewOpenCodeImporter(baseURL, directory string, st *store.Store, logger *zap.Logger) *OpenCodeImporter {
	client := opencode.NewClient(option.WithBaseURL(baseURL))
	return NewOpenCodeImporterWithLister(client.Session, directory, st, logger)
}

// NewOpenCodeImporterWithLister builds an importer with an injected session
// service (for testing).
func NewOpenCodeImporterWithLister(sessions sessionLister, directory string, st *store.Store, logger *zap.Logger) *OpenCodeImporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenCodeImporter{
		sessions:  sessions,
		directory: directory,
		store:     st,
		logger:    logger,
	}
}

// Import lists remote sessions and stores the ones not seen before. Re-runs
// are safe: already-imported sessions are skipped by id.
func (i *OpenCodeImporter) Import(ctx context.Context) (ImportResult, error) {
	sessions, err := i.sessions.List(ctx, opencode.SessionListParams{
		Directory: opencode.F(i.directory),
	})
	if err != nil {
		return ImportResult{}, fmt.Errorf("list opencode sessions: %w", err)
	}

	var result ImportResult
	for _, remote := range *sessions {
		if _, err := i.store.GetSession(remote.ID); err == nil {
			result.Skipped++
			continue
		} else if !errors.Is(err, shared.ErrSessionNotFound) {
			return result, fmt.Errorf("check session %s: %w", remote.ID, err)
		}

		created, updated := sessionTimes(remote)
		if created.IsZero() {
			i.logger.Warn("opencode session without timestamps skipped",
				zap.String("session_id", remote.ID),
			)
			result.Skipped++
			continue
		}

		metadata, _ := json.Marshal(map[string]string{
			"source":    "opencode-import",
			"title":     remote.Title,
			"directory": remote.Directory,
		})

		if _, err := i.store.CreateSession(store.Session{
			ID:          remote.ID,
			Tool:        shared.ToolOpenCode,
			StartTime:   created,
			ProjectPath: remote.Directory,
			Metadata:    metadata,
		}); err != nil {
			return result, fmt.Errorf("import session %s: %w", remote.ID, err)
		}

		if updated.After(created) {
			if err := i.store.EndSession(remote.ID, updated); err != nil {
				return result, fmt.Errorf("close imported session %s: %w", remote.ID, err)
			}
		}

		result.Imported++
	}

	i.logger.Info("opencode import finished",
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// sessionTimes digs created/updated out of the raw session JSON; the typed
// SDK surface does not expose them directly. Values are epoch milliseconds.
func sessionTimes(sess opencode.Session) (created, updated time.Time) {
	raw := sess.JSON.RawJSON()
	if raw == "" {
		return time.Time{}, time.Time{}
	}

	var parsed struct {
		Time struct {
			Created float64 `json:"created"`
			Updated float64 `json:"updated"`
		} `json:"time"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return time.Time{}, time.Time{}
	}

	if parsed.Time.Created > 0 {
		created = time.UnixMilli(int64(parsed.Time.Created)).UTC()
	}
	if parsed.Time.Updated > 0 {
		updated = time.UnixMilli(int64(parsed.Time.Updated)).UTC()
	}
	return created, updated
}

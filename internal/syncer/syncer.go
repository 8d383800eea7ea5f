package syncer

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/devtally/devtally/internal/badges"
	"github.com/devtally/devtally/internal/config"
	"github.com/devtally/devtally/internal/signing"
	"github.com/devtally/devtally/internal/stats"
	"github.com/devtally/devtally/internal/store"
)

const anomalyCacheSize = 512

// BadgeNotifier receives newly earned badges. Failures are the notifier's
// problem; sync never depends on it.
type BadgeNotifier interface {
	BadgeEarned(ctx context.Context, badge badges.EarnedBadge) error
}

// Result summarizes one sync attempt. A network failure still yields a
// result; local tracking is unaffected either way.
type Result struct {
	Synced        bool
	Accepted      bool
	TrustLevel    string
	SignedEvents  int
	DroppedEvents int
	Badges        int
}

// Syncer derives stats, signs session summaries, and submits the payload to
// the leaderboard. Network errors are swallowed: the next attempt recomputes
// from the full store, so nothing is lost.
type Syncer struct {
	cfg      *config.Config
	store    *store.Store
	signer   *signing.Signer
	engine   *badges.Engine
	client   *Client
	notifier BadgeNotifier
	logger   *zap.Logger

	// warned dedupes anomaly log lines per session, so a permanently
	// implausible row does not spam every sync cycle.
	warned   *lru.Cache[string, struct{}]
	notified map[string]struct{}
}

func NewSyncer(cfg *config.Config, st *store.Store, signer *signing.Signer, engine *badges.Engine, logger *zap.Logger) (*Syncer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	warned, err := lru.New[string, struct{}](anomalyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("build anomaly cache: %w", err)
	}

	return &Syncer{
		cfg:    cfg,
		store:  st,
		signer: signer,
		engine: engine,
		client: NewClient(
			cfg.Sync.URL,
			cfg.Sync.AuthToken,
			time.Duration(cfg.Sync.TimeoutSeconds)*time.Second,
		),
		logger:   logger,
		warned:   warned,
		notified: make(map[string]struct{}),
	}, nil
}

// SetNotifier wires an optional badge notifier.
func (s *Syncer) SetNotifier(n BadgeNotifier) {
	s.notifier = n
}

// Sync runs one full cycle: recompute, evaluate, sign, submit. Only local
// failures (store, key) surface as errors; transport failures are logged and
// reported through the result.
func (s *Syncer) Sync(ctx context.Context) (*Result, error) {
	idle := time.Duration(s.cfg.Session.IdleThresholdMinutes) * time.Minute

	userStats, err := stats.ComputeFromStore(s.store, idle)
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}

	earned := s.engine.Evaluate(userStats)
	userStats.ApplyBadges(badges.IDs(earned))

	events, dropped, err := s.signedSessionEvents(time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}

	payload, err := BuildPayload(userStats, earned, events, s.signer)
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}

	result := &Result{
		SignedEvents:  len(events),
		DroppedEvents: dropped,
		Badges:        len(earned),
	}

	resp, err := s.client.Submit(ctx, s.cfg.Sync.UserID, payload)
	if err != nil {
		s.logger.Warn("sync attempt failed; will retry with full stats next cycle", zap.Error(err))
		return result, nil
	}

	result.Synced = true
	result.Accepted = resp.Accepted
	result.TrustLevel = resp.TrustLevel

	s.notifyNewBadges(ctx, earned)
	return result, nil
}

// Run syncs on a fixed interval until the context is cancelled, emitting one
// Result per attempt. The first attempt fires immediately.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) <-chan Result {
	results := make(chan Result, 1)

	go func() {
		defer close(results)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			result, err := s.Sync(ctx)
			if err != nil {
				s.logger.Error("sync cycle failed", zap.Error(err))
			} else {
				select {
				case results <- *result:
				default:
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return results
}

// signedSessionEvents builds one signed summary per closed session, dropping
// anything the anomaly pre-check flags. Dropped events are logged once and
// never transmitted.
func (s *Syncer) signedSessionEvents(now time.Time) ([]signing.SignedEvent, int, error) {
	sessions, err := s.store.GetAllSessions()
	if err != nil {
		return nil, 0, err
	}

	var (
		events  []signing.SignedEvent
		dropped int
	)
	for _, session := range sessions {
		if session.Open() {
			continue
		}

		if err := s.checkSession(session, now); err != nil {
			dropped++
			if _, seen := s.warned.Get(session.ID); !seen {
				s.warned.Add(session.ID, struct{}{})
				s.logger.Warn("session dropped from sync by anomaly pre-check",
					zap.String("session_id", session.ID),
					zap.Error(err),
				)
			}
			continue
		}

		interactions, err := s.store.GetInteractionsFor(session.ID)
		if err != nil {
			return nil, 0, err
		}

		event, err := s.signer.Sign("session_summary", map[string]any{
			"session_id":   session.ID,
			"tool":         session.Tool,
			"start_time":   session.StartTime.UTC().Format(time.RFC3339),
			"end_time":     session.EndTime.UTC().Format(time.RFC3339),
			"interactions": len(interactions),
		}, *session.EndTime)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, event)
	}

	return events, dropped, nil
}

func (s *Syncer) checkSession(session store.Session, now time.Time) error {
	if err := signing.CheckTimestamp(*session.EndTime, now); err != nil {
		return err
	}
	return signing.CheckSessionDuration(session.EndTime.Sub(session.StartTime))
}

func (s *Syncer) notifyNewBadges(ctx context.Context, earned []badges.EarnedBadge) {
	if s.notifier == nil {
		return
	}
	for _, badge := range earned {
		if _, seen := s.notified[badge.BadgeID]; seen {
			continue
		}
		s.notified[badge.BadgeID] = struct{}{}
		if err := s.notifier.BadgeEarned(ctx, badge); err != nil {
			s.logger.Warn("badge notification failed",
				zap.String("badge_id", badge.BadgeID),
				zap.Error(err),
			)
		}
	}
}

package track

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/devtally/devtally/internal/config"
	"github.com/devtally/devtally/internal/shared"
	"github.com/devtally/devtally/internal/store"
)

// HookEvent names a host lifecycle callback.
type HookEvent string

const (
	HookSessionStart HookEvent = "session-start"
	HookUserPrompt   HookEvent = "user-prompt"
	HookPreToolUse   HookEvent = "pre-tool-use"
	HookPostToolUse  HookEvent = "post-tool-use"
	HookInteraction  HookEvent = "interaction"
	HookPreCompact   HookEvent = "pre-compact"
	HookSessionEnd   HookEvent = "session-end"
)

// ParseHookEvent validates a hook event name from the CLI surface.
func ParseHookEvent(s string) (HookEvent, error) {
	switch HookEvent(s) {
	case HookSessionStart, HookUserPrompt, HookPreToolUse, HookPostToolUse,
		HookInteraction, HookPreCompact, HookSessionEnd:
		return HookEvent(s), nil
	default:
		return "", fmt.Errorf("unknown hook event %q", s)
	}
}

// HookPayload carries what a shim knows about the callback. Shims are thin;
// everything here is optional except the tool.
type HookPayload struct {
	Tool        string          `json:"tool"`
	ShimVersion string          `json:"shim_version,omitempty"`
	ProjectPath string          `json:"project_path,omitempty"`
	ToolName    string          `json:"tool_name,omitempty"`
	Kind        string          `json:"kind,omitempty"`
	DurationMs  int64           `json:"duration_ms,omitempty"`
	Metadata    shared.Metadata `json:"metadata,omitempty"`
}

// Tracker is the per-process context object threaded through every hook
// operation; constructed once per process, never global.
type Tracker struct {
	cfg         *config.Config
	store       *store.Store
	coordinator *Coordinator
	versions    *VersionChecker
	logger      *zap.Logger
}

func NewTracker(cfg *config.Config, st *store.Store, logger *zap.Logger) (*Tracker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	versions, err := NewVersionChecker(cfg.Tools.MinShimVersions)
	if err != nil {
		return nil, fmt.Errorf("build version checker: %w", err)
	}

	handles := NewHandleStore(
		cfg.HandlePath(),
		time.Duration(cfg.Session.HandleExpiryMinutes)*time.Minute,
	)

	return &Tracker{
		cfg:         cfg,
		store:       st,
		coordinator: NewCoordinator(st, handles, logger),
		versions:    versions,
		logger:      logger,
	}, nil
}

// IdleThreshold returns the configured gap cap for active time.
func (t *Tracker) IdleThreshold() time.Duration {
	return time.Duration(t.cfg.Session.IdleThresholdMinutes) * time.Minute
}

// Coordinator exposes the session coordinator for callers that need direct
// attachment (tests, the daemon).
func (t *Tracker) Coordinator() *Coordinator {
	return t.coordinator
}

// HandleHook processes one host lifecycle callback. Only session-start may
// create a session; every other callback attaches or drops. The host's
// pipeline is never blocked on anything but local file I/O here.
func (t *Tracker) HandleHook(ctx context.Context, event HookEvent, payload HookPayload) error {
	tool, err := shared.ParseToolKind(payload.Tool)
	if err != nil {
		return fmt.Errorf("hook %s: %w", event, err)
	}

	t.checkShimVersion(string(tool), payload.ShimVersion)

	switch event {
	case HookSessionStart:
		session, err := t.coordinator.AttachOrCreate(tool, payload.ProjectPath, true)
		if err != nil {
			return fmt.Errorf("hook %s: %w", event, err)
		}
		shared.LogWithContext(ctx, t.logger, "session attached",
			zap.String("session_id", session.ID),
			zap.String("tool", string(tool)),
		)
		return nil

	case HookUserPrompt:
		return t.record(ctx, tool, payload, shared.InteractionPrompt)

	case HookPreToolUse, HookPreCompact:
		// Keep the session attached; the interaction row is written by the
		// paired post callback (pre-compact writes none: the kind set is
		// closed).
		_, err := t.coordinator.AttachOrCreate(tool, payload.ProjectPath, false)
		if err != nil {
			return fmt.Errorf("hook %s: %w", event, err)
		}
		return nil

	case HookPostToolUse:
		kind := shared.InteractionToolUse
		if payload.Kind != "" {
			parsed, err := shared.ParseInteractionKind(payload.Kind)
			if err != nil {
				return fmt.Errorf("hook %s: %w", event, err)
			}
			kind = parsed
		}
		return t.record(ctx, tool, payload, kind)

	case HookInteraction:
		kind, err := shared.ParseInteractionKind(payload.Kind)
		if err != nil {
			return fmt.Errorf("hook %s: %w", event, err)
		}
		return t.record(ctx, tool, payload, kind)

	case HookSessionEnd:
		session, err := t.coordinator.AttachOrCreate(tool, payload.ProjectPath, false)
		if err != nil {
			return fmt.Errorf("hook %s: %w", event, err)
		}
		if session == nil {
			// Nothing in progress; the end callback is simply dropped.
			return nil
		}
		if err := t.coordinator.End(session.ID, time.Now().UTC()); err != nil {
			return fmt.Errorf("hook %s: %w", event, err)
		}
		shared.LogWithContext(ctx, t.logger, "session ended", zap.String("session_id", session.ID))
		return nil

	default:
		return fmt.Errorf("unknown hook event %q", event)
	}
}

// record attaches (never creates) and writes one interaction row. A missing
// session drops the interaction silently: a tool-use callback firing with no
// session in progress is not tracked.
func (t *Tracker) record(ctx context.Context, tool shared.ToolKind, payload HookPayload, kind shared.InteractionKind) error {
	session, err := t.coordinator.AttachOrCreate(tool, payload.ProjectPath, false)
	if err != nil {
		return fmt.Errorf("attach for %s interaction: %w", kind, err)
	}
	if session == nil {
		t.logger.Debug("no session in progress; interaction dropped",
			zap.String("kind", string(kind)),
			zap.String("tool", string(tool)),
		)
		return nil
	}

	_, err = t.store.RecordInteraction(store.Interaction{
		SessionID:  session.ID,
		Kind:       kind,
		Timestamp:  time.Now().UTC(),
		DurationMs: payload.DurationMs,
		ToolName:   payload.ToolName,
		Metadata:   payload.Metadata,
	})
	if err != nil {
		return fmt.Errorf("record %s interaction: %w", kind, err)
	}

	return nil
}

func (t *Tracker) checkShimVersion(tool, version string) {
	ok, err := t.versions.Check(tool, version)
	if err != nil {
		t.logger.Warn("shim version check failed", zap.String("tool", tool), zap.Error(err))
		return
	}
	if !ok {
		t.logger.Warn("hook shim below supported version",
			zap.String("tool", tool),
			zap.String("version", version),
		)
	}
}

package track

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devtally/devtally/internal/shared"
	"github.com/devtally/devtally/internal/store"
)

// Coordinator attaches disconnected hook invocations to one logical session.
// Each host callback may run in a brand-new OS process, so "the current
// session" lives in the handle file, not in memory; the in-process cache is
// only a shortcut for callbacks that fire repeatedly within one process.
type Coordinator struct {
	store   *store.Store
	handles *HandleStore
	logger  *zap.Logger

	mu      sync.Mutex
	current *store.Session
}

func NewCoordinator(st *store.Store, handles *HandleStore, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{store: st, handles: handles, logger: logger}
}

// AttachOrCreate resolves the session a callback belongs to.
//
// Order matters: attach before create, so two processes racing on session
// start converge on one session instead of orphaning one. A nil session with
// a nil error means "no session in progress and the caller may not create
// one" — the interaction is dropped, never fabricated onto a stale session.
func (c *Coordinator) AttachOrCreate(tool shared.ToolKind, projectPath string, allowCreate bool) (*store.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 1. Reuse the session this process already holds, if still open.
	if c.current != nil && c.current.Tool == tool {
		session, err := c.store.GetSession(c.current.ID)
		if err == nil && session.Open() {
			c.current = &session
			c.refreshHandle(session.ID)
			return &session, nil
		}
		c.current = nil
	}

	// 2. Attach to the handle's session, re-validated against the store.
	if session := c.attachViaHandle(tool); session != nil {
		c.current = session
		return session, nil
	}

	// 3. Stale, missing, or mismatched handle.
	if !allowCreate {
		return nil, nil
	}

	// 4. Create a new session and point the handle at it.
	session := store.Session{
		Tool:        tool,
		StartTime:   time.Now().UTC(),
		ProjectPath: projectPath,
	}
	id, err := c.store.CreateSession(session)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	created, err := c.store.GetSession(id)
	if err != nil {
		return nil, fmt.Errorf("read back created session %s: %w", id, err)
	}

	if err := c.handles.Save(id); err != nil {
		// The session row exists either way; a failed handle write only
		// costs cross-process attachment.
		c.logger.Warn("failed to persist session handle", zap.String("session_id", id), zap.Error(err))
	}

	c.current = &created
	return &created, nil
}

// attachViaHandle returns the handle's session when the handle is fresh, the
// session is still open, and the tool matches. Any failure degrades to "no
// session".
func (c *Coordinator) attachViaHandle(tool shared.ToolKind) *store.Session {
	handle, err := c.handles.Load()
	if err != nil {
		if !errors.Is(err, shared.ErrNoHandle) {
			c.logger.Warn("failed to read session handle", zap.Error(err))
		}
		return nil
	}

	if c.handles.Expired(handle, time.Now().UTC()) {
		return nil
	}

	session, err := c.store.GetSession(handle.SessionID)
	if err != nil {
		if !errors.Is(err, shared.ErrSessionNotFound) {
			c.logger.Warn("failed to validate handle session", zap.String("session_id", handle.SessionID), zap.Error(err))
		}
		return nil
	}

	if !session.Open() || session.Tool != tool {
		return nil
	}

	c.refreshHandle(session.ID)
	return &session
}

// refreshHandle re-saves the handle so the inactivity window tracks the last
// callback, not session creation.
func (c *Coordinator) refreshHandle(sessionID string) {
	if err := c.handles.Save(sessionID); err != nil {
		c.logger.Warn("failed to refresh session handle", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// End closes the given session and drops the handle when it points at it.
func (c *Coordinator) End(sessionID string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.EndSession(sessionID, at); err != nil {
		return fmt.Errorf("end session %s: %w", sessionID, err)
	}

	if c.current != nil && c.current.ID == sessionID {
		c.current = nil
	}

	handle, err := c.handles.Load()
	if err == nil && handle.SessionID == sessionID {
		if err := c.handles.Clear(); err != nil {
			c.logger.Warn("failed to clear session handle", zap.Error(err))
		}
	}

	return nil
}

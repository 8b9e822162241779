// Package session implements spec.md §4.9: HMAC challenge/response
// authentication, per-section permission checks memoized per
// (agent, path, op), a bounded audit log, and the per-path
// race-condition guard used to bracket VFS writes.
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cmdhub/cmdhub/internal/cmderrors"
)

const (
	sessionTimeout        = 2 * time.Hour
	maxConcurrentSessions = 5
	permissionMemoTTL     = 5 * time.Minute
)

// DefaultPermissions is the capability set a session receives on
// successful handshake, per spec.md §4.9.
var DefaultPermissions = []string{"fs-read", "fs-write", "context-read", "stream-access"}

// Session is an authenticated, time-bounded handle for an agent's
// operations.
type Session struct {
	ID          string
	AgentID     string
	CreatedAt   time.Time
	LastAccess  time.Time
	Permissions map[string]bool
	Origin      map[string]any
}

func (s *Session) expired(now time.Time) bool {
	return now.Sub(s.LastAccess) > sessionTimeout
}

func (s *Session) has(perm string) bool {
	return s.Permissions[perm]
}

type permMemoKey struct {
	agentID string
	path    string
	op      string
}

type permMemoEntry struct {
	allowed   bool
	createdAt time.Time
}

// Manager owns the session table, the per-agent session cap, the
// permission memo, the audit log, and the race-condition guard's
// per-path lock table.
type Manager struct {
	secret []byte

	mu         sync.Mutex
	sessions   map[string]*Session
	byAgent    map[string][]string // agentID -> session IDs, oldest first

	permMu sync.Mutex
	perm   map[permMemoKey]permMemoEntry

	audit *AuditLog

	locks *pathLocks
}

// New constructs a Manager. secret is the shared HMAC key used to
// verify handshake responses.
func New(secret []byte) *Manager {
	return &Manager{
		secret:   secret,
		sessions: make(map[string]*Session),
		byAgent:  make(map[string][]string),
		perm:     make(map[permMemoKey]permMemoEntry),
		audit:    newAuditLog(10_000, 8_000),
		locks:    newPathLocks(),
	}
}

// ExpectedResponse computes hmac_sha256(secret, "agent-id:challenge")
// as lowercase hex, the value a client must produce to authenticate.
func (m *Manager) ExpectedResponse(agentID, challenge string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(agentID + ":" + challenge))
	return hex.EncodeToString(mac.Sum(nil))
}

// Handshake verifies response against ExpectedResponse and, on
// success, opens a new session for agentID, evicting the oldest
// session if the agent is already at its concurrent-session cap.
func (m *Manager) Handshake(agentID, challenge, response string, origin map[string]any) (*Session, error) {
	expected := m.ExpectedResponse(agentID, challenge)
	if !hmac.Equal([]byte(expected), []byte(response)) {
		m.audit.Record(Entry{Agent: agentID, Operation: "handshake", Outcome: "denied", Reason: "hmac_mismatch"})
		return nil, &cmderrors.AuthFailed{Reason: "hmac_mismatch"}
	}

	now := time.Now()
	perms := make(map[string]bool, len(DefaultPermissions))
	for _, p := range DefaultPermissions {
		perms[p] = true
	}
	sess := &Session{
		ID:          uuid.NewString(),
		AgentID:     agentID,
		CreatedAt:   now,
		LastAccess:  now,
		Permissions: perms,
		Origin:      origin,
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	ids := append(m.byAgent[agentID], sess.ID)
	if len(ids) > maxConcurrentSessions {
		evictID := ids[0]
		ids = ids[1:]
		delete(m.sessions, evictID)
	}
	m.byAgent[agentID] = ids
	m.mu.Unlock()

	m.audit.Record(Entry{Agent: agentID, Operation: "handshake", Outcome: "allowed", SessionID: sess.ID})
	return sess, nil
}

// Touch looks up sessionID, rejecting it if unknown or idle-expired,
// and otherwise advances its last-access time.
func (m *Manager) Touch(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, &cmderrors.AuthFailed{Reason: "unknown_session"}
	}
	now := time.Now()
	if sess.expired(now) {
		m.removeLocked(sess)
		return nil, &cmderrors.AuthFailed{Reason: "session_expired"}
	}
	sess.LastAccess = now
	return sess, nil
}

// Logout ends sessionID immediately (contracts access per spec.md §9's
// authorization-monotonicity invariant: revocation only ever narrows).
func (m *Manager) Logout(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[sessionID]; ok {
		m.removeLocked(sess)
		m.audit.Record(Entry{Agent: sess.AgentID, Operation: "logout", Outcome: "allowed", SessionID: sessionID})
	}
}

// removeLocked must be called with m.mu held.
func (m *Manager) removeLocked(sess *Session) {
	delete(m.sessions, sess.ID)
	ids := m.byAgent[sess.AgentID]
	for i, id := range ids {
		if id == sess.ID {
			m.byAgent[sess.AgentID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

// sectionPermission maps a VFS top-level section to the capability
// required for read/list and write respectively, per spec.md §4.9's
// table. allowed == false (with required == "") means the operation is
// always denied for that section.
func sectionPermission(section string, write bool) (required string, allowed bool) {
	switch section {
	case "current":
		if write {
			return "fs-write", true
		}
		return "fs-read", true
	case "history":
		if write {
			return "", false
		}
		return "fs-read", true
	case "shadows":
		if write {
			return "", false
		}
		return "ast-access", true
	case "context":
		if write {
			return "", false
		}
		return "context-read", true
	case "streams":
		return "stream-access", true
	case "debug":
		if write {
			return "", false
		}
		return "debug-access", true
	default:
		return "", false
	}
}

// CheckPermission enforces spec.md §4.9's per-section table for a
// (section, path, write) operation, memoizing the result per
// (agent, path, op) for permissionMemoTTL.
func (m *Manager) CheckPermission(sess *Session, section, path string, write bool) error {
	op := "read"
	if write {
		op = "write"
	}
	key := permMemoKey{agentID: sess.AgentID, path: path, op: op}

	m.permMu.Lock()
	if entry, ok := m.perm[key]; ok && time.Since(entry.createdAt) < permissionMemoTTL {
		m.permMu.Unlock()
		if !entry.allowed {
			return &cmderrors.PermissionDenied{AgentID: sess.AgentID, Path: path, Operation: op}
		}
		return nil
	}
	m.permMu.Unlock()

	required, allowed := sectionPermission(section, write)
	allowed = allowed && sess.has(required)

	m.permMu.Lock()
	m.perm[key] = permMemoEntry{allowed: allowed, createdAt: time.Now()}
	m.permMu.Unlock()

	m.audit.Record(Entry{Agent: sess.AgentID, SessionID: sess.ID, Operation: op, Path: path, Outcome: outcomeOf(allowed)})
	if !allowed {
		return &cmderrors.PermissionDenied{AgentID: sess.AgentID, Path: path, Operation: op}
	}
	return nil
}

func outcomeOf(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

// InvalidatePermission drops the memoized decision for
// (agentID, path, op), used when a session's permission set changes.
func (m *Manager) InvalidatePermission(agentID, path, op string) {
	m.permMu.Lock()
	defer m.permMu.Unlock()
	delete(m.perm, permMemoKey{agentID: agentID, path: path, op: op})
}

// Audit returns the manager's audit log.
func (m *Manager) Audit() *AuditLog { return m.audit }

// guard returns the per-path lock used to bracket a write with the
// race-condition check in WithRaceGuard.
func (m *Manager) guard(path string) *sync.Mutex { return m.locks.get(path) }

// WithRaceGuard brackets op with spec.md §4.9's race-condition guard:
// capture state before, run op, capture state after, and validate the
// transition with validate. A path-scoped lock serializes concurrent
// writers to the same path; validate failing classifies the whole
// operation as a *cmderrors.RaceCondition (retryable).
func (m *Manager) WithRaceGuard(path string, capture func() (any, error), op func() error, validate func(before, after any) error) error {
	lock := m.guard(path)
	lock.Lock()
	defer func() {
		lock.Unlock()
		m.locks.release(path)
	}()

	before, err := capture()
	if err != nil {
		return err
	}
	if err := op(); err != nil {
		return err
	}
	after, err := capture()
	if err != nil {
		return err
	}
	if err := validate(before, after); err != nil {
		return &cmderrors.RaceCondition{Path: path, Detail: err.Error()}
	}
	return nil
}

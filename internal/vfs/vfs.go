// Package vfs implements spec.md §4.8's POSIX-shaped surface: a
// dependency-free core dispatching to six per-section handlers
// (current/, history/, shadows/, context/, streams/, debug/), mirroring
// the teacher's root-dispatches-to-subtree-node shape in `pkg/fuse` and
// `internal/fs`. Every operation returns a syscall.Errno so the thin
// `internal/fuseadapter` binding can hand results straight back to
// go-fuse.
package vfs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/cmdhub/cmdhub/internal/aggregate"
	"github.com/cmdhub/cmdhub/internal/annotation"
	"github.com/cmdhub/cmdhub/internal/cmderrors"
	"github.com/cmdhub/cmdhub/internal/session"
	"github.com/cmdhub/cmdhub/internal/stream"
	"github.com/cmdhub/cmdhub/internal/timetravel"
)

const opRateLimit = 1000 // ops/sec/op-type, per spec.md §4.8

// Stat is the getattr result: size, POSIX mode bits, and timestamp.
type Stat struct {
	Size    int64
	Mode    uint32
	ModTime time.Time
	IsDir   bool
}

// DirEntry is one readdir result entry.
type DirEntry struct {
	Name  string
	IsDir bool
}

const (
	modeDir       = 0755
	modeRegular   = 0644
	modeReadOnly  = 0444
	modeReadOnlyX = 0555
	modeFIFO      = 0600
)

// VFS is the dependency-free POSIX-shaped core. One VFS instance serves
// one project aggregate.
type VFS struct {
	agg       *aggregate.Aggregate
	recon     *timetravel.Reconstructor
	sessions  *session.Manager
	hub       *stream.Hub
	annotator annotation.Annotator

	mu        sync.Mutex
	limiters  map[string]*rate.Limiter

	contentCache *ttlCache // current/<path> -> []byte, TTL 5s
	historyCache *ttlCache // history/<ts>/<path> -> []byte, TTL 60s
}

// Config wires a VFS to its collaborators.
type Config struct {
	Aggregate     *aggregate.Aggregate
	Reconstructor *timetravel.Reconstructor
	Sessions      *session.Manager
	Hub           *stream.Hub
	Annotator     annotation.Annotator
}

func New(cfg Config) *VFS {
	annotator := cfg.Annotator
	if annotator == nil {
		annotator = annotation.NoOp{}
	}
	return &VFS{
		agg:          cfg.Aggregate,
		recon:        cfg.Reconstructor,
		sessions:     cfg.Sessions,
		hub:          cfg.Hub,
		annotator:    annotator,
		limiters:     make(map[string]*rate.Limiter),
		contentCache: newTTLCache(5 * time.Second),
		historyCache: newTTLCache(60 * time.Second),
	}
}

// section, rest splits a VFS path ("/current/src/x.go") into its
// top-level section name and the remaining path rooted at "/".
func splitPath(path string) (section, rest string) {
	trimmed := strings.TrimPrefix(path, "/")
	idx := strings.IndexByte(trimmed, '/')
	if idx < 0 {
		return trimmed, "/"
	}
	return trimmed[:idx], "/" + trimmed[idx+1:]
}

// limiterFor returns (creating if necessary) the per-op-type rate
// limiter enforcing spec.md §4.8's ~1000 ops/sec/op-type cap.
func (v *VFS) limiterFor(op string) *rate.Limiter {
	v.mu.Lock()
	defer v.mu.Unlock()
	l, ok := v.limiters[op]
	if !ok {
		l = rate.NewLimiter(rate.Limit(opRateLimit), opRateLimit)
		v.limiters[op] = l
	}
	return l
}

func (v *VFS) rateGate(op string) syscall.Errno {
	if !v.limiterFor(op).Allow() {
		return syscall.EBUSY
	}
	return 0
}

// authorize resolves sessionID and checks its permission for
// (section, path, write), per spec.md §4.9.
func (v *VFS) authorize(sessionID, section, path string, write bool) (*session.Session, syscall.Errno) {
	sess, err := v.sessions.Touch(sessionID)
	if err != nil {
		return nil, syscall.EACCES
	}
	if err := v.sessions.CheckPermission(sess, section, path, write); err != nil {
		return nil, syscall.EACCES
	}
	return sess, 0
}

// invalidate drops the content cache entries for path (section-relative,
// as currentRead keys them) and its ancestors, per spec.md §4.8's
// "invalidation fires on every successful write" note. The history cache
// is not touched; its entries expire after their TTL.
func (v *VFS) invalidate(path string) {
	v.contentCache.Delete(path)
	for p := parentOf(path); p != ""; p = parentOf(p) {
		v.contentCache.Delete(p)
		if p == "/" {
			break
		}
	}
}

func parentOf(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	idx := strings.LastIndexByte(trimmed, '/')
	if idx <= 0 {
		return "/"
	}
	return trimmed[:idx]
}

// Getattr implements spec.md §4.8's getattr operation.
func (v *VFS) Getattr(ctx context.Context, sessionID, path string) (Stat, syscall.Errno) {
	if errno := v.rateGate("getattr"); errno != 0 {
		return Stat{}, errno
	}
	section, rest := splitPath(path)
	if _, errno := v.authorize(sessionID, section, path, false); errno != 0 {
		return Stat{}, errno
	}

	switch section {
	case "current":
		return v.currentGetattr(rest)
	case "history":
		return v.historyGetattr(rest)
	case "shadows":
		return v.shadowsGetattr(rest)
	case "context":
		return v.contextGetattr(rest)
	case "streams":
		return v.streamsGetattr(rest)
	case "debug":
		return v.debugGetattr(rest)
	case "":
		return Stat{IsDir: true, Mode: 0755, ModTime: time.Now()}, 0
	default:
		return Stat{}, syscall.ENOENT
	}
}

// Readdir implements spec.md §4.8's readdir operation.
func (v *VFS) Readdir(ctx context.Context, sessionID, path string) ([]DirEntry, syscall.Errno) {
	if errno := v.rateGate("readdir"); errno != 0 {
		return nil, errno
	}
	section, rest := splitPath(path)
	if _, errno := v.authorize(sessionID, section, path, false); errno != 0 {
		return nil, errno
	}

	switch section {
	case "":
		return []DirEntry{
			{Name: "current", IsDir: true}, {Name: "history", IsDir: true},
			{Name: "shadows", IsDir: true}, {Name: "context", IsDir: true},
			{Name: "streams", IsDir: true}, {Name: "debug", IsDir: true},
		}, 0
	case "current":
		return v.currentReaddir(rest)
	case "history":
		return v.historyReaddir(rest)
	case "shadows":
		return v.currentReaddir(rest)
	case "context":
		return v.contextReaddir(rest)
	case "streams":
		return v.streamsReaddir()
	case "debug":
		return v.debugReaddir()
	default:
		return nil, syscall.ENOENT
	}
}

// Read implements spec.md §4.8's read operation.
func (v *VFS) Read(ctx context.Context, sessionID, path string, size, offset int64) ([]byte, syscall.Errno) {
	if errno := v.rateGate("read"); errno != 0 {
		return nil, errno
	}
	section, rest := splitPath(path)
	if _, errno := v.authorize(sessionID, section, path, false); errno != 0 {
		return nil, errno
	}

	var content []byte
	var errno syscall.Errno
	switch section {
	case "current":
		content, errno = v.currentRead(rest)
	case "history":
		content, errno = v.historyRead(ctx, rest)
	case "shadows":
		content, errno = v.shadowsRead(rest)
	case "context":
		content, errno = v.contextRead(rest)
	case "streams":
		content, errno = v.streamsRead(rest)
	case "debug":
		content, errno = v.debugRead(rest)
	default:
		return nil, syscall.ENOENT
	}
	if errno != 0 {
		return nil, errno
	}
	return sliceWindow(content, size, offset), 0
}

func sliceWindow(content []byte, size, offset int64) []byte {
	if offset < 0 || offset > int64(len(content)) {
		return nil
	}
	end := offset + size
	if end > int64(len(content)) {
		end = int64(len(content))
	}
	return content[offset:end]
}

// Write implements spec.md §4.8's write operation: current/ and streams/
// are writable (a streams/ write publishes data as one message); any
// other section fails EROFS. A current/ write past the end of file
// zero-fills the gap and is bracketed by the session manager's
// race-condition guard.
func (v *VFS) Write(ctx context.Context, sessionID, path string, data []byte, offset int64) (int, syscall.Errno) {
	if errno := v.rateGate("write"); errno != 0 {
		return 0, errno
	}
	section, rest := splitPath(path)
	if section == "streams" {
		return v.streamsWrite(sessionID, rest, data)
	}
	if section != "current" {
		return 0, syscall.EROFS
	}

	sess, errno := v.authorize(sessionID, section, path, true)
	if errno != 0 {
		return 0, errno
	}

	var n int
	err := v.sessions.WithRaceGuard(path,
		func() (any, error) { return v.currentSnapshot(rest), nil },
		func() error {
			existing, _ := v.agg.State().CurrentFile(rest)
			newContent := zeroFillWrite(existing.Content, data, offset)
			_, writeErr := v.agg.HandleFileModification(ctx, rest, string(newContent), sess.AgentID, sessionID, nil)
			if writeErr == nil {
				n = len(data)
			}
			return writeErr
		},
		func(before, after any) error { return validateWriteTransition(before, after) },
	)
	if err != nil {
		v.invalidate(rest)
		return 0, errnoFor(err)
	}
	v.invalidate(rest)
	v.hub.Publish(ctx, "file-changes", map[string]any{"path": rest, "agent": sess.AgentID})
	return n, 0
}

type writeSnapshot struct {
	existed bool
	hash    string
}

func (v *VFS) currentSnapshot(path string) writeSnapshot {
	fv, ok := v.agg.State().CurrentFile(path)
	return writeSnapshot{existed: ok, hash: fv.ContentHash}
}

func validateWriteTransition(before, after any) error {
	b := before.(writeSnapshot)
	a := after.(writeSnapshot)
	if b.existed && b.hash == a.hash {
		return fmt.Errorf("content hash did not advance")
	}
	return nil
}

func zeroFillWrite(existing, data []byte, offset int64) []byte {
	end := offset + int64(len(data))
	out := make([]byte, end)
	copy(out, existing)
	if int64(len(existing)) < offset {
		// gap between existing content and offset is already zero-filled
		// by make([]byte, end) above.
	}
	copy(out[offset:], data)
	return out
}

func errnoFor(err error) syscall.Errno {
	switch err.(type) {
	case *cmderrors.RaceCondition:
		return syscall.EAGAIN
	case *cmderrors.BusinessRuleViolation:
		return syscall.EACCES
	case *cmderrors.ConcurrencyConflict:
		return syscall.EAGAIN
	default:
		return syscall.EIO
	}
}

func jsonBytes(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}

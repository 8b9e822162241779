package vfs

import (
	"context"
	"strings"
	"syscall"
	"time"

	"github.com/cmdhub/cmdhub/internal/project"
)

// --- current/ -----------------------------------------------------------

func (v *VFS) currentGetattr(path string) (Stat, syscall.Errno) {
	state := v.agg.State()
	if path == "/" {
		return Stat{IsDir: true, Mode: modeDir, ModTime: time.Now()}, 0
	}
	if fv, ok := state.CurrentFile(path); ok {
		return Stat{Size: fv.Size, Mode: modeRegular, ModTime: fv.Timestamp}, 0
	}
	if info, ok := state.Directories[path]; ok {
		return Stat{IsDir: true, Mode: modeDir, ModTime: info.UpdatedAt}, 0
	}
	return Stat{}, syscall.ENOENT
}

func (v *VFS) currentReaddir(path string) ([]DirEntry, syscall.Errno) {
	state := v.agg.State()
	info, ok := state.Directories[path]
	if !ok && path != "/" {
		return nil, syscall.ENOENT
	}
	var entries []DirEntry
	for child := range info.Children {
		_, isDir := state.Directories[child]
		entries = append(entries, DirEntry{Name: baseName(child), IsDir: isDir})
	}
	return entries, 0
}

func (v *VFS) currentRead(path string) ([]byte, syscall.Errno) {
	if content, ok := v.contentCache.Get(path); ok {
		return content.([]byte), 0
	}
	fv, ok := v.agg.State().CurrentFile(path)
	if !ok {
		return nil, syscall.ENOENT
	}
	v.contentCache.Set(path, fv.Content)
	return fv.Content, 0
}

func baseName(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	idx := strings.LastIndexByte(trimmed, '/')
	return trimmed[idx+1:]
}

// --- history/ -------------------------------------------------------------
// history/<ISO-8601-hour>/<path>

const historyHourLayout = "2006-01-02T15"

func (v *VFS) historyGetattr(rest string) (Stat, syscall.Errno) {
	ts, sub, ok := splitHistoryPath(rest)
	if !ok {
		return Stat{IsDir: true, Mode: modeReadOnlyX, ModTime: time.Now()}, 0
	}
	state, err := v.recon.Rebuild(context.Background(), "", parseHistoryHour(ts))
	if err != nil {
		return Stat{}, syscall.EIO
	}
	if fv, ok := state.CurrentFile(sub); ok {
		return Stat{Size: fv.Size, Mode: modeReadOnly, ModTime: fv.Timestamp}, 0
	}
	return Stat{}, syscall.ENOENT
}

func (v *VFS) historyReaddir(rest string) ([]DirEntry, syscall.Errno) {
	if rest == "/" {
		now := time.Now()
		var entries []DirEntry
		for i := 0; i < 24; i++ {
			hour := now.Add(-time.Duration(i) * time.Hour)
			entries = append(entries, DirEntry{Name: hour.Format(historyHourLayout), IsDir: true})
		}
		return entries, 0
	}
	ts, sub, ok := splitHistoryPath(rest)
	if !ok {
		return nil, syscall.ENOENT
	}
	state, err := v.recon.Rebuild(context.Background(), "", parseHistoryHour(ts))
	if err != nil {
		return nil, syscall.EIO
	}
	info, ok := state.Directories[sub]
	if !ok {
		return nil, syscall.ENOENT
	}
	var entries []DirEntry
	for child := range info.Children {
		_, isDir := state.Directories[child]
		entries = append(entries, DirEntry{Name: baseName(child), IsDir: isDir})
	}
	return entries, 0
}

func (v *VFS) historyRead(ctx context.Context, rest string) ([]byte, syscall.Errno) {
	cacheKey := "history:" + rest
	if content, ok := v.historyCache.Get(cacheKey); ok {
		return content.([]byte), 0
	}
	ts, sub, ok := splitHistoryPath(rest)
	if !ok {
		return nil, syscall.ENOENT
	}
	state, err := v.recon.Rebuild(ctx, "", parseHistoryHour(ts))
	if err != nil {
		return nil, syscall.EIO
	}
	fv, ok := state.CurrentFile(sub)
	if !ok {
		return nil, syscall.ENOENT
	}
	v.historyCache.Set(cacheKey, fv.Content)
	return fv.Content, 0
}

func splitHistoryPath(rest string) (ts, sub string, ok bool) {
	trimmed := strings.TrimPrefix(rest, "/")
	idx := strings.IndexByte(trimmed, '/')
	if idx < 0 {
		return "", "", false
	}
	return trimmed[:idx], trimmed[idx:], true
}

func parseHistoryHour(ts string) time.Time {
	t, err := time.Parse(historyHourLayout, ts)
	if err != nil {
		return time.Now()
	}
	return t
}

// --- shadows/ ---------------------------------------------------------
// current/ mirror with per-file AST annotation JSON.

func (v *VFS) shadowsGetattr(path string) (Stat, syscall.Errno) {
	stat, errno := v.currentGetattr(path)
	if errno != 0 {
		return Stat{}, errno
	}
	stat.Mode = modeReadOnly
	return stat, 0
}

func (v *VFS) shadowsRead(path string) ([]byte, syscall.Errno) {
	content, errno := v.currentRead(path)
	if errno != 0 {
		return nil, errno
	}
	ann, err := v.annotator.Annotate(path, content)
	if err != nil {
		return nil, syscall.EIO
	}
	envelope := map[string]any{
		"path":        path,
		"content":     string(content),
		"annotations": ann,
	}
	return jsonBytes(envelope), 0
}

// --- context/ -------------------------------------------------------
// context/<package-id>/{manifest,context,files}.json, package-id = a
// top-level directory under current/.

func (v *VFS) contextGetattr(rest string) (Stat, syscall.Errno) {
	if rest == "/" {
		return Stat{IsDir: true, Mode: modeDir, ModTime: time.Now()}, 0
	}
	pkgID, file, ok := splitHistoryPath(rest)
	if !ok {
		return Stat{IsDir: true, Mode: modeDir, ModTime: time.Now()}, 0
	}
	if !v.packageExists(pkgID) || !isContextFile(file) {
		return Stat{}, syscall.ENOENT
	}
	return Stat{Mode: modeReadOnly, ModTime: time.Now()}, 0
}

func (v *VFS) contextReaddir(rest string) ([]DirEntry, syscall.Errno) {
	if rest != "/" {
		return []DirEntry{
			{Name: "manifest.json"}, {Name: "context.json"}, {Name: "files.json"},
		}, 0
	}
	var entries []DirEntry
	for child := range v.agg.State().Directories["/"].Children {
		entries = append(entries, DirEntry{Name: baseName(child), IsDir: true})
	}
	return entries, 0
}

func (v *VFS) contextRead(rest string) ([]byte, syscall.Errno) {
	pkgID, file, ok := splitHistoryPath(rest)
	if !ok || !v.packageExists(pkgID) {
		return nil, syscall.ENOENT
	}
	state := v.agg.State()
	pkgPath := "/" + pkgID
	switch strings.TrimPrefix(file, "/") {
	case "manifest.json":
		return jsonBytes(map[string]any{"package": pkgID, "path": pkgPath}), 0
	case "context.json":
		files := filesUnder(state, pkgPath)
		return jsonBytes(map[string]any{"package": pkgID, "file_count": len(files)}), 0
	case "files.json":
		return jsonBytes(map[string]any{"package": pkgID, "files": filesUnder(state, pkgPath)}), 0
	default:
		return nil, syscall.ENOENT
	}
}

func (v *VFS) packageExists(pkgID string) bool {
	_, ok := v.agg.State().Directories["/"+pkgID]
	return ok
}

func isContextFile(file string) bool {
	switch strings.TrimPrefix(file, "/") {
	case "manifest.json", "context.json", "files.json":
		return true
	default:
		return false
	}
}

func filesUnder(state *project.State, prefix string) []string {
	var files []string
	for p := range state.Files {
		if strings.HasPrefix(p, prefix+"/") || (prefix == "/" && p != "/") {
			files = append(files, p)
		}
	}
	return files
}

// --- streams/ -----------------------------------------------------------

func (v *VFS) streamsGetattr(rest string) (Stat, syscall.Errno) {
	if rest == "/" {
		return Stat{IsDir: true, Mode: modeDir, ModTime: time.Now()}, 0
	}
	return Stat{Mode: modeFIFO, ModTime: time.Now()}, 0
}

func (v *VFS) streamsReaddir() ([]DirEntry, syscall.Errno) {
	var entries []DirEntry
	for _, name := range v.hub.Names() {
		entries = append(entries, DirEntry{Name: name})
	}
	return entries, 0
}

func (v *VFS) streamsRead(rest string) ([]byte, syscall.Errno) {
	name := strings.TrimPrefix(rest, "/")
	msg, ok := v.hub.Dequeue(name)
	if !ok {
		return []byte{}, 0
	}
	return jsonBytes(msg), 0
}

func (v *VFS) streamsWrite(sessionID, rest string, data []byte) (int, syscall.Errno) {
	name := strings.TrimPrefix(rest, "/")
	sess, errno := v.authorize(sessionID, "streams", "/streams/"+name, true)
	if errno != 0 {
		return 0, errno
	}
	v.hub.Publish(context.Background(), name, map[string]any{"agent": sess.AgentID, "data": string(data)})
	return len(data), 0
}

// --- debug/ -------------------------------------------------------------

var debugFiles = []string{"health.json", "cache_stats.json", "performance.json"}

func (v *VFS) debugGetattr(rest string) (Stat, syscall.Errno) {
	if rest == "/" {
		return Stat{IsDir: true, Mode: modeDir, ModTime: time.Now()}, 0
	}
	name := strings.TrimPrefix(rest, "/")
	for _, f := range debugFiles {
		if f == name {
			return Stat{Mode: modeReadOnly, ModTime: time.Now()}, 0
		}
	}
	return Stat{}, syscall.ENOENT
}

func (v *VFS) debugReaddir() ([]DirEntry, syscall.Errno) {
	entries := make([]DirEntry, 0, len(debugFiles))
	for _, f := range debugFiles {
		entries = append(entries, DirEntry{Name: f})
	}
	return entries, 0
}

func (v *VFS) debugRead(rest string) ([]byte, syscall.Errno) {
	name := strings.TrimPrefix(rest, "/")
	switch name {
	case "health.json":
		return jsonBytes(map[string]any{"status": "ok", "uptime": time.Now().Format(time.RFC3339)}), 0
	case "cache_stats.json":
		return jsonBytes(map[string]any{"audit_entries": v.sessions.Audit().Len()}), 0
	case "performance.json":
		return jsonBytes(map[string]any{"version": v.agg.Version()}), 0
	default:
		return nil, syscall.ENOENT
	}
}

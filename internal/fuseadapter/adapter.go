// Package fuseadapter binds internal/vfs to go-fuse, the way teacher's
// pkg/fuse bound the Linear client to go-fuse: one fs.Inode per path,
// with Getattr/Readdir/Open/Read/Write delegating into the shared
// store. Unlike teacher's per-section node types (StateDirectoryNode,
// TeamDirectoryNode, IssueFileNode), internal/vfs already dispatches
// arbitrary-depth paths itself, so one generic Node recursing on
// accumulated path covers every section.
package fuseadapter

import (
	"context"
	"log"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/cmdhub/cmdhub/internal/vfs"
)

// Node is the single fs.Inode implementation used for every path in
// the tree; vfsPath is the accumulated path from the mount root.
type Node struct {
	fs.Inode
	v         *vfs.VFS
	sessionID string
	vfsPath   string
	debug     bool
}

var _ = (fs.NodeGetattrer)((*Node)(nil))
var _ = (fs.NodeReaddirer)((*Node)(nil))
var _ = (fs.NodeLookuper)((*Node)(nil))
var _ = (fs.NodeOpener)((*Node)(nil))
var _ = (fs.NodeReader)((*Node)(nil))
var _ = (fs.NodeWriter)((*Node)(nil))

// Root builds the mount's root node. sessionID is the handshake
// session used to authorize every VFS call the mount makes — per
// spec.md §4.9, the mount-level session is distinct from the agents
// that connect to the streams/ and context/ sections over the wire.
func Root(v *vfs.VFS, sessionID string, debug bool) *Node {
	return &Node{v: v, sessionID: sessionID, vfsPath: "/", debug: debug}
}

func (n *Node) child(name string) string {
	if n.vfsPath == "/" {
		return "/" + name
	}
	return n.vfsPath + "/" + name
}

func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	stat, errno := n.v.Getattr(ctx, n.sessionID, n.vfsPath)
	if errno != 0 {
		if n.debug {
			log.Printf("Getattr(%s) = %v", n.vfsPath, errno)
		}
		return errno
	}
	out.Size = uint64(stat.Size)
	out.Mtime = uint64(stat.ModTime.Unix())
	if stat.IsDir {
		out.Mode = fuse.S_IFDIR | stat.Mode
	} else {
		out.Mode = fuse.S_IFREG | stat.Mode
	}
	return fs.OK
}

func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, errno := n.v.Readdir(ctx, n.sessionID, n.vfsPath)
	if errno != 0 {
		if n.debug {
			log.Printf("Readdir(%s) = %v", n.vfsPath, errno)
		}
		return nil, errno
	}
	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := uint32(fuse.S_IFREG)
		if e.IsDir {
			mode = fuse.S_IFDIR
		}
		out = append(out, fuse.DirEntry{Name: e.Name, Mode: mode})
	}
	return fs.NewListDirStream(out), fs.OK
}

func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := n.child(name)
	stat, errno := n.v.Getattr(ctx, n.sessionID, childPath)
	if errno != 0 {
		return nil, errno
	}
	mode := uint32(fuse.S_IFREG)
	if stat.IsDir {
		mode = fuse.S_IFDIR
	}
	child := &Node{v: n.v, sessionID: n.sessionID, vfsPath: childPath, debug: n.debug}
	inode := n.NewInode(ctx, child, fs.StableAttr{Mode: mode})
	return inode, fs.OK
}

func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return nil, fuse.FOPEN_DIRECT_IO, fs.OK
}

func (n *Node) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	content, errno := n.v.Read(ctx, n.sessionID, n.vfsPath, int64(len(dest)), off)
	if errno != 0 {
		return nil, errno
	}
	return fuse.ReadResultData(content), fs.OK
}

func (n *Node) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	written, errno := n.v.Write(ctx, n.sessionID, n.vfsPath, data, off)
	if errno != 0 {
		return 0, errno
	}
	return uint32(written), fs.OK
}

// Mount mounts the VFS at mountpoint using sessionID for every
// subsequent operation, mirroring teacher's LinearFS.Mount.
func Mount(mountpoint string, v *vfs.VFS, sessionID string, debug bool) (*fuse.Server, error) {
	root := Root(v, sessionID, debug)
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:   "cmdhub",
			FsName: "cmdhub",
			Debug:  debug,
		},
	}
	return fs.Mount(mountpoint, root, opts)
}

// internal/archivefs/fs.go

// Package archivefs projects a decoded archive as a POSIX-style
// read-only file system. Mutators do not exist on the interface;
// adapters that must answer write-shaped calls return ErrReadOnly.
package archivefs

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/megfs/meg/internal/core"
	"github.com/megfs/meg/internal/format"
)

// MaxLinkDepth bounds symlink resolution to terminate cyclic chains.
const MaxLinkDepth = 40

// NodeType classifies what a path resolves to.
type NodeType int

const (
	TypeNotFound NodeType = iota
	TypeFile
	TypeDirectory
	TypeLink
	TypePipe
	TypeSocket
)

// String returns the string representation of the node type.
func (t NodeType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDirectory:
		return "directory"
	case TypeLink:
		return "link"
	case TypePipe:
		return "pipe"
	case TypeSocket:
		return "unix-socket"
	default:
		return "not-found"
	}
}

// Stat describes a path inside the archive.
type Stat struct {
	Path     string
	Size     int64
	Type     NodeType
	Mode     uint32
	Modified *time.Time
	Accessed *time.Time
	Changed  *time.Time
}

// FS is a read-only file-system view over an archive.
type FS struct {
	archive *format.Archive
}

// New builds an FS over a decoded archive.
func New(archive *format.Archive) *FS {
	return &FS{archive: archive}
}

// Archive returns the underlying archive.
func (f *FS) Archive() *format.Archive {
	return f.archive
}

// normalize maps request paths onto entry paths: POSIX separators,
// absolute paths by stripping the leading slash.
func normalize(p string) string {
	p = strings.TrimPrefix(p, "/")
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return p
}

// Stat returns metadata for a path. A path that is a strict prefix of
// entry paths resolves to a synthetic directory stat aggregated over its
// children.
func (f *FS) Stat(p string) (Stat, error) {
	p = normalize(p)

	if entry, ok := f.archive.Entry(p); ok {
		return entryStat(entry), nil
	}

	// Synthetic directory: aggregate over children.
	var (
		found    bool
		size     int64
		modified *time.Time
		accessed *time.Time
		changed  *time.Time
	)
	prefix := p + "/"
	if p == "" {
		prefix = ""
	}
	for _, entry := range f.archive.Entries {
		if !strings.HasPrefix(entry.Path, prefix) {
			continue
		}
		found = true
		size += entry.Size
		modified = maxTime(modified, entry.Modified)
		accessed = maxTime(accessed, entry.Accessed)
		changed = maxTime(changed, entry.Created)
	}
	if !found {
		return Stat{}, core.WrapError(core.ErrEntryNotFound, fmt.Errorf("stat %s", p))
	}
	return Stat{
		Path:     p,
		Size:     size,
		Type:     TypeDirectory,
		Mode:     0o755,
		Modified: modified,
		Accessed: accessed,
		Changed:  changed,
	}, nil
}

// Type reports what a path resolves to. With followLinks, link entries
// are chased up to MaxLinkDepth hops; a longer chain reports not-found.
func (f *FS) Type(p string, followLinks bool) NodeType {
	t, err := f.typeAt(normalize(p), followLinks, 0)
	if err != nil {
		return TypeNotFound
	}
	return t
}

func (f *FS) typeAt(p string, followLinks bool, depth int) (NodeType, error) {
	if depth > MaxLinkDepth {
		return TypeNotFound, core.WrapError(core.ErrLoopDetected, fmt.Errorf("resolving %s", p))
	}

	entry, ok := f.archive.Entry(p)
	if !ok {
		if f.hasChildren(p) {
			return TypeDirectory, nil
		}
		return TypeNotFound, nil
	}

	switch entry.Kind {
	case format.KindDir:
		return TypeDirectory, nil
	case format.KindSymlink:
		if !followLinks {
			return TypeLink, nil
		}
		return f.typeAt(f.resolveTarget(entry), true, depth+1)
	case format.KindFifo:
		return TypePipe, nil
	case format.KindSocket:
		return TypeSocket, nil
	default:
		return TypeFile, nil
	}
}

// List yields entries under p. Without recursion, immediate sub-paths
// with no explicit entry are synthesized as directories. With
// followLinks, link entries are dereferenced before yielding.
func (f *FS) List(p string, recursive, followLinks bool) ([]Stat, error) {
	p = normalize(p)
	prefix := p + "/"
	if p == "" {
		prefix = ""
	}

	var stats []Stat
	seenDirs := make(map[string]bool)

	for _, entry := range f.archive.Entries {
		if !strings.HasPrefix(entry.Path, prefix) || entry.Path == p {
			continue
		}
		rest := strings.TrimPrefix(entry.Path, prefix)

		if !recursive {
			if i := strings.IndexByte(rest, '/'); i >= 0 {
				// Entry lives deeper; synthesize its immediate parent
				// unless an explicit entry exists.
				child := prefix + rest[:i]
				if seenDirs[child] {
					continue
				}
				seenDirs[child] = true
				if _, ok := f.archive.Entry(child); ok {
					continue
				}
				st, err := f.Stat(child)
				if err != nil {
					return nil, err
				}
				stats = append(stats, st)
				continue
			}
		}

		resolved := entry
		if followLinks && entry.Kind == format.KindSymlink {
			if target, ok := f.chase(entry); ok {
				resolved = target
			}
		}
		st := entryStat(resolved)
		st.Path = entry.Path
		stats = append(stats, st)
	}

	if len(stats) == 0 && p != "" {
		if _, ok := f.archive.Entry(p); !ok && !f.hasChildren(p) {
			return nil, core.WrapError(core.ErrEntryNotFound, fmt.Errorf("list %s", p))
		}
	}

	sort.Slice(stats, func(a, b int) bool { return stats[a].Path < stats[b].Path })
	return stats, nil
}

// Read returns the file bytes at p.
func (f *FS) Read(p string) ([]byte, error) {
	p = normalize(p)
	entry, ok := f.archive.Entry(p)
	if !ok {
		return nil, core.WrapError(core.ErrEntryNotFound, fmt.Errorf("read %s", p))
	}
	if entry.Kind == format.KindSymlink {
		target, ok := f.chase(entry)
		if !ok {
			return nil, core.WrapError(core.ErrEntryNotFound, fmt.Errorf("read %s: broken link", p))
		}
		entry = target
	}
	if entry.Kind != format.KindFile {
		return nil, core.WrapError(core.ErrEntryNotFound, fmt.Errorf("read %s: not a file (%s)", p, entry.Kind))
	}
	return entry.Data, nil
}

// ResolveLink returns the normalized target path of a link entry,
// joined against the entry's directory.
func (f *FS) ResolveLink(entry *format.Entry) string {
	return f.resolveTarget(entry)
}

func (f *FS) resolveTarget(entry *format.Entry) string {
	target := entry.LinkTarget()
	if strings.HasPrefix(target, "/") {
		return normalize(target)
	}
	return normalize(path.Join(path.Dir(entry.Path), target))
}

// chase follows a symlink chain to its final non-link entry, bounded by
// MaxLinkDepth.
func (f *FS) chase(entry *format.Entry) (*format.Entry, bool) {
	current := entry
	for depth := 0; depth <= MaxLinkDepth; depth++ {
		if current.Kind != format.KindSymlink {
			return current, true
		}
		next, ok := f.archive.Entry(f.resolveTarget(current))
		if !ok {
			return nil, false
		}
		current = next
	}
	return nil, false
}

func (f *FS) hasChildren(p string) bool {
	prefix := p + "/"
	for _, entry := range f.archive.Entries {
		if strings.HasPrefix(entry.Path, prefix) {
			return true
		}
	}
	return false
}

func entryStat(entry *format.Entry) Stat {
	st := Stat{
		Path:     entry.Path,
		Size:     entry.Size,
		Mode:     entry.Mode,
		Modified: entry.Modified,
		Accessed: entry.Accessed,
		Changed:  entry.Created,
	}
	switch entry.Kind {
	case format.KindDir:
		st.Type = TypeDirectory
	case format.KindSymlink:
		st.Type = TypeLink
	case format.KindFifo:
		st.Type = TypePipe
	case format.KindSocket:
		st.Type = TypeSocket
	default:
		st.Type = TypeFile
	}
	return st
}

func maxTime(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil || b.Before(*a) {
		return a
	}
	return b
}

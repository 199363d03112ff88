package engine

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"crunchkv/internal/cache"
	"crunchkv/manifest"
	"crunchkv/sstable"
)

func tableFileName(fileNum uint64) string {
	return fmt.Sprintf("%06d.sst", fileNum)
}

// tableHandle pairs a table's metadata with its open reader. Handles are
// shared across versions and reference counted: when the last version
// holding one is released the reader is closed, and the file is deleted if
// a transition has retired it.
type tableHandle struct {
	meta     manifest.TableMeta
	reader   *sstable.Reader
	path     string
	refs     atomic.Int32
	obsolete atomic.Bool
	logger   *slog.Logger
}

func (h *tableHandle) ref() { h.refs.Add(1) }

func (h *tableHandle) unref() {
	if h.refs.Add(-1) != 0 {
		return
	}
	if err := h.reader.Close(); err != nil {
		h.logger.Warn("closing table reader", "file", h.path, "error", err)
	}
	if h.obsolete.Load() {
		if err := os.Remove(h.path); err != nil {
			h.logger.Warn("removing retired table", "file", h.path, "error", err)
		} else {
			h.logger.Debug("removed retired table", "file", h.path)
		}
	}
}

// Version is an immutable snapshot of the table tree. Readers hold a
// reference for the duration of a lookup, which keeps every table file the
// version names alive even while transitions retire them.
type Version struct {
	// levels[0] is ordered newest table first; deeper levels are sorted by
	// MinKey and never overlap.
	levels [][]*tableHandle
	refs   atomic.Int32
}

func (v *Version) ref() { v.refs.Add(1) }

func (v *Version) unref() {
	if v.refs.Add(-1) != 0 {
		return
	}
	for _, level := range v.levels {
		for _, h := range level {
			h.unref()
		}
	}
}

// get returns the newest record any table holds for userKey. Level 0 is
// probed newest table first; deeper levels hold at most one candidate each
// and are probed top down, so the first hit is always the newest version.
func (v *Version) get(userKey []byte) (sstable.Lookup, bool, error) {
	for _, h := range v.levels[0] {
		l, ok, err := h.reader.Get(userKey)
		if err != nil {
			return sstable.Lookup{}, false, err
		}
		if ok {
			return l, true, nil
		}
	}

	for level := 1; level < len(v.levels); level++ {
		tables := v.levels[level]
		i := sort.Search(len(tables), func(i int) bool {
			return bytes.Compare(userKey, tables[i].meta.MaxKey) <= 0
		})
		if i == len(tables) || bytes.Compare(userKey, tables[i].meta.MinKey) < 0 {
			continue
		}

		l, ok, err := tables[i].reader.Get(userKey)
		if err != nil {
			return sstable.Lookup{}, false, err
		}
		if ok {
			return l, true, nil
		}
	}
	return sstable.Lookup{}, false, nil
}

// overlapping returns the tables at level whose key range intersects
// [minKey, maxKey].
func (v *Version) overlapping(level int, minKey, maxKey []byte) []*tableHandle {
	var out []*tableHandle
	for _, h := range v.levels[level] {
		if bytes.Compare(h.meta.MaxKey, minKey) < 0 || bytes.Compare(h.meta.MinKey, maxKey) > 0 {
			continue
		}
		out = append(out, h)
	}
	return out
}

// versionEdit is one atomic-looking transition: tables added, tables
// retired, and optionally a WAL rotation point.
type versionEdit struct {
	adds      []manifest.TableMeta
	removes   []manifest.RemoveTable
	walRotate *uint64
}

// versionSet owns the current Version, the manifest log behind it, and
// table file numbering.
type versionSet struct {
	dir       string
	logger    *slog.Logger
	blocks    cache.Cache
	maxLevels int

	mu          sync.Mutex
	current     *Version
	log         *manifest.Log
	nextFileNum uint64
	walRotate   uint64
}

// acquireCurrent returns the current version with a reference held, or nil
// once the set is closed. The caller must unref when done.
func (vs *versionSet) acquireCurrent() *Version {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.current == nil {
		return nil
	}
	vs.current.ref()
	return vs.current
}

// nextFile allocates a table file number.
func (vs *versionSet) nextFile() uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	n := vs.nextFileNum
	vs.nextFileNum++
	return n
}

func (vs *versionSet) rotatePoint() uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.walRotate
}

// logAndApply durably records edit in the manifest, then installs a new
// current version reflecting it. Added tables are opened before anything is
// logged, so a failure to open leaves both the manifest and the current
// version untouched. If a manifest append fails partway through, the
// current version is left untouched and no file is deleted: records already
// written may durably reference the added files, and the next open
// reconciles the directory against whatever prefix of the edit landed.
func (vs *versionSet) logAndApply(edit versionEdit) error {
	added := make([]*tableHandle, 0, len(edit.adds))
	releaseAdded := func() {
		for _, opened := range added {
			opened.reader.Close()
		}
	}

	for _, meta := range edit.adds {
		h, err := vs.openHandle(meta)
		if err != nil {
			releaseAdded()
			return err
		}
		added = append(added, h)
	}

	vs.mu.Lock()
	defer vs.mu.Unlock()

	for _, meta := range edit.adds {
		if err := vs.log.Append(manifest.AddTable{Table: meta}); err != nil {
			releaseAdded()
			return err
		}
	}
	for _, rm := range edit.removes {
		if err := vs.log.Append(rm); err != nil {
			releaseAdded()
			return err
		}
	}
	if edit.walRotate != nil {
		if err := vs.log.Append(manifest.WALRotate{SegmentID: *edit.walRotate}); err != nil {
			releaseAdded()
			return err
		}
		if *edit.walRotate > vs.walRotate {
			vs.walRotate = *edit.walRotate
		}
	}

	removed := make(map[uint64]bool, len(edit.removes))
	for _, rm := range edit.removes {
		removed[rm.FileNum] = true
	}

	next := &Version{levels: make([][]*tableHandle, vs.maxLevels)}
	for level, tables := range vs.current.levels {
		for _, h := range tables {
			if removed[h.meta.FileNum] {
				h.obsolete.Store(true)
				continue
			}
			next.levels[level] = append(next.levels[level], h)
		}
	}
	for _, h := range added {
		next.levels[h.meta.Level] = append(next.levels[h.meta.Level], h)
	}
	sortLevels(next.levels)

	for _, level := range next.levels {
		for _, h := range level {
			h.ref()
		}
	}
	next.ref()

	old := vs.current
	vs.current = next
	old.unref()
	return nil
}

func (vs *versionSet) openHandle(meta manifest.TableMeta) (*tableHandle, error) {
	path := filepath.Join(vs.dir, tableFileName(meta.FileNum))
	reader, err := sstable.NewReader(path, meta.FileNum, vs.blocks)
	if err != nil {
		return nil, err
	}
	return &tableHandle{meta: meta, reader: reader, path: path, logger: vs.logger}, nil
}

func (vs *versionSet) close() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.current.unref()
	vs.current = nil
	return vs.log.Close()
}

// sortLevels keeps level 0 newest first and deeper levels ordered by key
// range.
func sortLevels(levels [][]*tableHandle) {
	sort.Slice(levels[0], func(i, j int) bool {
		a, b := levels[0][i].meta, levels[0][j].meta
		if a.MaxSeq != b.MaxSeq {
			return a.MaxSeq > b.MaxSeq
		}
		return a.FileNum > b.FileNum
	})
	for level := 1; level < len(levels); level++ {
		tables := levels[level]
		sort.Slice(tables, func(i, j int) bool {
			return bytes.Compare(tables[i].meta.MinKey, tables[j].meta.MinKey) < 0
		})
	}
}

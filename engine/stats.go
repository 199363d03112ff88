package engine

// LevelStats describes one level of the table tree.
type LevelStats struct {
	Level  int
	Tables int
	Bytes  int64
}

// Stats is a point-in-time snapshot of store state.
type Stats struct {
	// Seq is the last assigned sequence number.
	Seq uint64

	MemtableEntries int
	MemtableBytes   int64

	// SealedMemtables is the number of memtables waiting to be flushed.
	SealedMemtables int

	Levels []LevelStats
}

// Stats reports the current shape of the store.
func (db *DB) Stats() Stats {
	db.wmu.Lock()
	seq := db.seq
	db.wmu.Unlock()

	db.mu.Lock()
	mem := db.mem
	sealed := len(db.imm)
	db.mu.Unlock()

	s := Stats{
		Seq:             seq,
		MemtableEntries: mem.Len(),
		MemtableBytes:   mem.ApproximateBytes(),
		SealedMemtables: sealed,
	}

	v := db.vs.acquireCurrent()
	if v == nil {
		return s
	}
	defer v.unref()

	for level, tables := range v.levels {
		if len(tables) == 0 {
			continue
		}
		s.Levels = append(s.Levels, LevelStats{
			Level:  level,
			Tables: len(tables),
			Bytes:  levelBytes(tables),
		})
	}
	return s
}

package engine

import "time"

// compactor is the background control loop. It wakes on a timer, or early
// when a flush lands new level-0 tables, and keeps compacting while each
// pass makes progress.
type compactor struct {
	db      *DB
	trigger chan struct{}
	stop    chan struct{}
	done    chan struct{}
	started bool
}

func newCompactor(db *DB) *compactor {
	return &compactor{
		db:      db,
		trigger: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (c *compactor) start() {
	c.started = true
	go c.loop()
}

func (c *compactor) loop() {
	defer close(c.done)

	ticker := time.NewTicker(c.db.cfg.CompactionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		case <-c.trigger:
		}

		for c.db.compactOnce() {
			select {
			case <-c.stop:
				return
			default:
			}
		}
	}
}

// nudge wakes the loop without blocking. A wakeup already pending is
// enough.
func (c *compactor) nudge() {
	if !c.started {
		return
	}
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

func (c *compactor) close() {
	if !c.started {
		return
	}
	close(c.stop)
	<-c.done
}

// Package apply turns the unordered stream of remote and local diffs into
// ordered registry mutations at tick boundaries.
package apply

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/scaleworld/client/internal/entity"
)

// ErrStaleReference marks a diff that referenced an entity which never
// resolved: it waited one full epoch for a create that did not arrive.
var ErrStaleReference = errors.New("apply: stale entity reference")

// Origin identifies where a diff came from so rejections can be surfaced
// back to the party responsible for rebase and retry. The applier itself
// never retries.
type Origin interface {
	Rejected(d entity.Diff, err error)
}

// Publisher receives locally originated diffs once they commit, for
// publication to remote peers.
type Publisher interface {
	Publish(d entity.Diff) error
}

// Recorder receives every committed diff. Used by the optional journal.
type Recorder interface {
	RecordApplied(d entity.Diff, version uint64)
}

// dedupWindow bounds the redelivery-suppression fingerprint ring. The sync
// channel is at-least-once; without this, every redelivered diff would
// surface as a spurious version conflict.
const dedupWindow = 1024

type queued struct {
	diff     entity.Diff
	origin   Origin
	local    bool
	deferred bool // already waited one epoch for its entity
}

// Applier consumes diffs and commits them to the registry at tick
// boundaries. Ingest is callable from any goroutine (network callbacks land
// between ticks); DrainAndApply runs on the tick goroutine only.
type Applier struct {
	mu     sync.Mutex
	queues map[string][]queued // per-entity FIFO, arrival order

	reg      *entity.Registry
	pub      Publisher
	recorder Recorder
	log      *zap.Logger

	seen     map[uint64]struct{}
	seenRing []uint64
	seenPos  int

	stats Stats
}

// Stats counts drain outcomes since startup.
type Stats struct {
	Applied      uint64
	Rejected     uint64
	StaleDropped uint64
	Deduped      uint64
}

func NewApplier(reg *entity.Registry, log *zap.Logger) *Applier {
	return &Applier{
		queues:   make(map[string][]queued),
		reg:      reg,
		log:      log,
		seen:     make(map[uint64]struct{}, dedupWindow),
		seenRing: make([]uint64, dedupWindow),
	}
}

// SetPublisher wires the outbound side of the sync channel. Accepted local
// diffs are published; remote diffs never echo back.
func (a *Applier) SetPublisher(pub Publisher) { a.pub = pub }

// SetRecorder wires the optional diff journal.
func (a *Applier) SetRecorder(rec Recorder) { a.recorder = rec }

// Ingest enqueues a remote diff. Never blocks and never touches the
// registry; ordering is preserved per entity, unspecified across entities.
func (a *Applier) Ingest(d entity.Diff, origin Origin) {
	a.enqueue(queued{diff: d, origin: origin})
}

// IngestLocal enqueues a locally originated diff. On acceptance it is
// published to remote peers through the configured Publisher.
func (a *Applier) IngestLocal(d entity.Diff, origin Origin) {
	a.enqueue(queued{diff: d, origin: origin, local: true})
}

func (a *Applier) enqueue(q queued) {
	a.mu.Lock()
	a.queues[q.diff.EntityID] = append(a.queues[q.diff.EntityID], q)
	a.mu.Unlock()
}

// Pending returns the number of queued diffs across all entities.
func (a *Applier) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, q := range a.queues {
		n += len(q)
	}
	return n
}

// Snapshot of the drain counters.
func (a *Applier) Stats() Stats { return a.stats }

// DrainAndApply commits all queued diffs. Per entity, diffs apply in arrival
// order and the queue short-circuits at the first version mismatch — nothing
// after a conflicted diff is attempted, because it was computed against a
// state the registry no longer holds. Diffs for unknown entities wait one
// epoch for an out-of-order create, then drop as stale references.
func (a *Applier) DrainAndApply() {
	a.mu.Lock()
	batch := a.queues
	a.queues = make(map[string][]queued, len(batch))
	a.mu.Unlock()

	var redeferred []queued
	for id, queue := range batch {
		redeferred = append(redeferred, a.applyEntityQueue(id, queue)...)
	}
	if len(redeferred) > 0 {
		// Deferred diffs arrived before anything ingested during this
		// drain, so they go to the front of their entity's queue.
		a.mu.Lock()
		for i := len(redeferred) - 1; i >= 0; i-- {
			q := redeferred[i]
			a.queues[q.diff.EntityID] = append([]queued{q}, a.queues[q.diff.EntityID]...)
		}
		a.mu.Unlock()
	}
}

// applyEntityQueue processes one entity's queue and returns diffs deferred
// to the next epoch.
func (a *Applier) applyEntityQueue(id string, queue []queued) []queued {
	queue = hoistCreate(a.reg, id, queue)
	var deferred []queued
	for i := 0; i < len(queue); i++ {
		q := queue[i]
		fp := q.diff.Fingerprint()
		if _, dup := a.seen[fp]; dup {
			a.stats.Deduped++
			continue
		}

		var err error
		switch q.diff.Op {
		case entity.OpCreate:
			_, err = a.reg.Create(*q.diff.Record)
		case entity.OpUpdate, entity.OpDelete:
			if !a.reg.Has(id) {
				// Tolerate create/update reordering: park this diff for
				// one epoch so a late create (possibly later in this very
				// queue) can land first. A diff that already waited its
				// epoch is a stale reference.
				if q.deferred {
					a.dropStale(q)
					continue
				}
				q.deferred = true
				deferred = append(deferred, q)
				continue
			}
			if q.diff.Op == entity.OpUpdate {
				err = a.reg.ApplyDiff(q.diff)
			} else {
				err = a.reg.Delete(id)
			}
		default:
			err = ErrStaleReference
		}

		switch {
		case err == nil:
			a.committed(q, fp)
		case entity.IsVersionConflict(err):
			// Short-circuit: everything after the conflict was computed
			// against a state the registry no longer holds.
			for j := i; j < len(queue); j++ {
				a.reject(queue[j], err)
			}
			return deferred
		default:
			a.reject(q, err)
		}
	}
	return deferred
}

// hoistCreate moves the first create in the queue to the front when the
// entity is not yet registered. Updates that raced ahead of their create on
// the wire then apply against the freshly created record instead of waiting
// an epoch for it.
func hoistCreate(reg *entity.Registry, id string, queue []queued) []queued {
	if reg.Has(id) {
		return queue
	}
	for i, q := range queue {
		if q.diff.Op == entity.OpCreate {
			if i == 0 {
				return queue
			}
			reordered := make([]queued, 0, len(queue))
			reordered = append(reordered, q)
			reordered = append(reordered, queue[:i]...)
			reordered = append(reordered, queue[i+1:]...)
			return reordered
		}
	}
	return queue
}

func (a *Applier) committed(q queued, fp uint64) {
	a.stats.Applied++
	a.remember(fp)
	if a.recorder != nil {
		version := uint64(0)
		if v, err := a.reg.Version(q.diff.EntityID); err == nil {
			version = v
		}
		a.recorder.RecordApplied(q.diff, version)
	}
	if q.local && a.pub != nil {
		if err := a.pub.Publish(q.diff); err != nil {
			a.log.Warn("publish of committed local diff failed",
				zap.String("entity", q.diff.EntityID),
				zap.Error(err))
		}
	}
}

func (a *Applier) reject(q queued, err error) {
	a.stats.Rejected++
	if q.origin != nil {
		q.origin.Rejected(q.diff, err)
	} else {
		a.log.Warn("diff rejected with no origin to notify",
			zap.String("entity", q.diff.EntityID),
			zap.String("op", string(q.diff.Op)),
			zap.Error(err))
	}
}

func (a *Applier) dropStale(q queued) {
	a.stats.StaleDropped++
	a.log.Warn("dropping diff for entity that never resolved",
		zap.String("entity", q.diff.EntityID),
		zap.String("op", string(q.diff.Op)))
	if q.origin != nil {
		q.origin.Rejected(q.diff, ErrStaleReference)
	}
}

// remember adds a fingerprint to the bounded dedup ring, evicting the
// oldest entry once full.
func (a *Applier) remember(fp uint64) {
	old := a.seenRing[a.seenPos]
	if old != 0 {
		delete(a.seen, old)
	}
	a.seenRing[a.seenPos] = fp
	a.seen[fp] = struct{}{}
	a.seenPos = (a.seenPos + 1) % len(a.seenRing)
}

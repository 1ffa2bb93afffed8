// Package place turns user placement intents into diffs and drives the
// async asset load that flips a record from pending to live.
package place

import (
	"context"
	"errors"
	"net/url"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scaleworld/client/internal/apply"
	"github.com/scaleworld/client/internal/backoff"
	"github.com/scaleworld/client/internal/catalog"
	"github.com/scaleworld/client/internal/core/event"
	"github.com/scaleworld/client/internal/entity"
	"github.com/scaleworld/client/internal/transport"
)

// assetMeta is what the back-end returns for an asset load; the client only
// needs the terrain-snapped elevation.
type assetMeta struct {
	ElevationM float64 `json:"elevation_m"`
	SizeBytes  int64   `json:"size_bytes"`
}

const assetRetries = 3

// Service is the UI layer's write path. Intents become diffs through the
// applier — placement never touches the registry directly, keeping the one
// mutation discipline for local and remote writers alike.
type Service struct {
	applier   *apply.Applier
	catalog   *catalog.Table
	transport transport.Client
	retry     backoff.Config
	log       *zap.Logger

	mu          stdsync.Mutex
	completions map[string]struct{} // entities with an in-flight pending-clear
}

func NewService(applier *apply.Applier, cat *catalog.Table, tr transport.Client,
	retry backoff.Config, bus *event.Bus, log *zap.Logger) *Service {

	s := &Service{
		applier:     applier,
		catalog:     cat,
		transport:   tr,
		retry:       retry,
		log:         log,
		completions: make(map[string]struct{}),
	}
	// Once the registry reports the entity live, the completion is done and
	// its diff needs no further rebasing.
	bus.SubscribeLive(func(ev event.Live) {
		s.mu.Lock()
		delete(s.completions, ev.ID)
		s.mu.Unlock()
	})
	return s
}

// Place creates an entity of the named catalog type. The record starts
// pending when its template names an asset; the returned id is usable
// immediately for Move/Remove even while the load is in flight.
func (s *Service) Place(ctx context.Context, typeName string, pos, rot entity.Vec3) (string, error) {
	tmpl := s.catalog.Get(typeName)
	if tmpl == nil {
		return "", entity.ErrNotFound
	}
	id := uuid.NewString()
	rec := entity.Record{
		ID:       id,
		Kind:     tmpl.Kind,
		Position: pos,
		Rotation: rot,
		Scale:    tmpl.Scale,
		Payload:  tmpl.Payload(),
		Pending:  tmpl.AssetURI != "",
	}
	s.applier.IngestLocal(entity.Diff{Op: entity.OpCreate, EntityID: id, Record: &rec}, s)
	if rec.Pending {
		s.mu.Lock()
		s.completions[id] = struct{}{}
		s.mu.Unlock()
		go s.loadAsset(ctx, id, tmpl.AssetURI)
	}
	return id, nil
}

// Move submits a position diff. baseVersion comes from the snapshot the UI
// rendered; a stale one is rejected and the UI rebases from a fresh
// snapshot.
func (s *Service) Move(id string, baseVersion uint64, pos entity.Vec3) {
	s.applier.IngestLocal(entity.Diff{
		Op:          entity.OpUpdate,
		EntityID:    id,
		BaseVersion: baseVersion,
		Fields:      entity.FieldSet{Position: &pos},
	}, s)
}

// Remove submits a delete diff.
func (s *Service) Remove(id string) {
	s.applier.IngestLocal(entity.Diff{Op: entity.OpDelete, EntityID: id}, s)
}

// loadAsset fetches asset metadata, then submits the pending-clear diff.
// A dead back-end costs the placeholder: after the retries run out the
// record is deleted rather than left permanently pending.
func (s *Service) loadAsset(ctx context.Context, id, assetURI string) {
	var meta assetMeta
	var err error
	for attempt := 1; attempt <= assetRetries; attempt++ {
		err = s.transport.FetchJSON(ctx, "assets/meta", url.Values{"uri": {assetURI}}, &meta)
		if err == nil {
			s.submitPendingClear(id, 0)
			return
		}
		select {
		case <-time.After(backoff.Delay(s.retry, attempt, nil)):
		case <-ctx.Done():
			return
		}
	}
	s.log.Warn("asset load failed, removing placeholder",
		zap.String("entity", id),
		zap.String("asset", assetURI),
		zap.Error(err))
	s.mu.Lock()
	delete(s.completions, id)
	s.mu.Unlock()
	s.Remove(id)
}

func (s *Service) submitPendingClear(id string, baseVersion uint64) {
	live := false
	s.applier.IngestLocal(entity.Diff{
		Op:          entity.OpUpdate,
		EntityID:    id,
		BaseVersion: baseVersion,
		Fields:      entity.FieldSet{Pending: &live},
	}, s)
}

// Rejected implements apply.Origin. Pending-clear diffs rebase and resubmit
// against the version the conflict reported — the only field they touch is
// the pending flag, so the rebase is trivial. Everything else is the UI's to
// retry from a fresh snapshot.
func (s *Service) Rejected(d entity.Diff, err error) {
	if d.Fields.Pending != nil && !*d.Fields.Pending {
		s.mu.Lock()
		_, inflight := s.completions[d.EntityID]
		s.mu.Unlock()
		var vc *entity.VersionConflictError
		if inflight && errors.As(err, &vc) {
			s.submitPendingClear(d.EntityID, vc.Current)
			return
		}
	}
	s.log.Debug("local diff rejected",
		zap.String("entity", d.EntityID),
		zap.String("op", string(d.Op)),
		zap.Error(err))
}

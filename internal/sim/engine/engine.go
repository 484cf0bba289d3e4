// Package engine owns the lifecycle of in-progress blueprint builds: one
// live plan per actor, batched continuation through the geometry validator,
// durable persistence with optimistic versioning, and restart recovery.
package engine

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"monworld.ai/internal/protocol"
	"monworld.ai/internal/sim/catalogs"
	"monworld.ai/internal/sim/compiler"
	"monworld.ai/internal/sim/economy"
	"monworld.ai/internal/sim/shapes"
	"monworld.ai/internal/sim/tuning"
)

// PlanStore persists build plans. Upsert enforces optimistic concurrency:
// expectVersion 0 means "must not exist yet"; otherwise the stored version
// must match or ErrVersionConflict is returned.
type PlanStore interface {
	Upsert(actorID string, p Plan, expectVersion uint64) (uint64, error)
	Delete(actorID string) error
	LoadActiveWithin(ttl time.Duration) ([]StoredPlan, error)
	PurgeOlder(ttl time.Duration) (int, error)
}

// PrimitiveStore is the shared, append-mostly world state the validator
// reads.
type PrimitiveStore interface {
	AllNear(pos shapes.Vec3, radius float64) ([]shapes.Primitive, error)
	Append(p shapes.Primitive) error
}

// Placer performs the debit-and-append of one placement as a single
// transactional step. A refused debit is economy.ErrInsufficientCredits;
// any other error is a storage failure.
type Placer interface {
	PlacePrimitive(actorID string, cost int, p shapes.Primitive) error
}

// Locator supplies the actor's current position (an external collaborator;
// in this repo the ws presence registry).
type Locator interface {
	CurrentPosition(actorID string) (shapes.Vec3, bool)
}

type Config struct {
	Catalogs   *catalogs.Catalogs
	Tuning     tuning.Tuning
	Plans      PlanStore
	Primitives PrimitiveStore
	Placer     Placer
	Ledger     economy.Ledger
	Locator    Locator
	Sink       EventSink
	Logger     *log.Logger

	// Now is a test seam; defaults to time.Now.
	Now func() time.Time
}

type Engine struct {
	cfg Config

	mu     sync.Mutex
	actors map[string]*actorState

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// actorState serializes mutating calls per actor. Two concurrent continues
// racing on one plan would double-read the cursor and double-spend credits,
// so the lock is load-bearing, not defensive.
type actorState struct {
	mu   sync.Mutex
	plan *StoredPlan
}

func New(cfg Config) (*Engine, error) {
	if cfg.Catalogs == nil {
		return nil, fmt.Errorf("engine: nil catalogs")
	}
	if cfg.Plans == nil || cfg.Primitives == nil || cfg.Placer == nil {
		return nil, fmt.Errorf("engine: missing stores")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("engine: missing ledger")
	}
	if cfg.Sink == nil {
		cfg.Sink = NopSink{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Tuning.BatchSize <= 0 {
		cfg.Tuning.BatchSize = tuning.Defaults().BatchSize
	}

	e := &Engine{
		cfg:    cfg,
		actors: map[string]*actorState{},
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if err := e.recover(); err != nil {
		return nil, err
	}
	go e.sweepLoop()
	return e, nil
}

func (e *Engine) Close() error {
	e.stopOnce.Do(func() { close(e.stop) })
	<-e.done
	return nil
}

func (e *Engine) ttl() time.Duration {
	m := e.cfg.Tuning.PlanTTLMinutes
	if m <= 0 {
		m = tuning.Defaults().PlanTTLMinutes
	}
	return time.Duration(m) * time.Minute
}

// recover reloads every plan updated within the TTL window, rebuilding the
// per-actor reservation; older rows are purged as abandoned.
func (e *Engine) recover() error {
	ttl := e.ttl()
	if _, err := e.cfg.Plans.PurgeOlder(ttl); err != nil {
		return fmt.Errorf("purge abandoned plans: %w", err)
	}
	stored, err := e.cfg.Plans.LoadActiveWithin(ttl)
	if err != nil {
		return fmt.Errorf("load active plans: %w", err)
	}
	for i := range stored {
		sp := stored[i]
		e.actors[sp.Plan.ActorID] = &actorState{plan: &sp}
	}
	if e.cfg.Logger != nil && len(stored) > 0 {
		e.cfg.Logger.Printf("recovered %d active build plan(s)", len(stored))
	}
	return nil
}

func (e *Engine) sweepLoop() {
	defer close(e.done)
	m := e.cfg.Tuning.SweepEveryMinutes
	if m <= 0 {
		<-e.stop
		return
	}
	t := time.NewTicker(time.Duration(m) * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-t.C:
			e.sweep()
		}
	}
}

func (e *Engine) sweep() {
	ttl := e.ttl()
	if n, err := e.cfg.Plans.PurgeOlder(ttl); err != nil {
		if e.cfg.Logger != nil {
			e.cfg.Logger.Printf("plan sweep: %v", err)
		}
	} else if n > 0 && e.cfg.Logger != nil {
		e.cfg.Logger.Printf("plan sweep: purged %d abandoned plan(s)", n)
	}

	// Drop in-memory reservations whose rows the purge just removed. Entries
	// stay in the map so a concurrently handed-out actorState is never
	// orphaned.
	cutoff := e.cfg.Now().Add(-ttl)
	e.mu.Lock()
	for _, st := range e.actors {
		st.mu.Lock()
		if st.plan != nil && st.plan.UpdatedAt.Before(cutoff) {
			st.plan = nil
		}
		st.mu.Unlock()
	}
	e.mu.Unlock()
}

func (e *Engine) actor(actorID string) *actorState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.actors[actorID]
	if !ok {
		st = &actorState{}
		e.actors[actorID] = st
	}
	return st
}

// StartResult summarizes a freshly created plan. No pieces are placed yet.
type StartResult struct {
	PlanID           string
	TotalPieces      int
	Phases           []string
	EstimatedBatches int
}

// Progress is the snapshot shape shared by Continue and Status.
type Progress struct {
	Active    bool
	Blueprint string
	Placed    int
	Total     int
	Phase     string
	NextBatch int
	Failed    int
	Status    string
}

func (e *Engine) Start(actorID, templateName string, anchorX, anchorZ, orientation float64) (StartResult, error) {
	st := e.actor(actorID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.plan != nil {
		return StartResult{}, domainErr(protocol.ErrAlreadyActive, "a build plan is already in progress")
	}
	tpl, ok := e.cfg.Catalogs.Blueprints.ByName[templateName]
	if !ok {
		return StartResult{}, domainErr(protocol.ErrUnknownTemplate, fmt.Sprintf("unknown blueprint %q", templateName))
	}

	total := tpl.PieceCount()
	afford, err := e.cfg.Ledger.CanAfford(actorID, total*e.cfg.Tuning.PieceCost)
	if err != nil {
		return StartResult{}, fmt.Errorf("ledger: %w", err)
	}
	if !afford {
		return StartResult{}, domainErr(protocol.ErrNoCredits, fmt.Sprintf("build requires %d credits", total*e.cfg.Tuning.PieceCost))
	}

	cp := compiler.Compile(tpl, anchorX, anchorZ, orientation)
	now := e.cfg.Now()
	plan := Plan{
		ID:              uuid.NewString(),
		ActorID:         actorID,
		Blueprint:       templateName,
		AnchorX:         anchorX,
		AnchorZ:         anchorZ,
		Orientation:     orientation,
		Pieces:          cp.Pieces,
		PhaseNames:      cp.PhaseNames,
		PhaseBoundaries: cp.PhaseBoundaries,
		StartedAt:       now,
	}
	ver, err := e.cfg.Plans.Upsert(actorID, plan, 0)
	if err != nil {
		return StartResult{}, fmt.Errorf("persist plan: %w", err)
	}
	st.plan = &StoredPlan{Plan: plan, Version: ver, UpdatedAt: now}

	batch := e.cfg.Tuning.BatchSize
	return StartResult{
		PlanID:           plan.ID,
		TotalPieces:      total,
		Phases:           cp.PhaseNames,
		EstimatedBatches: (total + batch - 1) / batch,
	}, nil
}

func (e *Engine) Cancel(actorID string) error {
	st := e.actor(actorID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.plan == nil {
		return domainErr(protocol.ErrNoActivePlan, "no build plan in progress")
	}
	if err := e.cfg.Plans.Delete(actorID); err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	p := st.plan.Plan
	st.plan = nil
	// Already-placed primitives stay in the world.
	e.cfg.Sink.BuildProgress(ProgressRecord{
		ActorID:   actorID,
		PlanID:    p.ID,
		Blueprint: p.Blueprint,
		Status:    StatusCancelled,
		Placed:    p.PlacedCount,
		Total:     p.Total(),
		Failed:    len(p.Failures),
		At:        e.cfg.Now(),
	})
	return nil
}

func (e *Engine) Status(actorID string) Progress {
	st := e.actor(actorID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.plan == nil {
		return Progress{Active: false}
	}
	return e.progressOf(st.plan.Plan)
}

func (e *Engine) progressOf(p Plan) Progress {
	return Progress{
		Active:    true,
		Blueprint: p.Blueprint,
		Placed:    p.PlacedCount,
		Total:     p.Total(),
		Phase:     p.PhaseAt(p.Cursor),
		NextBatch: p.nextBatch(e.cfg.Tuning.BatchSize),
		Failed:    len(p.Failures),
		Status:    StatusActive,
	}
}

func distanceXZ(pos shapes.Vec3, x, z float64) float64 {
	return math.Hypot(pos.X-x, pos.Z-z)
}

// Package app ties the solvers to storage: it trains and caches prototypes,
// reconstructs frames and notifies subscribers of every new reconstruction.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ayusman/handlift/internal/assembly"
	"github.com/ayusman/handlift/internal/cone"
	"github.com/ayusman/handlift/internal/prototype"
	"github.com/ayusman/handlift/internal/skeleton"
	"github.com/ayusman/handlift/internal/store"
	"github.com/ayusman/handlift/internal/triangle"
)

var (
	// ErrPrototypeNotFound is returned for an unknown prototype id.
	ErrPrototypeNotFound = errors.New("prototype not found")
	// ErrReconstructionNotFound is returned for an unknown reconstruction id.
	ErrReconstructionNotFound = errors.New("reconstruction not found")
	// ErrNoStore is returned by operations that need a store when none is
	// configured.
	ErrNoStore = errors.New("no store configured")
)

// Config holds configuration options for the application.
type Config struct {
	// Store persists prototypes and reconstructions. It may be nil, in which
	// case prototypes live in memory only.
	Store    *store.Store
	Triangle triangle.Config
	Cone     cone.Config
	Assembly assembly.Config
	// Workers bounds the frames solved in parallel by ReconstructBatch.
	Workers int
	// Seed is the base seed of the per-frame random generators.
	Seed uint64
}

// Prototype is a named, trained prototype.
type Prototype struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Hand      *prototype.Hand `json:"prototype"`
	CreatedAt time.Time       `json:"created_at"`
}

// Request asks for one frame to be reconstructed.
type Request struct {
	PrototypeID string
	Rays        [skeleton.NumJoints]r3.Vec
	// Seed seeds the frame's random generator. When nil the next seed of
	// the application sequence is used.
	Seed *uint64
	// Previous is the hand of the preceding frame, if tracking.
	Previous *skeleton.Hand
}

// Result is a stored reconstruction.
type Result struct {
	ID          string             `json:"id"`
	PrototypeID string             `json:"prototype_id"`
	Seed        uint64             `json:"seed"`
	Rays        []skeleton.Point3D `json:"rays"`
	CreatedAt   time.Time          `json:"created_at"`
	assembly.Reconstruction
}

// App is the main application that reconstructs hands.
type App struct {
	config    Config
	assembler *assembly.Assembler
	trainer   *prototype.Trainer

	mu         sync.RWMutex
	prototypes map[string]*Prototype
	callbacks  []func(*Result)
	nextSeed   uint64
}

// New creates a new App instance with the given configuration.
func New(config Config) *App {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &App{
		config: config,
		assembler: assembly.New(
			config.Assembly,
			triangle.NewSolver(config.Triangle),
			cone.NewSolver(config.Cone),
		),
		trainer:    prototype.NewTrainer(),
		prototypes: make(map[string]*Prototype),
		nextSeed:   config.Seed,
	}
}

// Store returns the configured store, or nil.
func (a *App) Store() *store.Store {
	return a.config.Store
}

// RegisterCallback registers fn to be called with every new reconstruction.
// Callbacks run on the goroutine that produced the reconstruction.
func (a *App) RegisterCallback(fn func(*Result)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callbacks = append(a.callbacks, fn)
}

// CreatePrototype trains a prototype from raw calibration samples and, when a
// store is configured, saves it together with the samples.
func (a *App) CreatePrototype(name string, samples []json.RawMessage) (*Prototype, error) {
	hand, err := a.trainer.TrainRaw(samples)
	if err != nil {
		return nil, err
	}

	p := &Prototype{
		ID:        uuid.New().String(),
		Name:      name,
		Hand:      hand,
		CreatedAt: time.Now(),
	}

	if s := a.config.Store; s != nil {
		data, err := json.Marshal(hand)
		if err != nil {
			return nil, fmt.Errorf("encode prototype: %w", err)
		}
		rec := &store.Prototype{ID: p.ID, Name: name, Data: data}
		if err := s.Prototypes().CreateWithSamples(rec, samples); err != nil {
			return nil, fmt.Errorf("save prototype: %w", err)
		}
		p.CreatedAt = rec.CreatedAt
	}

	a.mu.Lock()
	a.prototypes[p.ID] = p
	a.mu.Unlock()

	log.Printf("Trained prototype %s (%s) from %d samples", name, p.ID, hand.Samples)
	return p, nil
}

// Prototype returns a prototype by id, loading it from the store on a cache
// miss.
func (a *App) Prototype(id string) (*Prototype, error) {
	a.mu.RLock()
	p, ok := a.prototypes[id]
	a.mu.RUnlock()
	if ok {
		return p, nil
	}

	s := a.config.Store
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrPrototypeNotFound, id)
	}
	rec, err := s.Prototypes().GetByID(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPrototypeNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	p, err = fromStorePrototype(rec)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.prototypes[id] = p
	a.mu.Unlock()
	return p, nil
}

// Prototypes lists the known prototypes: those in the store when one is
// configured, otherwise those trained by this App.
func (a *App) Prototypes() ([]*Prototype, error) {
	if s := a.config.Store; s != nil {
		recs, err := s.Prototypes().List()
		if err != nil {
			return nil, err
		}
		out := make([]*Prototype, 0, len(recs))
		for _, rec := range recs {
			p, err := fromStorePrototype(rec)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Prototype, 0, len(a.prototypes))
	for _, p := range a.prototypes {
		out = append(out, p)
	}
	return out, nil
}

// DeletePrototype removes a prototype and, in the store, its samples and
// reconstructions.
func (a *App) DeletePrototype(id string) error {
	a.mu.Lock()
	_, cached := a.prototypes[id]
	delete(a.prototypes, id)
	a.mu.Unlock()

	s := a.config.Store
	if s == nil {
		if !cached {
			return fmt.Errorf("%w: %s", ErrPrototypeNotFound, id)
		}
		return nil
	}
	if err := s.Prototypes().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrPrototypeNotFound, id)
		}
		return err
	}
	return nil
}

// Reconstruct solves one frame, stores the result when a store is
// configured and notifies the callbacks.
func (a *App) Reconstruct(ctx context.Context, req Request) (*Result, error) {
	seed := a.seed(req.Seed)
	res, err := a.reconstruct(ctx, req, seed)
	if err != nil {
		return nil, err
	}
	if err := a.publish(res); err != nil {
		return nil, err
	}
	return res, nil
}

// reconstruct solves req with a generator seeded by seed, without storing or
// publishing the result.
func (a *App) reconstruct(ctx context.Context, req Request, seed uint64) (*Result, error) {
	p, err := a.Prototype(req.PrototypeID)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(seed, seed))
	rec, err := a.assembler.Assemble(ctx, rng, assembly.Frame{Rays: req.Rays, Previous: req.Previous}, p.Hand)
	if err != nil {
		return nil, err
	}

	rays := make([]skeleton.Point3D, len(req.Rays))
	for i, r := range req.Rays {
		rays[i] = skeleton.PointOf(r)
	}
	return &Result{
		ID:             uuid.New().String(),
		PrototypeID:    p.ID,
		Seed:           seed,
		Rays:           rays,
		CreatedAt:      time.Now(),
		Reconstruction: rec,
	}, nil
}

// publish stores res and hands it to the callbacks.
func (a *App) publish(res *Result) error {
	if s := a.config.Store; s != nil {
		rec, err := toStoreReconstruction(res)
		if err != nil {
			return err
		}
		if err := s.Reconstructions().Create(rec); err != nil {
			return fmt.Errorf("save reconstruction: %w", err)
		}
		res.CreatedAt = rec.CreatedAt
	}

	a.mu.RLock()
	callbacks := append([]func(*Result){}, a.callbacks...)
	a.mu.RUnlock()
	for _, fn := range callbacks {
		fn(res)
	}
	return nil
}

// Reconstruction loads a stored reconstruction.
func (a *App) Reconstruction(id string) (*Result, error) {
	s := a.config.Store
	if s == nil {
		return nil, ErrNoStore
	}
	rec, err := s.Reconstructions().GetByID(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrReconstructionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return fromStoreReconstruction(rec)
}

// Reconstructions lists stored reconstructions, newest first, without their
// joints.
func (a *App) Reconstructions(prototypeID string, limit int) ([]*Result, error) {
	s := a.config.Store
	if s == nil {
		return nil, ErrNoStore
	}
	recs, err := s.Reconstructions().List(prototypeID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*Result, 0, len(recs))
	for _, rec := range recs {
		res, err := fromStoreReconstruction(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// seed returns the requested seed or the next one of the sequence.
func (a *App) seed(requested *uint64) uint64 {
	if requested != nil {
		return *requested
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.nextSeed
	a.nextSeed++
	return s
}

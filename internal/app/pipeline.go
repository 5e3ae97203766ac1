package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ayusman/handlift/internal/skeleton"
)

// Rays is the per-joint ray input of one frame.
type Rays = [skeleton.NumJoints]r3.Vec

// ReconstructBatch solves independent frames in parallel, at most Workers
// at a time. Frame i uses a generator seeded Seed+i, so the output does not
// depend on scheduling. Results are stored and published in frame order once
// every frame is solved; the first error cancels the remaining frames.
func (a *App) ReconstructBatch(ctx context.Context, prototypeID string, frames []Rays) ([]*Result, error) {
	if _, err := a.Prototype(prototypeID); err != nil {
		return nil, err
	}

	started := time.Now()
	results := make([]*Result, len(frames))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.Workers)
	for i := range frames {
		g.Go(func() error {
			res, err := a.reconstruct(gctx, Request{PrototypeID: prototypeID, Rays: frames[i]}, a.config.Seed+uint64(i))
			if err != nil {
				return fmt.Errorf("frame %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, res := range results {
		if err := a.publish(res); err != nil {
			return nil, err
		}
	}

	log.Printf("Reconstructed %d frames with %d workers in %s", len(frames), a.config.Workers, time.Since(started))
	return results, nil
}

// Track solves a sequence of frames in order, warm starting each frame from
// the hand reconstructed for the one before. The first frame starts from
// initial, which may be nil. Frame i uses a generator seeded Seed+i. Every
// result is stored and published as soon as it is solved.
func (a *App) Track(ctx context.Context, prototypeID string, initial *skeleton.Hand, frames []Rays) ([]*Result, error) {
	results := make([]*Result, 0, len(frames))
	previous := initial
	for i, rays := range frames {
		res, err := a.reconstruct(ctx, Request{PrototypeID: prototypeID, Rays: rays, Previous: previous}, a.config.Seed+uint64(i))
		if err != nil {
			return results, fmt.Errorf("frame %d: %w", i, err)
		}
		if err := a.publish(res); err != nil {
			return results, err
		}
		results = append(results, res)
		previous = &res.Hand
	}
	return results, nil
}

// Package syncplan decides which album assets need processing.
package syncplan

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/five82/dovetail/internal/album"
	derrors "github.com/five82/dovetail/internal/errors"
	"github.com/five82/dovetail/internal/manifest"
	"github.com/five82/dovetail/internal/util"
)

// DefaultConcurrency bounds parallel checksum reads.
const DefaultConcurrency = 4

// Skip is an asset whose output already exists.
type Skip struct {
	Asset *album.SourceAsset
	Entry manifest.Entry
}

// Plan splits assets into those to process and those to skip. All lists keep input order.
type Plan struct {
	ToProcess []*album.SourceAsset
	ToSkip    []Skip
	// Deferred holds videos past the transcode limit. They are left for a later sync.
	Deferred []*album.SourceAsset
	// Errors holds checksum failures keyed by path. Those assets are in ToProcess.
	Errors map[string]error
}

// Options configures planning.
type Options struct {
	Concurrency int
	// Force processes every asset regardless of the manifest.
	Force bool
	// Limit caps how many videos are transcoded. Zero means no cap. Photos
	// and clips are never deferred.
	Limit int
}

// Transcodes returns how many planned assets go through a preset.
func (p *Plan) Transcodes() int {
	n := 0
	for _, a := range p.ToProcess {
		if a.Kind.Transcoded() {
			n++
		}
	}
	return n
}

type decision struct {
	skip  bool
	entry manifest.Entry
	err   error
}

// Make compares each asset's content checksum against the manifest. An asset is
// skipped iff its checksum has an entry and that entry's output still exists,
// unless opts.Force is set.
func Make(ctx context.Context, assets []*album.SourceAsset, m *manifest.Manifest, opts Options) (*Plan, error) {
	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	decisions := make([]decision, len(assets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, a := range assets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if !opts.Force {
				decisions[i] = decide(a, m)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, derrors.NewCancelledError()
	}

	plan := &Plan{Errors: map[string]error{}}
	for i, d := range decisions {
		switch {
		case d.err != nil:
			plan.Errors[assets[i].Path] = d.err
			plan.ToProcess = append(plan.ToProcess, assets[i])
		case d.skip:
			plan.ToSkip = append(plan.ToSkip, Skip{Asset: assets[i], Entry: d.entry})
		default:
			plan.ToProcess = append(plan.ToProcess, assets[i])
		}
	}
	if opts.Limit > 0 {
		plan.limit(opts.Limit)
	}
	return plan, nil
}

func (p *Plan) limit(n int) {
	kept := p.ToProcess[:0]
	videos := 0
	for _, a := range p.ToProcess {
		if a.Kind.Transcoded() {
			if videos >= n {
				p.Deferred = append(p.Deferred, a)
				continue
			}
			videos++
		}
		kept = append(kept, a)
	}
	p.ToProcess = kept
}

func decide(a *album.SourceAsset, m *manifest.Manifest) decision {
	sum, err := a.Checksum()
	if err != nil {
		return decision{err: derrors.NewIOError("checksum "+a.Path, err)}
	}
	e, ok := m.Lookup(sum)
	if !ok || e.OutputPath == "" {
		return decision{}
	}
	if !util.NonEmptyFile(e.OutputPath) {
		return decision{}
	}
	return decision{skip: true, entry: e}
}

// Package gc removes objects that no tag history and no live runtime
// can reach.
//
// Collection is mark and sweep under an exclusive repository lock:
// writers (commit, push, pull) hold the shared lock, so a sweep never
// races a half-written object graph. The mark phase tolerates already
// missing children; an interrupted previous sweep must not wedge the
// next one.
package gc

import (
	"context"

	"github.com/stratumfs/stratum/pkg/model"
	"github.com/stratumfs/stratum/pkg/repo"
	"github.com/stratumfs/stratum/pkg/runtime"
	"go.uber.org/zap"
)

// Report summarizes a collection run.
type Report struct {
	// Scanned is the number of objects in the store before the sweep.
	Scanned int
	// Reachable is the number of objects the mark phase kept.
	Reachable int
	// Removed is the number of objects deleted, or that would be
	// deleted on a dry run.
	Removed int
	// Reclaimed is the byte total of removed objects.
	Reclaimed int64
}

// Cleaner runs garbage collection on a repository.
type Cleaner struct {
	repo   *repo.Repository
	l      *zap.Logger
	dryRun bool
}

// Option configures a Cleaner.
type Option func(*Cleaner)

// Logger sets the logger used while collecting.
func Logger(l *zap.Logger) Option {
	return func(c *Cleaner) {
		if l != nil {
			c.l = l
		}
	}
}

// DryRun reports what would be removed without deleting anything.
func DryRun() Option {
	return func(c *Cleaner) { c.dryRun = true }
}

// New creates a cleaner for the given repository.
func New(r *repo.Repository, opts ...Option) *Cleaner {
	c := &Cleaner{
		repo: r,
		l:    zap.NewNop(),
	}
	for _, apply := range opts {
		apply(c)
	}
	return c
}

// Clean marks every object reachable from tag histories and live
// runtimes, then sweeps the rest.
func (c *Cleaner) Clean(ctx context.Context) (*Report, error) {
	unlock, err := c.repo.Lock(ctx, true)
	if err != nil {
		return nil, err
	}
	defer unlock()

	roots, err := c.collectRoots(ctx)
	if err != nil {
		return nil, err
	}
	reachable, err := c.repo.Objects().Reachable(ctx, roots)
	if err != nil {
		return nil, err
	}
	keys, err := c.repo.Objects().Keys(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{Scanned: len(keys)}
	for _, d := range keys {
		if reachable[d] {
			report.Reachable++
			continue
		}
		if n, err := c.repo.Objects().Size(ctx, d); err == nil {
			report.Reclaimed += n
		}
		if !c.dryRun {
			if err := c.repo.Objects().Delete(ctx, d); err != nil {
				return nil, err
			}
		}
		report.Removed++
		c.l.Debug("swept object", zap.String("digest", d.String()), zap.Bool("dryRun", c.dryRun))
	}
	c.l.Info("collection done",
		zap.Int("scanned", report.Scanned),
		zap.Int("reachable", report.Reachable),
		zap.Int("removed", report.Removed),
		zap.Int64("reclaimed", report.Reclaimed),
		zap.Bool("dryRun", c.dryRun))
	return report, nil
}

// collectRoots gathers every digest that must survive: all targets in
// all tag histories, plus the stacks of runtimes that are not dead.
func (c *Cleaner) collectRoots(ctx context.Context) ([]model.Digest, error) {
	var roots []model.Digest

	names, err := c.repo.Tags().Names(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		history, err := c.repo.Tags().History(ctx, name)
		if err != nil {
			return nil, err
		}
		for i := range history {
			roots = append(roots, history[i].Target)
		}
	}

	runtimes, err := runtime.NewManager(c.repo, runtime.Logger(c.l)).List(ctx)
	if err != nil {
		return nil, err
	}
	for _, rt := range runtimes {
		if rt.Status == runtime.StatusDead {
			continue
		}
		roots = append(roots, rt.Stack...)
		roots = append(roots, rt.Roots...)
	}
	return roots, nil
}

// Package sync replicates tags and their object graphs between
// repositories.
//
// Transfers are incremental and idempotent: every object is offered
// with an existence check first, objects land before the tag that
// references them, and re-running an interrupted sync picks up where
// it left off because content addressing makes partial state
// harmless.
package sync

import (
	"context"

	"github.com/stratumfs/stratum/pkg/errors"
	"github.com/stratumfs/stratum/pkg/model"
	"github.com/stratumfs/stratum/pkg/sync/status"
	tagstatus "github.com/stratumfs/stratum/pkg/tags/status"
	"go.uber.org/zap"
)

// Endpoint is either side of a sync: a local repository or a remote
// server speaking the object/tag protocol.
type Endpoint interface {
	String() string
	HasObject(ctx context.Context, d model.Digest) (bool, error)
	GetObject(ctx context.Context, d model.Digest) ([]byte, error)
	PutObjectBytes(ctx context.Context, data []byte) (model.Digest, error)
	TagHistory(ctx context.Context, name string) ([]model.TagEntry, error)
	PushTagRaw(ctx context.Context, entry *model.TagEntry) error
}

// locker is implemented by endpoints backed by a local repository.
// Holding the repository lock shared for the whole transfer keeps a
// concurrent sweep from removing objects that have landed but whose
// tag entry has not.
type locker interface {
	Lock(ctx context.Context, exclusive bool) (func(), error)
}

// Summary reports what a transfer moved.
type Summary struct {
	Objects int
	Bytes   int64
	Tags    int
	Skipped int
}

// Syncer moves tags between a local repository and a remote endpoint.
type Syncer struct {
	local  Endpoint
	remote Endpoint
	l      *zap.Logger
}

// Option configures a Syncer.
type Option func(*Syncer)

// Logger sets the logger used during transfers.
func Logger(l *zap.Logger) Option {
	return func(s *Syncer) {
		if l != nil {
			s.l = l
		}
	}
}

// New creates a syncer between the two endpoints.
func New(local, remote Endpoint, opts ...Option) *Syncer {
	s := &Syncer{
		local:  local,
		remote: remote,
		l:      zap.NewNop(),
	}
	for _, apply := range opts {
		apply(s)
	}
	return s
}

// Push replicates the named tag and every object its history reaches
// from the local repository to the remote.
func (s *Syncer) Push(ctx context.Context, name string) (*Summary, error) {
	return s.transfer(ctx, s.local, s.remote, name)
}

// Pull replicates the named tag and every object its history reaches
// from the remote into the local repository.
func (s *Syncer) Pull(ctx context.Context, name string) (*Summary, error) {
	return s.transfer(ctx, s.remote, s.local, name)
}

func (s *Syncer) transfer(ctx context.Context, src, dst Endpoint, name string) (*Summary, error) {
	for _, ep := range []Endpoint{src, dst} {
		if lk, ok := ep.(locker); ok {
			unlock, err := lk.Lock(ctx, false)
			if err != nil {
				return nil, err
			}
			defer unlock()
		}
	}

	srcHistory, err := src.TagHistory(ctx, name)
	if err != nil {
		if errors.Is(err, tagstatus.ErrNotFound) {
			return nil, status.ErrTagNotFound.WrapMessage("%s on %s", name, src)
		}
		return nil, err
	}

	// entries already present downstream are identified by entry
	// digest, which covers target, parent and author
	present := map[model.Digest]struct{}{}
	dstHistory, err := dst.TagHistory(ctx, name)
	if err != nil && !errors.Is(err, tagstatus.ErrNotFound) {
		return nil, err
	}
	for i := range dstHistory {
		d, err := dstHistory[i].Digest()
		if err != nil {
			return nil, err
		}
		present[d] = struct{}{}
	}

	summary := &Summary{}
	seen := map[model.Digest]struct{}{}
	for i := range srcHistory {
		entry := srcHistory[i]
		entryDigest, err := entry.Digest()
		if err != nil {
			return nil, err
		}
		if _, ok := present[entryDigest]; ok {
			continue
		}
		// objects land before the tag entry that references them, so a
		// reader never follows the tag into a hole
		if err := s.syncObject(ctx, src, dst, entry.Target, seen, summary); err != nil {
			return nil, err
		}
		if err := dst.PushTagRaw(ctx, &entry); err != nil {
			return nil, err
		}
		summary.Tags++
	}
	s.l.Info("synced tag",
		zap.String("tag", name),
		zap.String("from", src.String()),
		zap.String("to", dst.String()),
		zap.Int("objects", summary.Objects),
		zap.Int64("bytes", summary.Bytes),
		zap.Int("entries", summary.Tags),
		zap.Int("skipped", summary.Skipped))
	return summary, nil
}

// syncObject copies the graph rooted at d depth-first, children
// before parents. An object the destination already has prunes its
// whole subgraph: content addressing guarantees the children are
// there too.
func (s *Syncer) syncObject(ctx context.Context, src, dst Endpoint, d model.Digest, seen map[model.Digest]struct{}, summary *Summary) error {
	if _, ok := seen[d]; ok {
		return nil
	}
	seen[d] = struct{}{}

	has, err := dst.HasObject(ctx, d)
	if err != nil {
		return err
	}
	if has {
		summary.Skipped++
		return nil
	}
	data, err := src.GetObject(ctx, d)
	if err != nil {
		return err
	}
	// raw blobs carry no envelope and have no children
	if obj, err := model.DecodeAny(data); err == nil {
		for _, child := range obj.ChildObjects() {
			if err := s.syncObject(ctx, src, dst, child, seen, summary); err != nil {
				return err
			}
		}
	}
	stored, err := dst.PutObjectBytes(ctx, data)
	if err != nil {
		return err
	}
	if stored != d {
		return status.ErrDigestMismatch.WrapMessage("sent %s, stored %s", d, stored)
	}
	summary.Objects++
	summary.Bytes += int64(len(data))
	return nil
}

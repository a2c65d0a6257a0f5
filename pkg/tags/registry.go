// Package tags implements the mutable tag registry.
//
// A tag binds a human name to an object digest. Every rebind appends
// a timestamped entry to the tag's history file; entries are never
// deleted or reordered. The current head is simply the last entry.
// Heads move only under a per-name lock with compare-and-swap
// discipline, so concurrent writers cannot silently lose an update.
package tags

import (
	"bufio"
	"context"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
	"github.com/stratumfs/stratum/pkg/errors"
	"github.com/stratumfs/stratum/pkg/model"
	"github.com/stratumfs/stratum/pkg/tags/status"
	"go.uber.org/zap"
)

const (
	tagExt      = ".tag"
	lockExt     = ".lock"
	lockRetry   = 10 * time.Millisecond
	lockTimeout = 5 * time.Second
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Registry stores tag histories as newline-delimited JSON files under
// a root filesystem, one file per tag name. Names may be hierarchical
// ("org/name"); each path segment becomes a directory.
type Registry struct {
	fs   afero.Fs
	user string
	l    *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// User sets the user recorded on new history entries.
func User(user string) Option {
	return func(r *Registry) {
		if user != "" {
			r.user = user
		}
	}
}

// Logger sets the logger used by the registry.
func Logger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.l = l
		}
	}
}

// New creates a tag registry over the given filesystem root.
func New(fs afero.Fs, opts ...Option) *Registry {
	r := &Registry{
		fs:   fs,
		user: defaultUser(),
		l:    zap.NewNop(),
	}
	for _, apply := range opts {
		apply(r)
	}
	return r
}

func defaultUser() string {
	user := os.Getenv("USER")
	if user == "" {
		user = "unknown"
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return user + "@" + host
}

func tagPath(name string) string {
	return path.Clean(name) + tagExt
}

// History returns the full ordered history for a tag, oldest first.
func (r *Registry) History(ctx context.Context, name string) ([]model.TagEntry, error) {
	f, err := r.fs.Open(tagPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, status.ErrNotFound.WrapMessage("%s", name)
		}
		return nil, err
	}
	defer f.Close()

	var entries []model.TagEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry model.TagEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, status.ErrNotFound.WrapMessage("%s", name)
	}
	return entries, nil
}

// Head returns the most recent history entry for a tag.
func (r *Registry) Head(ctx context.Context, name string) (*model.TagEntry, error) {
	entries, err := r.History(ctx, name)
	if err != nil {
		return nil, err
	}
	return &entries[len(entries)-1], nil
}

// Resolve looks a tag up by spec. An unqualified "name" returns the
// head. "name~N" returns the entry N steps back in history. A
// "name@prefix" qualifier matches history entries whose target digest
// starts with the hex prefix; several distinct matches without a
// unique winner fail with ErrAmbiguousTag.
func (r *Registry) Resolve(ctx context.Context, spec string) (*model.TagEntry, error) {
	name, version := splitSpec(spec)
	entries, err := r.History(ctx, name)
	if err != nil {
		return nil, err
	}
	if version == "" {
		return &entries[len(entries)-1], nil
	}
	if strings.HasPrefix(version, "~") {
		back, err := strconv.Atoi(version[1:])
		if err != nil || back < 0 {
			return nil, status.ErrNotFound.WrapMessage("bad version %q on %s", version, name)
		}
		idx := len(entries) - 1 - back
		if idx < 0 {
			return nil, status.ErrNotFound.WrapMessage("%s has only %d entries", name, len(entries))
		}
		return &entries[idx], nil
	}
	// digest prefix match over the history, newest first
	prefix := strings.TrimPrefix(version, "@")
	var found *model.TagEntry
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if !strings.HasPrefix(entry.Target.String(), prefix) {
			continue
		}
		if found == nil {
			e := entry
			found = &e
			continue
		}
		if found.Target != entry.Target {
			return nil, status.ErrAmbiguousTag.WrapMessage("%s@%s", name, prefix)
		}
	}
	if found == nil {
		return nil, status.ErrNotFound.WrapMessage("%s@%s", name, prefix)
	}
	return found, nil
}

func splitSpec(spec string) (name, version string) {
	if i := strings.LastIndex(spec, "~"); i > 0 {
		return spec[:i], spec[i:]
	}
	if i := strings.LastIndex(spec, "@"); i > 0 {
		return spec[:i], spec[i:]
	}
	return spec, ""
}

// Push appends a new history entry pointing the tag at the target.
// Pushing the current target again is a no-op returning the existing
// head. The append happens under the per-tag lock, with the parent
// reference taken from the locked head.
func (r *Registry) Push(ctx context.Context, name string, target model.Digest) (*model.TagEntry, error) {
	unlock, err := r.lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	head, err := r.Head(ctx, name)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	entry := model.NewTagEntry(name, r.user, target)
	if head != nil {
		if head.Target == target {
			return head, nil
		}
		parent, err := head.Digest()
		if err != nil {
			return nil, err
		}
		entry.Parent = parent
	}
	if err := r.append(name, entry); err != nil {
		return nil, err
	}
	r.l.Debug("pushed tag", zap.String("tag", name), zap.String("target", target.String()))
	return entry, nil
}

// PushEntry appends a prepared entry whose Parent names the head the
// writer observed. If the head has moved since, the push fails with
// ErrTagConflict and the caller must retry against the fresh head.
func (r *Registry) PushEntry(ctx context.Context, entry *model.TagEntry) error {
	unlock, err := r.lock(ctx, entry.Name)
	if err != nil {
		return err
	}
	defer unlock()

	head, err := r.Head(ctx, entry.Name)
	if err != nil && !isNotFound(err) {
		return err
	}
	var headDigest model.Digest
	if head != nil {
		if headDigest, err = head.Digest(); err != nil {
			return err
		}
	}
	if entry.Parent != headDigest {
		return status.ErrTagConflict.WrapMessage("%s head is %s, expected parent %s", entry.Name, headDigest, entry.Parent)
	}
	return r.append(entry.Name, entry)
}

// Names enumerates every tag name known to this registry.
func (r *Registry) Names(ctx context.Context) ([]string, error) {
	var names []string
	err := afero.Walk(r.fs, ".", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || !strings.HasSuffix(p, tagExt) {
			return nil
		}
		names = append(names, strings.TrimSuffix(p, tagExt))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (r *Registry) append(name string, entry *model.TagEntry) error {
	p := tagPath(name)
	if dir := path.Dir(p); dir != "." {
		if err := r.fs.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	f, err := r.fs.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if _, err = f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// lock takes the per-tag lock by exclusively creating a lock file
// next to the history file. Contenders poll until the holder removes
// it or the timeout passes.
func (r *Registry) lock(ctx context.Context, name string) (func(), error) {
	p := tagPath(name) + lockExt
	if dir := path.Dir(p); dir != "." {
		if err := r.fs.MkdirAll(dir, 0700); err != nil {
			return nil, err
		}
	}
	deadline := time.Now().Add(lockTimeout)
	for {
		f, err := r.fs.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			_ = f.Close()
			return func() { _ = r.fs.Remove(p) }, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, status.ErrLockTimeout.WrapMessage("%s", name)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetry):
		}
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, status.ErrNotFound)
}

package engagement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
)

// document keeps one named JSON document in sync with the backing store.
//
// Mutations are queued as pending deltas and replayed on top of the last
// stored copy (base) every time the document is synced, so a change is
// applied to the stored state exactly once whatever the store does. value is
// base plus pending: what readers see, including changes not yet persisted.
// Nothing is written until base comes from a successful load, so a process
// started during an outage never overwrites the stored document.
type document[T any] struct {
	name    string
	store   DocumentStore
	logger  *slog.Logger
	empty   func() T
	decode  func([]byte) (T, error)
	retries int

	base    []byte // nil means the document does not exist yet
	version string
	synced  bool

	value   T
	pending []func(T) bool
	unacked *write
}

// write is a save whose outcome is unknown: it failed, but may have landed.
// covers is the number of pending deltas folded into data.
type write struct {
	data   []byte
	covers int
}

// update queues mutate and syncs. mutate reports whether it changed the
// document; it may run more than once, each time against a fresh copy, and
// the captured results of the last run are what the caller sees.
func (d *document[T]) update(ctx context.Context, mutate func(T) bool) {
	d.pending = append(d.pending, mutate)
	_ = d.sync(ctx)
}

// refresh brings value up to date with the store, writing pending deltas
// if there are any.
func (d *document[T]) refresh(ctx context.Context) {
	_ = d.sync(ctx)
}

// flush retries pending deltas, if any.
func (d *document[T]) flush(ctx context.Context) error {
	if len(d.pending) == 0 {
		return nil
	}
	return d.sync(ctx)
}

// dirty reports whether some deltas have not reached the store.
func (d *document[T]) dirty() bool {
	return len(d.pending) > 0
}

// sync runs reload, replay, persist. On a version conflict it reloads and
// replays again; after the retries are spent the write goes through
// unconditionally (last writer wins).
func (d *document[T]) sync(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		if err := d.reload(ctx); err != nil {
			d.value, _ = d.replay()
			return err
		}

		next, changed := d.replay()
		d.value = next
		if !changed {
			d.pending = nil
			return nil
		}

		data, err := json.Marshal(next)
		if err != nil {
			d.logger.Error("failed to encode document",
				slog.String("document", d.name),
				slog.String("error", err.Error()),
			)
			return err
		}

		prior := d.version
		if attempt > d.retries {
			prior = ""
		}

		version, err := d.store.Save(ctx, d.name, data, prior)
		if err == nil {
			d.base = data
			d.version = version
			d.pending = nil
			d.unacked = nil
			return nil
		}

		d.unacked = &write{data: data, covers: len(d.pending)}
		if !errors.Is(err, shared.ErrVersionConflict) {
			d.logger.Warn("failed to persist document, keeping pending changes",
				slog.String("document", d.name),
				slog.Int("pending", len(d.pending)),
				slog.String("error", err.Error()),
			)
			return err
		}

		d.logger.Info("document changed underneath, reapplying",
			slog.String("document", d.name),
			slog.Int("attempt", attempt+1),
		)
	}
}

// reload replaces base with the stored copy. A previous write with an
// unknown outcome that turns out to be stored drops the deltas it covered.
func (d *document[T]) reload(ctx context.Context) error {
	doc, err := d.store.Load(ctx, d.name)
	switch {
	case err == nil:
		v, decErr := d.decode(doc.Data)
		if decErr != nil {
			// Keep the last good base; the next write replaces the corrupt copy.
			d.logger.Error("document is corrupt, keeping in-memory snapshot",
				slog.String("document", d.name),
				slog.String("error", decErr.Error()),
			)
			d.version = doc.Version
			d.synced = true
			d.unacked = nil
			return nil
		}
		d.base = doc.Data
		d.version = doc.Version
		d.synced = true
		d.settle(doc.Version, doc.Data, v)
		return nil

	case shared.IsNotFound(err):
		d.base = nil
		d.version = ""
		d.synced = true
		d.unacked = nil
		return nil

	default:
		d.logger.Warn("document store unavailable, serving in-memory snapshot",
			slog.String("document", d.name),
			slog.Bool("synced", d.synced),
			slog.String("error", err.Error()),
		)
		return err
	}
}

func (d *document[T]) settle(version string, data []byte, stored T) {
	w := d.unacked
	d.unacked = nil
	if w == nil || !sameContent(data, stored, w.data) {
		return
	}
	if w.covers > len(d.pending) {
		w.covers = len(d.pending)
	}
	d.pending = d.pending[w.covers:]
	d.logger.Info("earlier write reached the store",
		slog.String("document", d.name),
		slog.String("version", version),
	)
}

// sameContent compares stored bytes with a write, tolerating backends that
// normalize JSON (jsonb) by re-encoding the decoded value.
func sameContent[T any](data []byte, stored T, written []byte) bool {
	if bytes.Equal(data, written) {
		return true
	}
	canonical, err := json.Marshal(stored)
	return err == nil && bytes.Equal(canonical, written)
}

// replay applies the pending deltas to a fresh copy of base.
func (d *document[T]) replay() (T, bool) {
	next := d.empty()
	if d.base != nil {
		if v, err := d.decode(d.base); err == nil {
			next = v
		}
	}
	changed := false
	for _, mutate := range d.pending {
		if mutate(next) {
			changed = true
		}
	}
	return next, changed
}

func decodeRegistry(data []byte) (Registry, error) {
	r := Registry{}
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	if r == nil {
		r = Registry{}
	}
	for key, u := range r {
		if u == nil {
			delete(r, key)
			continue
		}
		if !u.ID.IsValid() {
			if id, err := shared.ParseUserID(key); err == nil {
				u.ID = id
			}
		}
	}
	return r, nil
}

func decodeStatistics(data []byte) (*Statistics, error) {
	s := NewStatistics()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	if s.Periods == nil {
		s.Periods = make(map[string]*PeriodStats)
	}
	for id, ps := range s.Periods {
		if ps == nil {
			delete(s.Periods, id)
		}
	}
	return s, nil
}

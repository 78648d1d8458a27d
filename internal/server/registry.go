package server

import (
	"cmp"
	"io"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-metrics"
)

// Recipient is one entry of a registry snapshot.
type Recipient struct {
	ID  uuid.UUID
	Out io.Writer
}

type clientRecord struct {
	name string
	out  io.Writer
	seq  uint64
}

// Registry maps live connections to their display name and output handle.
// Every operation runs under one mutex, so a snapshot sees a record either
// fully registered or fully gone. Callers only ever get copies.
type Registry struct {
	mu      sync.Mutex
	clients map[uuid.UUID]*clientRecord
	seq     uint64
	msink   metrics.MetricSink
}

// NewRegistry returns an empty registry reporting its size to msink. A nil
// sink discards metrics.
func NewRegistry(msink metrics.MetricSink) *Registry {
	if msink == nil {
		msink = &metrics.BlackholeSink{}
	}
	return &Registry{
		clients: make(map[uuid.UUID]*clientRecord),
		msink:   msink,
	}
}

// Register inserts a client record. A connection registers at most once.
func (r *Registry) Register(id uuid.UUID, name string, out io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[id]; exists {
		return ErrAlreadyRegistered
	}

	r.seq++
	r.clients[id] = &clientRecord{name: name, out: out, seq: r.seq}
	r.msink.SetGauge(MetricRegistryClients, float32(len(r.clients)))
	return nil
}

// Deregister removes id and reports whether it was present. Removing an
// unknown identity is a no-op.
func (r *Registry) Deregister(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[id]; !exists {
		return false
	}
	delete(r.clients, id)
	r.msink.SetGauge(MetricRegistryClients, float32(len(r.clients)))
	return true
}

// Snapshot returns every registered client except exclude, in registration
// order. Pass uuid.Nil to exclude nobody.
func (r *Registry) Snapshot(exclude uuid.UUID) []Recipient {
	type entry struct {
		id  uuid.UUID
		rec clientRecord
	}

	r.mu.Lock()
	entries := make([]entry, 0, len(r.clients))
	for id, rec := range r.clients {
		if id == exclude {
			continue
		}
		entries = append(entries, entry{id: id, rec: *rec})
	}
	r.mu.Unlock()

	slices.SortFunc(entries, func(a, b entry) int {
		return cmp.Compare(a.rec.seq, b.rec.seq)
	})

	out := make([]Recipient, len(entries))
	for i, e := range entries {
		out[i] = Recipient{ID: e.id, Out: e.rec.out}
	}
	return out
}

// LookupName returns the display name registered for id.
func (r *Registry) LookupName(id uuid.UUID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.clients[id]
	if !ok {
		return "", false
	}
	return rec.name, true
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Names returns the registered display names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	records := make([]clientRecord, 0, len(r.clients))
	for _, rec := range r.clients {
		records = append(records, *rec)
	}
	r.mu.Unlock()

	slices.SortFunc(records, func(a, b clientRecord) int {
		return cmp.Compare(a.seq, b.seq)
	})

	names := make([]string, len(records))
	for i, rec := range records {
		names[i] = rec.name
	}
	return names
}

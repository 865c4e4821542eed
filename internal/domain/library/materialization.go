package library

import (
	"sync"

	"github.com/edumarques81/stellar-localplayer/internal/infra/handles"
)

// Entry pairs a track (metadata only) with the handle a device plays it from.
type Entry struct {
	Track  Track
	Handle *handles.Handle
}

// Materialization is an ordered playlist snapshot. It owns one reference on
// every handle it holds until Release is called.
type Materialization struct {
	mu       sync.Mutex
	entries  []Entry
	seq      uint64
	released bool
}

// NewMaterialization wraps entries whose handle references are handed over
// to the materialization. It carries no sequence number.
func NewMaterialization(entries []Entry) *Materialization {
	return NewSequencedMaterialization(0, entries)
}

// NewSequencedMaterialization is NewMaterialization for the seq-th read of
// the local store.
func NewSequencedMaterialization(seq uint64, entries []Entry) *Materialization {
	if entries == nil {
		entries = []Entry{}
	}
	return &Materialization{entries: entries, seq: seq}
}

// Seq returns the read sequence number, or 0 when the snapshot does not come
// from the local store (a restored remote playlist, for example).
func (m *Materialization) Seq() uint64 {
	if m == nil {
		return 0
	}
	return m.seq
}

// Len returns the number of entries.
func (m *Materialization) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Entries returns a copy of the entries in playlist order.
func (m *Materialization) Entries() []Entry {
	if m == nil {
		return nil
	}
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// At returns the entry at index i.
func (m *Materialization) At(i int) (Entry, bool) {
	if m == nil || i < 0 || i >= len(m.entries) {
		return Entry{}, false
	}
	return m.entries[i], true
}

// IndexOf returns the position of the track id, or -1.
func (m *Materialization) IndexOf(id string) int {
	if m == nil {
		return -1
	}
	for i, e := range m.entries {
		if e.Track.ID == id {
			return i
		}
	}
	return -1
}

// IDs returns the track ids in playlist order.
func (m *Materialization) IDs() []string {
	if m == nil {
		return nil
	}
	ids := make([]string, len(m.entries))
	for i, e := range m.entries {
		ids[i] = e.Track.ID
	}
	return ids
}

// Release drops the materialization's reference on every handle. It is safe
// to call more than once.
func (m *Materialization) Release() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return
	}
	m.released = true
	for _, e := range m.entries {
		e.Handle.Release()
	}
}

// Package hostregistry keeps one stream host per data host behind stable,
// generation-checked handles.
package hostregistry

import (
	"fmt"

	"github.com/pointcloud/voxelstream/inter/dsrc"
	"github.com/pointcloud/voxelstream/inter/idx"
	"github.com/pointcloud/voxelstream/streaming/streamhost"
)

// Handle refers to a registry entry. A handle of a removed entry never
// resolves again, even after its slot is reused.
type Handle struct {
	slot uint32
	gen  uint32
}

// IsZero reports whether h was never issued.
func (h Handle) IsZero() bool {
	return h.gen == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", h.slot, h.gen)
}

type slot struct {
	gen  uint32
	key  dsrc.Host
	host *streamhost.StreamHost
}

// Registry maps hosts to stream hosts. It is not safe for concurrent use.
type Registry struct {
	slots  []slot
	free   []uint32
	byHost map[dsrc.Host]Handle
}

func New() *Registry {
	return &Registry{
		byHost: make(map[dsrc.Host]Handle),
	}
}

// Lookup finds the entry of host.
func (r *Registry) Lookup(host dsrc.Host) (Handle, *streamhost.StreamHost, bool) {
	h, ok := r.byHost[host]
	if !ok {
		return Handle{}, nil, false
	}
	return h, r.slots[h.slot].host, true
}

// Insert adds sh for host, which must not be registered yet.
func (r *Registry) Insert(host dsrc.Host, sh *streamhost.StreamHost) Handle {
	if _, ok := r.byHost[host]; ok {
		panic(fmt.Sprintf("host %s is already registered", host))
	}
	var i uint32
	if n := len(r.free); n != 0 {
		i = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		i = uint32(len(r.slots))
		r.slots = append(r.slots, slot{})
	}
	s := &r.slots[i]
	s.gen++
	s.key = host
	s.host = sh
	h := Handle{slot: i, gen: s.gen}
	r.byHost[host] = h
	return h
}

// Get resolves h.
func (r *Registry) Get(h Handle) (*streamhost.StreamHost, bool) {
	if h.IsZero() || int(h.slot) >= len(r.slots) {
		return nil, false
	}
	s := &r.slots[h.slot]
	if s.gen != h.gen || s.host == nil {
		return nil, false
	}
	return s.host, true
}

// Remove drops the entry of h, returning its stream host.
func (r *Registry) Remove(h Handle) (*streamhost.StreamHost, bool) {
	sh, ok := r.Get(h)
	if !ok {
		return nil, false
	}
	s := &r.slots[h.slot]
	delete(r.byHost, s.key)
	s.gen++
	s.key = dsrc.Host{}
	s.host = nil
	r.free = append(r.free, h.slot)
	return sh, true
}

// Len is the number of entries.
func (r *Registry) Len() int {
	return len(r.byHost)
}

// ForEach calls fn for every entry until it returns false.
func (r *Registry) ForEach(fn func(Handle, *streamhost.StreamHost) bool) {
	for i := range r.slots {
		s := &r.slots[i]
		if s.host == nil {
			continue
		}
		if !fn(Handle{slot: uint32(i), gen: s.gen}, s.host) {
			return
		}
	}
}

// Clear removes every entry, returning the removed stream hosts.
func (r *Registry) Clear() []*streamhost.StreamHost {
	var removed []*streamhost.StreamHost
	r.ForEach(func(h Handle, _ *streamhost.StreamHost) bool {
		sh, _ := r.Remove(h)
		removed = append(removed, sh)
		return true
	})
	return removed
}

// RetireIdle removes the entries which were not activated during the last
// maxIdle iterations before now. maxIdle == 0 keeps every entry.
func (r *Registry) RetireIdle(now idx.Iteration, maxIdle uint64) []*streamhost.StreamHost {
	if maxIdle == 0 {
		return nil
	}
	var removed []*streamhost.StreamHost
	r.ForEach(func(h Handle, sh *streamhost.StreamHost) bool {
		if sh.State() == streamhost.Idle && now >= sh.LastActive() && uint64(now-sh.LastActive()) >= maxIdle {
			r.Remove(h)
			removed = append(removed, sh)
		}
		return true
	})
	return removed
}

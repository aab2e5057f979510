package session

import "sync"

const registryShards = 16

// Registry is a sharded concurrent map of live sessions, addressable by
// stream SID (media path) and by call SID (webhook path). Sharding by
// FNV-1a keeps unrelated calls off each other's locks under bursty
// media traffic.
type Registry struct {
	byStream [registryShards]regShard
	byCall   [registryShards]regShard
}

type regShard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.byStream {
		r.byStream[i].sessions = make(map[string]*Session)
		r.byCall[i].sessions = make(map[string]*Session)
	}
	return r
}

// fnv1a is the 32-bit FNV-1a hash, inlined to keep shard selection
// allocation-free on the media hot path.
func fnv1a(s string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// Put registers a session under both its stream and call SIDs,
// replacing any prior entry for either key.
func (r *Registry) Put(s *Session) {
	shard := &r.byStream[fnv1a(s.StreamSID)%registryShards]
	shard.mu.Lock()
	shard.sessions[s.StreamSID] = s
	shard.mu.Unlock()

	shard = &r.byCall[fnv1a(s.CallSID)%registryShards]
	shard.mu.Lock()
	shard.sessions[s.CallSID] = s
	shard.mu.Unlock()
}

// ByStream looks up a session by stream SID.
func (r *Registry) ByStream(streamSID string) (*Session, bool) {
	shard := &r.byStream[fnv1a(streamSID)%registryShards]
	shard.mu.RLock()
	s, ok := shard.sessions[streamSID]
	shard.mu.RUnlock()
	return s, ok
}

// ByCall looks up a session by call SID.
func (r *Registry) ByCall(callSID string) (*Session, bool) {
	shard := &r.byCall[fnv1a(callSID)%registryShards]
	shard.mu.RLock()
	s, ok := shard.sessions[callSID]
	shard.mu.RUnlock()
	return s, ok
}

// Remove drops a session by stream SID from both indexes.
func (r *Registry) Remove(streamSID string) {
	shard := &r.byStream[fnv1a(streamSID)%registryShards]
	shard.mu.Lock()
	s, ok := shard.sessions[streamSID]
	delete(shard.sessions, streamSID)
	shard.mu.Unlock()

	if !ok {
		return
	}
	shard = &r.byCall[fnv1a(s.CallSID)%registryShards]
	shard.mu.Lock()
	if cur, ok := shard.sessions[s.CallSID]; ok && cur == s {
		delete(shard.sessions, s.CallSID)
	}
	shard.mu.Unlock()
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	n := 0
	for i := range r.byStream {
		r.byStream[i].mu.RLock()
		n += len(r.byStream[i].sessions)
		r.byStream[i].mu.RUnlock()
	}
	return n
}

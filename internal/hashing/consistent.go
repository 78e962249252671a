package hashing

import (
	"hash/crc32"
	"slices"
	"sort"
	"strconv"
	"sync"
)

const defaultReplicas = 50

// Ring maps identities onto push endpoints so that every session of one
// identity lands on the same relay.
type Ring struct {
	nodes    []uint32
	registry map[uint32]string
	replicas int
	mu       sync.RWMutex
}

func NewRing(replicas int, endpoints ...string) *Ring {
	if replicas <= 0 {
		replicas = defaultReplicas
	}
	r := &Ring{
		registry: make(map[uint32]string),
		replicas: replicas,
	}
	for _, e := range endpoints {
		r.Add(e)
	}
	return r
}

func hash(key string) uint32 {
	return crc32.ChecksumIEEE([]byte(key))
}

func (r *Ring) Add(node string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < r.replicas; i++ {
		identity := node + "#" + strconv.Itoa(i)
		hashedIdentity := hash(identity)
		if _, ok := r.registry[hashedIdentity]; !ok {
			r.registry[hashedIdentity] = node
			r.nodes = append(r.nodes, hashedIdentity)
		}
	}
	slices.Sort(r.nodes)
}

// Get returns the endpoint for key, or "" when the ring is empty.
func (r *Ring) Get(key string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.nodes) == 0 {
		return ""
	}

	hashed := hash(key)

	idx := sort.Search(len(r.nodes), func(i int) bool {
		return r.nodes[i] >= hashed
	})

	if idx == len(r.nodes) {
		idx = 0
	}

	return r.registry[r.nodes[idx]]
}

func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes) / r.replicas
}

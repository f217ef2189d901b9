package store

import (
	"github.com/coder/hnsw"
)

// vectorIndex wraps a coder/hnsw graph with string ID mapping and lazy
// deletion. It is derived state owned by Store and guarded by Store.mu;
// it has no locking of its own.
type vectorIndex struct {
	graph      *hnsw.Graph[uint64]
	dimensions int

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
}

func newVectorIndex(dimensions int) *vectorIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &vectorIndex{
		graph:      graph,
		dimensions: dimensions,
		idMap:      make(map[string]uint64),
		keyMap:     make(map[uint64]string),
	}
}

// add inserts or replaces a vector. Replacement orphans the old graph
// node instead of deleting it; deleting the last node corrupts the
// coder/hnsw graph, so orphans are filtered out at search time instead.
func (vi *vectorIndex) add(id string, vector []float32) {
	if existing, ok := vi.idMap[id]; ok {
		delete(vi.keyMap, existing)
		delete(vi.idMap, id)
	}

	key := vi.nextKey
	vi.nextKey++

	vec := make([]float32, len(vector))
	copy(vec, vector)
	vi.graph.Add(hnsw.MakeNode(key, vec))

	vi.idMap[id] = key
	vi.keyMap[key] = id
}

// remove lazily deletes a vector by ID.
func (vi *vectorIndex) remove(id string) {
	if key, ok := vi.idMap[id]; ok {
		delete(vi.keyMap, key)
		delete(vi.idMap, id)
	}
}

// neighbor is one nearest-neighbor result.
type neighbor struct {
	id    string
	score float64
}

// search returns up to k live neighbors of the query vector, scored by
// cosine similarity mapped to [0,1].
func (vi *vectorIndex) search(query []float32, k int) []neighbor {
	if vi.graph.Len() == 0 || k <= 0 {
		return nil
	}

	// Oversample to cover orphaned nodes left by lazy deletion.
	nodes := vi.graph.Search(query, k*2)

	results := make([]neighbor, 0, k)
	for _, node := range nodes {
		id, live := vi.keyMap[node.Key]
		if !live {
			continue
		}
		distance := vi.graph.Distance(query, node.Value)
		results = append(results, neighbor{
			id:    id,
			score: distanceToScore(distance),
		})
		if len(results) == k {
			break
		}
	}
	return results
}

func (vi *vectorIndex) len() int {
	return len(vi.idMap)
}

// distanceToScore maps cosine distance (0 identical, 2 opposite) to a
// similarity score in [0,1].
func distanceToScore(distance float32) float64 {
	return 1.0 - float64(distance)/2.0
}

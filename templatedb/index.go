package templatedb

import (
	"container/heap"
	"math"
	"math/rand"
	"sort"

	"github.com/hupe1980/vecgo/metric"
	"github.com/hupe1980/vecgo/queue"
)

const (
	// number of points sampled per node to estimate per-dimension variance
	varianceSampleSize = 100
	// the split dimension is drawn among this many highest-variance dimensions
	randomDimCandidates = 5
)

// IndexParams configures the randomized kd-tree forest.
type IndexParams struct {
	Trees    int   `yaml:"trees" mapstructure:"trees"`         // number of randomized trees
	Checks   int   `yaml:"checks" mapstructure:"checks"`       // leaf points examined per query before stopping
	LeafSize int   `yaml:"leaf_size" mapstructure:"leaf_size"` // max points stored in a leaf
	Seed     int64 `yaml:"seed" mapstructure:"seed"`           // seeds split selection so rebuilds are reproducible
}

// DefaultIndexParams returns two trees searched with 16 checks.
func DefaultIndexParams() IndexParams {
	return IndexParams{
		Trees:    2,
		Checks:   16,
		LeafSize: 1,
		Seed:     42,
	}
}

// Neighbor is one search hit: a global descriptor index and its squared L2 distance.
type Neighbor struct {
	Index    int
	Distance float32
}

type kdNode struct {
	leaf   bool
	dim    int
	split  float32
	left   uint32
	right  uint32
	points []int
}

// Index is an approximate nearest neighbor index over a fixed descriptor
// matrix. It is immutable once built; changing the data means building a new
// Index.
type Index struct {
	data   [][]float32
	dim    int
	nodes  []kdNode
	roots  []uint32
	params IndexParams
}

// NewIndex builds a forest of randomized kd-trees over data. Every row must
// have the same length. data is retained, not copied.
func NewIndex(data [][]float32, params IndexParams) *Index {
	if params.Trees <= 0 {
		params.Trees = 1
	}
	if params.Checks <= 0 {
		params.Checks = 1
	}
	if params.LeafSize <= 0 {
		params.LeafSize = 1
	}

	idx := &Index{data: data, params: params}
	if len(data) == 0 {
		return idx
	}
	idx.dim = len(data[0])

	//nolint:gosec
	rng := rand.New(rand.NewSource(params.Seed))
	for t := 0; t < params.Trees; t++ {
		ind := rng.Perm(len(data))
		idx.roots = append(idx.roots, idx.divide(ind, rng))
	}
	return idx
}

// Len returns the number of indexed descriptors.
func (idx *Index) Len() int { return len(idx.data) }

// Dim returns the descriptor length.
func (idx *Index) Dim() int { return idx.dim }

func (idx *Index) newNode(n kdNode) uint32 {
	idx.nodes = append(idx.nodes, n)
	return uint32(len(idx.nodes) - 1)
}

// divide recursively splits ind on a randomly chosen high-variance dimension.
func (idx *Index) divide(ind []int, rng *rand.Rand) uint32 {
	if len(ind) <= idx.params.LeafSize {
		return idx.newNode(kdNode{leaf: true, points: ind})
	}

	dim, split := idx.chooseSplit(ind, rng)
	lim := partition(idx.data, ind, dim, split)
	if lim == 0 || lim == len(ind) {
		// every sampled value is equal on this dimension; fall back to a median cut
		sort.Slice(ind, func(a, b int) bool { return idx.data[ind[a]][dim] < idx.data[ind[b]][dim] })
		lim = len(ind) / 2
		split = idx.data[ind[lim]][dim]
		if idx.data[ind[0]][dim] == idx.data[ind[len(ind)-1]][dim] {
			return idx.newNode(kdNode{leaf: true, points: ind})
		}
		lim = partition(idx.data, ind, dim, split)
		if lim == 0 || lim == len(ind) {
			return idx.newNode(kdNode{leaf: true, points: ind})
		}
	}

	self := idx.newNode(kdNode{dim: dim, split: split})
	left := idx.divide(ind[:lim], rng)
	right := idx.divide(ind[lim:], rng)
	idx.nodes[self].left = left
	idx.nodes[self].right = right
	return self
}

func (idx *Index) chooseSplit(ind []int, rng *rand.Rand) (int, float32) {
	n := len(ind)
	if n > varianceSampleSize {
		n = varianceSampleSize
	}

	mean := make([]float64, idx.dim)
	for _, i := range ind[:n] {
		for d, v := range idx.data[i] {
			mean[d] += float64(v)
		}
	}
	for d := range mean {
		mean[d] /= float64(n)
	}

	variance := make([]float64, idx.dim)
	for _, i := range ind[:n] {
		for d, v := range idx.data[i] {
			diff := float64(v) - mean[d]
			variance[d] += diff * diff
		}
	}

	dims := make([]int, idx.dim)
	for d := range dims {
		dims[d] = d
	}
	sort.SliceStable(dims, func(a, b int) bool { return variance[dims[a]] > variance[dims[b]] })

	candidates := randomDimCandidates
	if candidates > len(dims) {
		candidates = len(dims)
	}
	dim := dims[rng.Intn(candidates)]
	return dim, float32(mean[dim])
}

// partition reorders ind so values below split come first and returns their count.
func partition(data [][]float32, ind []int, dim int, split float32) int {
	lim := 0
	for i := range ind {
		if data[ind[i]][dim] < split {
			ind[i], ind[lim] = ind[lim], ind[i]
			lim++
		}
	}
	return lim
}

// resultSet keeps the k closest neighbors seen so far, sorted ascending.
type resultSet struct {
	k     int
	items []Neighbor
}

func (r *resultSet) full() bool { return len(r.items) == r.k }

func (r *resultSet) worst() float32 {
	if !r.full() {
		return float32(math.Inf(1))
	}
	return r.items[len(r.items)-1].Distance
}

func (r *resultSet) add(n Neighbor) {
	if r.full() && n.Distance >= r.worst() {
		return
	}
	pos := sort.Search(len(r.items), func(i int) bool { return r.items[i].Distance > n.Distance })
	if !r.full() {
		r.items = append(r.items, Neighbor{})
	}
	copy(r.items[pos+1:], r.items[pos:len(r.items)-1])
	r.items[pos] = n
}

// Search returns up to k approximate nearest neighbors of q, closest first.
// Branches across all trees share one best-bin-first queue; the search stops
// once Checks leaf points have been examined and k results are held.
func (idx *Index) Search(q []float32, k int) []Neighbor {
	if len(idx.data) == 0 || k <= 0 || len(q) != idx.dim {
		return nil
	}
	if k > len(idx.data) {
		k = len(idx.data)
	}

	s := searcher{
		idx:     idx,
		q:       q,
		results: resultSet{k: k, items: make([]Neighbor, 0, k)},
		visited: make(map[int]struct{}, idx.params.Checks*2),
		pq:      queue.NewMin(idx.params.Checks),
	}
	heap.Init(s.pq)

	for _, root := range idx.roots {
		s.descend(root, 0)
	}
	for s.pq.Len() > 0 && (s.checks < idx.params.Checks || !s.results.full()) {
		item, _ := heap.Pop(s.pq).(*queue.PriorityQueueItem)
		s.descend(item.Node, item.Distance)
	}
	return s.results.items
}

type searcher struct {
	idx     *Index
	q       []float32
	results resultSet
	visited map[int]struct{}
	pq      *queue.PriorityQueue
	checks  int
}

func (s *searcher) descend(n uint32, minDist float32) {
	for {
		if s.results.full() && minDist > s.results.worst() {
			return
		}
		node := &s.idx.nodes[n]
		if node.leaf {
			for _, p := range node.points {
				if _, seen := s.visited[p]; seen {
					continue
				}
				s.visited[p] = struct{}{}
				s.checks++
				// lengths are checked by Database.Add and Database.Search
				d, err := metric.SquaredL2(s.q, s.idx.data[p])
				if err != nil {
					continue
				}
				s.results.add(Neighbor{Index: p, Distance: d})
			}
			return
		}

		diff := s.q[node.dim] - node.split
		best, other := node.left, node.right
		if diff >= 0 {
			best, other = node.right, node.left
		}
		cut := minDist + diff*diff
		if !s.results.full() || cut < s.results.worst() {
			heap.Push(s.pq, &queue.PriorityQueueItem{Node: other, Distance: cut})
		}
		n = best
	}
}

package core

import (
	"github.com/sirupsen/logrus"
)

// MaxNumPeers bounds the number of direct neighbors the bit-parallel BFS
// can track distinctly (one bit per neighbor in a 128-bit route mask).
// This is a hard design cap: Non-goals explicitly exclude more than 128
// direct neighbors.
const MaxNumPeers = 128

// unreachableWarnThreshold is the count of used-but-unreachable ids above
// which calculate_distance logs a warning, matching the original's
// "We store more than 1000 unreachable nodes" diagnostic.
const unreachableWarnThreshold = 1000

// routeMask is a 128-bit bitmask, one bit per direct neighbor of the
// source, wide enough to satisfy MaxNumPeers.
type routeMask struct {
	lo, hi uint64
}

func (m routeMask) bit(i int) bool {
	if i < 64 {
		return m.lo&(1<<uint(i)) != 0
	}
	return m.hi&(1<<uint(i-64)) != 0
}

func (m *routeMask) setBit(i int) {
	if i < 64 {
		m.lo |= 1 << uint(i)
	} else {
		m.hi |= 1 << uint(i-64)
	}
}

func (m routeMask) isZero() bool { return m.lo == 0 && m.hi == 0 }

func (m *routeMask) mergeFrom(other routeMask) {
	m.lo |= other.lo
	m.hi |= other.hi
}

// Graph is a compact integer-indexed undirected adjacency store supporting
// the bit-parallel multi-source BFS that computes, for every reachable
// peer, the subset of the source's direct neighbors lying on some shortest
// path to it.
type Graph struct {
	myPeerId PeerId
	sourceID uint32

	p2id map[PeerId]uint32
	id2p []PeerId
	used []bool
	// unused is the free-list of reclaimed ids (Invariant G3).
	unused []uint32
	// adjacency is undirected: both endpoints store the other (Invariant G2).
	adjacency [][]uint32

	totalActiveEdges uint64
}

// NewGraph creates a Graph rooted at source. Id 0 is permanently reserved
// for the source and always used (Invariant G1).
func NewGraph(source PeerId) *Graph {
	g := &Graph{
		myPeerId: source,
		sourceID: 0,
		p2id:     make(map[PeerId]uint32),
	}
	g.id2p = append(g.id2p, source)
	g.adjacency = append(g.adjacency, nil)
	g.used = append(g.used, true)
	g.p2id[source] = g.sourceID
	return g
}

// MyPeerId returns the source peer this graph is rooted at.
func (g *Graph) MyPeerId() PeerId { return g.myPeerId }

// TotalActiveEdges returns the incrementally maintained edge count.
func (g *Graph) TotalActiveEdges() uint64 { return g.totalActiveEdges }

// ComputeTotalActiveEdges recomputes the edge count from scratch by
// summing adjacency list lengths and halving (Invariant G2), used to
// cross-check the incrementally maintained counter.
func (g *Graph) ComputeTotalActiveEdges() uint64 {
	var total uint64
	for _, adj := range g.adjacency {
		total += uint64(len(adj))
	}
	if total%2 != 0 {
		panic("core: graph adjacency sum is odd, Invariant G2 violated")
	}
	return total / 2
}

// ContainsEdge reports whether an active edge exists between peer0 and
// peer1, symmetric regardless of argument order.
func (g *Graph) ContainsEdge(peer0, peer1 PeerId) bool {
	id0, ok0 := g.p2id[peer0]
	if !ok0 {
		return false
	}
	id1, ok1 := g.p2id[peer1]
	if !ok1 {
		return false
	}
	return containsID(g.adjacency[id0], id1)
}

func containsID(list []uint32, id uint32) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(list []uint32, id uint32) []uint32 {
	out := list[:0]
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// getID returns the existing internal id for peer, allocating one if
// necessary: first reusing a free-list slot (Invariant G3), otherwise
// appending a new slot.
func (g *Graph) getID(peer PeerId) uint32 {
	if id, ok := g.p2id[peer]; ok {
		return id
	}
	var id uint32
	if n := len(g.unused); n > 0 {
		id = g.unused[n-1]
		g.unused = g.unused[:n-1]
		g.id2p[id] = peer
		g.used[id] = true
		g.adjacency[id] = g.adjacency[id][:0]
	} else {
		id = uint32(len(g.id2p))
		g.id2p = append(g.id2p, peer)
		g.used = append(g.used, true)
		g.adjacency = append(g.adjacency, nil)
	}
	g.p2id[peer] = id
	return id
}

// removeIfUnused returns id to the free-list and drops its p2id entry once
// its adjacency list is empty, unless id is the permanent source
// (Invariant G3).
func (g *Graph) removeIfUnused(id uint32) {
	if id == g.sourceID {
		return
	}
	if len(g.adjacency[id]) == 0 {
		g.used[id] = false
		g.unused = append(g.unused, id)
		delete(g.p2id, g.id2p[id])
	}
}

// AddEdge installs an active edge between peer0 and peer1. Idempotent: a
// second call for an already-present pair is a no-op, preserving Invariant
// G2's exact edge count. Panics if peer0 == peer1, a caller contract
// breach (an edge cannot connect a peer to itself).
func (g *Graph) AddEdge(peer0, peer1 PeerId) {
	if peer0 == peer1 {
		panic("core: AddEdge requires distinct peers")
	}
	if g.ContainsEdge(peer0, peer1) {
		return
	}
	id0 := g.getID(peer0)
	id1 := g.getID(peer1)
	g.adjacency[id0] = append(g.adjacency[id0], id1)
	g.adjacency[id1] = append(g.adjacency[id1], id0)
	g.totalActiveEdges++
}

// RemoveEdge drops the edge between peer0 and peer1 if present. A no-op on
// an already-absent pair. Panics if peer0 == peer1.
func (g *Graph) RemoveEdge(peer0, peer1 PeerId) {
	if peer0 == peer1 {
		panic("core: RemoveEdge requires distinct peers")
	}
	if !g.ContainsEdge(peer0, peer1) {
		return
	}
	id0 := g.getID(peer0)
	id1 := g.getID(peer1)
	g.adjacency[id0] = removeID(g.adjacency[id0], id1)
	g.adjacency[id1] = removeID(g.adjacency[id1], id0)
	g.removeIfUnused(id0)
	g.removeIfUnused(id1)
	g.totalActiveEdges--
}

// CalculateDistance runs the bit-parallel multi-source BFS and returns, for
// every peer other than the source reachable from it, the non-empty subset
// of the source's direct neighbors lying on some shortest path to that
// peer. Direct neighbors map to themselves; unreachable peers are absent.
func (g *Graph) CalculateDistance() map[PeerId][]PeerId {
	nodes := len(g.id2p)
	distance := make([]int32, nodes)
	routes := make([]routeMask, nodes)
	for i := range distance {
		distance[i] = -1
	}
	distance[g.sourceID] = 0

	queue := make([]uint32, 0, nodes)
	sourceNeighbors := g.adjacency[g.sourceID]
	for i, neighbor := range sourceNeighbors {
		if i >= MaxNumPeers {
			break
		}
		distance[neighbor] = 1
		routes[neighbor].setBit(i)
		queue = append(queue, neighbor)
	}

	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		curDistance := distance[cur]
		for _, neighbor := range g.adjacency[cur] {
			if distance[neighbor] == -1 {
				distance[neighbor] = curDistance + 1
				queue = append(queue, neighbor)
			}
			if distance[neighbor] == curDistance+1 {
				routes[neighbor].mergeFrom(routes[cur])
			}
		}
	}

	return g.computeResult(routes, distance, sourceNeighbors)
}

func (g *Graph) computeResult(routes []routeMask, distance []int32, sourceNeighbors []uint32) map[PeerId][]PeerId {
	res := make(map[PeerId][]PeerId, len(routes))
	unreachable := 0

	for id, route := range routes {
		if distance[id] == -1 && g.used[id] {
			unreachable++
		}
		if uint32(id) == g.sourceID || distance[id] == -1 || route.isZero() || !g.used[id] {
			continue
		}
		peers := make([]PeerId, 0)
		for i, neighbor := range sourceNeighbors {
			if i >= MaxNumPeers {
				break
			}
			if route.bit(i) {
				peers = append(peers, g.id2p[neighbor])
			}
		}
		res[g.id2p[id]] = peers
	}

	if unreachable > unreachableWarnThreshold {
		logrus.Warnf("routing: graph holds more than %d unreachable nodes: %d", unreachableWarnThreshold, unreachable)
	}
	return res
}

package core

import (
	"encoding/json"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// Routing table LRU capacities and round-robin tuning, overridable at
// construction time via RoutingTableConfig but defaulting to the values
// the original routing table used.
const (
	defaultAccountPeersCacheSize  = 10_000
	defaultRouteNonceCacheSize    = 10_000
	defaultPingPongCacheSize      = 1_000
	defaultRoundRobinMaxNonceDiff = 10
)

// RoutingTableConfig tunes the bounded caches backing a RoutingTableView.
// Zero-valued fields fall back to defaults.
type RoutingTableConfig struct {
	AccountPeersCacheSize  int
	RouteNonceCacheSize    int
	PingPongCacheSize      int
	RoundRobinMaxNonceDiff uint64
}

func (c RoutingTableConfig) withDefaults() RoutingTableConfig {
	if c.AccountPeersCacheSize <= 0 {
		c.AccountPeersCacheSize = defaultAccountPeersCacheSize
	}
	if c.RouteNonceCacheSize <= 0 {
		c.RouteNonceCacheSize = defaultRouteNonceCacheSize
	}
	if c.PingPongCacheSize <= 0 {
		c.PingPongCacheSize = defaultPingPongCacheSize
	}
	if c.RoundRobinMaxNonceDiff == 0 {
		c.RoundRobinMaxNonceDiff = defaultRoundRobinMaxNonceDiff
	}
	return c
}

// FindRouteError is the structured failure taxonomy find_route reports to
// its caller, distinguishing why a target could not be resolved.
var (
	// ErrDisconnected means the target has a forwarding entry but it is
	// currently empty (known once, reachable by nobody now).
	ErrDisconnected = errors.New("routing: target is disconnected")
	// ErrPeerNotFound means the target has no forwarding entry at all.
	ErrPeerNotFound = errors.New("routing: target peer not found")
	// ErrAccountNotFound means no announcement is known for the account,
	// in cache or in persistent storage.
	ErrAccountNotFound = errors.New("routing: account not found")
	// ErrRouteBackNotFound means the route-back cache holds no entry for
	// the given hash (already consumed, evicted, or never inserted).
	ErrRouteBackNotFound = errors.New("routing: no route back for hash")
)

type edgeKey struct {
	a, b PeerId
}

func edgeKeyOf(e Edge) edgeKey {
	p0, p1 := e.Key()
	return edgeKey{a: p0, b: p1}
}

// RoutingTableView is the local node's live view of the signed overlay
// graph: known edges, the precomputed next-hop table, account ownership,
// the route-back cache, the usage counters behind round-robin next-hop
// selection across multiple shortest paths, and ping/pong liveness
// bookkeeping.
type RoutingTableView struct {
	myPeerId PeerId
	clock    Clock
	store    Store
	cfg      RoutingTableConfig

	graph *Graph

	// localEdgesInfo holds the latest accepted edge (Added or Removed) for
	// each canonical pair.
	localEdgesInfo map[edgeKey]Edge

	// peerForwarding maps a reachable peer to the subset of my direct
	// neighbors that lie on some shortest path to it.
	peerForwarding map[PeerId][]PeerId

	accountPeers *lru.Cache[AccountId, AnnounceAccount]
	routeBack    *RouteBackCache
	// routeNonce holds the per-candidate usage counters find_route's
	// round-robin selection reads and increments (§4.4).
	routeNonce *lru.Cache[PeerId, uint64]

	// pingInfo/pongInfo count how many times each nonce has been observed
	// inbound, guarding against double-processing a retransmitted probe.
	pingInfo *lru.Cache[uint64, int]
	pongInfo *lru.Cache[uint64, int]
	// waitingPong holds, per target, the send time of each outstanding
	// ping nonce awaiting a matching pong, for RTT accounting.
	waitingPong map[PeerId]*lru.Cache[uint64, int64]
	// lastPingNonce is this node's per-target outgoing ping nonce
	// counter, handed out by GetPing starting at 0.
	lastPingNonce map[PeerId]uint64
}

// NewRoutingTableView constructs a RoutingTableView rooted at myPeerId,
// backed by store for account-announcement persistence. store may be nil,
// in which case account lookups are cache-only.
func NewRoutingTableView(myPeerId PeerId, clock Clock, store Store, cfg RoutingTableConfig) *RoutingTableView {
	cfg = cfg.withDefaults()

	accountPeers, err := lru.New[AccountId, AnnounceAccount](cfg.AccountPeersCacheSize)
	if err != nil {
		panic(fmt.Sprintf("core: invalid account peers cache size: %v", err))
	}
	routeNonce, err := lru.New[PeerId, uint64](cfg.RouteNonceCacheSize)
	if err != nil {
		panic(fmt.Sprintf("core: invalid route nonce cache size: %v", err))
	}
	pingInfo, err := lru.New[uint64, int](cfg.PingPongCacheSize)
	if err != nil {
		panic(fmt.Sprintf("core: invalid ping cache size: %v", err))
	}
	pongInfo, err := lru.New[uint64, int](cfg.PingPongCacheSize)
	if err != nil {
		panic(fmt.Sprintf("core: invalid pong cache size: %v", err))
	}

	return &RoutingTableView{
		myPeerId:       myPeerId,
		clock:          clock,
		store:          store,
		cfg:            cfg,
		graph:          NewGraph(myPeerId),
		localEdgesInfo: make(map[edgeKey]Edge),
		peerForwarding: make(map[PeerId][]PeerId),
		accountPeers:   accountPeers,
		routeBack:      NewRouteBackCache(clock),
		routeNonce:     routeNonce,
		pingInfo:       pingInfo,
		pongInfo:       pongInfo,
		waitingPong:    make(map[PeerId]*lru.Cache[uint64, int64]),
		lastPingNonce:  make(map[PeerId]uint64),
	}
}

// IsLocalEdgeNewer reports whether a candidate edge for (peer0, peer1) with
// nonce is newer than whatever this node currently holds for that pair —
// true if nothing is held yet.
func (rt *RoutingTableView) IsLocalEdgeNewer(peer0, peer1 PeerId, nonce uint64) bool {
	a, b := OrderedPair(peer0, peer1)
	existing, ok := rt.localEdgesInfo[edgeKey{a: a, b: b}]
	if !ok {
		return true
	}
	return nonce > existing.Nonce()
}

// GetEdge returns the locally held edge for (peer0, peer1), if any.
func (rt *RoutingTableView) GetEdge(peer0, peer1 PeerId) (Edge, bool) {
	a, b := OrderedPair(peer0, peer1)
	e, ok := rt.localEdgesInfo[edgeKey{a: a, b: b}]
	return e, ok
}

// AddVerifiedEdge installs an already-verified edge into the routing
// table, updating the underlying graph and recomputing the forwarding
// table. Returns false if an edge with an equal or greater nonce for the
// same pair is already held (Invariant E3 — last nonce wins), in which
// case the call is a no-op.
func (rt *RoutingTableView) AddVerifiedEdge(e Edge) bool {
	p0, p1 := e.Key()
	if !rt.IsLocalEdgeNewer(p0, p1, e.Nonce()) {
		return false
	}
	rt.localEdgesInfo[edgeKeyOf(e)] = e
	switch e.Type() {
	case EdgeAdded:
		rt.graph.AddEdge(p0, p1)
	case EdgeRemoved:
		rt.graph.RemoveEdge(p0, p1)
	}
	rt.recalculateForwarding()
	return true
}

// RemoveEdges evicts the given canonical pairs from the local edge set and
// the underlying graph, then recomputes the forwarding table once.
func (rt *RoutingTableView) RemoveEdges(pairs [][2]PeerId) {
	for _, pair := range pairs {
		a, b := OrderedPair(pair[0], pair[1])
		key := edgeKey{a: a, b: b}
		if _, ok := rt.localEdgesInfo[key]; !ok {
			continue
		}
		delete(rt.localEdgesInfo, key)
		rt.graph.RemoveEdge(a, b)
	}
	rt.recalculateForwarding()
}

func (rt *RoutingTableView) recalculateForwarding() {
	rt.peerForwarding = rt.graph.CalculateDistance()
}

// FindRouteFromPeerId resolves the next direct neighbor this node should
// forward a message to in order to eventually reach target, implementing
// the §4.4 round-robin usage-counter algorithm over peerForwarding[target]:
// each candidate's usage counter is read from routeNonce (default 0); the
// candidate with the smallest counter is selected (ties broken by peer
// ordering), its counter is clamped so it never trails the largest
// candidate counter by more than RoundRobinMaxNonceDiff, and is then
// incremented. Missing target returns ErrPeerNotFound; a known-but-empty
// forwarding entry returns ErrDisconnected.
func (rt *RoutingTableView) FindRouteFromPeerId(target PeerId) (PeerId, error) {
	candidates, ok := rt.peerForwarding[target]
	if !ok {
		return PeerId{}, ErrPeerNotFound
	}
	if len(candidates) == 0 {
		return PeerId{}, ErrDisconnected
	}

	type counted struct {
		peer    PeerId
		counter uint64
	}
	vals := make([]counted, len(candidates))
	for i, p := range candidates {
		c, _ := rt.routeNonce.Get(p)
		vals[i] = counted{peer: p, counter: c}
	}

	minIdx, maxIdx := 0, 0
	for i := 1; i < len(vals); i++ {
		if vals[i].counter < vals[minIdx].counter ||
			(vals[i].counter == vals[minIdx].counter && vals[i].peer.Less(vals[minIdx].peer)) {
			minIdx = i
		}
		if vals[i].counter > vals[maxIdx].counter ||
			(vals[i].counter == vals[maxIdx].counter && vals[maxIdx].peer.Less(vals[i].peer)) {
			maxIdx = i
		}
	}
	min, max := vals[minIdx], vals[maxIdx]
	if max.counter-min.counter > rt.cfg.RoundRobinMaxNonceDiff {
		min.counter = max.counter - rt.cfg.RoundRobinMaxNonceDiff
	}
	rt.routeNonce.Add(min.peer, min.counter+1)
	return min.peer, nil
}

// FindRoute resolves a PeerIdOrHash target: a direct PeerId target goes
// through FindRouteFromPeerId, a hash target is resolved destructively
// through the route-back cache (consuming the entry).
func (rt *RoutingTableView) FindRoute(target PeerIdOrHash) (PeerId, error) {
	if target.IsHash() {
		peer, ok := rt.routeBack.Remove(target.HashValue())
		if !ok {
			return PeerId{}, ErrRouteBackNotFound
		}
		return peer, nil
	}
	return rt.FindRouteFromPeerId(target.PeerIdValue())
}

// AddRouteBack records that a message forwarded under hash should, if a
// reply comes back, be routed to peer.
func (rt *RoutingTableView) AddRouteBack(hash Hash, peer PeerId) {
	rt.routeBack.Insert(hash, peer)
}

// CompareRouteBack reports whether hash currently resolves to peer without
// consuming the entry. Restored from the original's compare_route_back.
func (rt *RoutingTableView) CompareRouteBack(hash Hash, peer PeerId) bool {
	return rt.routeBack.CompareRouteBack(hash, peer)
}

// AddAccount inserts a into account_peers and writes it through to the
// Store under ColumnAccountAnnouncements, keyed by account id bytes.
// Storage errors are logged, not propagated (§4.4).
func (rt *RoutingTableView) AddAccount(a AnnounceAccount) {
	rt.accountPeers.Add(a.AccountId, a)
	if rt.store == nil {
		return
	}
	raw, err := json.Marshal(a)
	if err != nil {
		logrus.Warnf("routing: marshal account announcement for %s: %v", a.AccountId, err)
		return
	}
	if err := rt.store.Put(ColumnAccountAnnouncements, []byte(a.AccountId), raw); err != nil {
		logrus.Warnf("routing: persist account announcement for %s: %v", a.AccountId, err)
	}
}

// AccountOwner returns the peer currently believed to own accountId,
// consulting account_peers first and falling back to persistent storage
// (repopulating the cache on a hit). Returns ErrAccountNotFound if absent
// from both.
func (rt *RoutingTableView) AccountOwner(accountId AccountId) (PeerId, error) {
	if a, ok := rt.accountPeers.Get(accountId); ok {
		return a.PeerId, nil
	}
	if rt.store != nil {
		raw, err := rt.store.Get(ColumnAccountAnnouncements, []byte(accountId))
		if err != nil {
			logrus.Warnf("routing: account store lookup for %s: %v", accountId, err)
		} else if raw != nil {
			var a AnnounceAccount
			if err := json.Unmarshal(raw, &a); err != nil {
				logrus.Warnf("routing: corrupt stored account announcement for %s: %v", accountId, err)
			} else {
				rt.accountPeers.Add(accountId, a)
				return a.PeerId, nil
			}
		}
	}
	return PeerId{}, ErrAccountNotFound
}

// ContainsAccount reports whether an equivalent announcement — same
// account id and matching epoch id — is already known.
func (rt *RoutingTableView) ContainsAccount(announce AnnounceAccount) bool {
	a, ok := rt.accountPeers.Get(announce.AccountId)
	return ok && a.EpochId == announce.EpochId
}

// ReachablePeers returns every peer with a forwarding-table entry,
// restored from the original's reachable_peers.
func (rt *RoutingTableView) ReachablePeers() []PeerId {
	peers := make([]PeerId, 0, len(rt.peerForwarding))
	for p := range rt.peerForwarding {
		peers = append(peers, p)
	}
	return peers
}

// RoutingTableInfo is a read-only snapshot of the routing table, restored
// from the original's RoutingTableInfo/info() for diagnostics callers.
type RoutingTableInfo struct {
	AccountPeers   map[AccountId]PeerId
	PeerForwarding map[PeerId][]PeerId
}

// Info returns a point-in-time snapshot of the routing table's account
// ownership and forwarding state.
func (rt *RoutingTableView) Info() RoutingTableInfo {
	accounts := make(map[AccountId]PeerId, rt.accountPeers.Len())
	for _, key := range rt.accountPeers.Keys() {
		if a, ok := rt.accountPeers.Peek(key); ok {
			accounts[key] = a.PeerId
		}
	}
	forwarding := make(map[PeerId][]PeerId, len(rt.peerForwarding))
	for k, v := range rt.peerForwarding {
		cp := make([]PeerId, len(v))
		copy(cp, v)
		forwarding[k] = cp
	}
	return RoutingTableInfo{AccountPeers: accounts, PeerForwarding: forwarding}
}

//---------------------------------------------------------------------
// Ping / Pong liveness bookkeeping
//---------------------------------------------------------------------

// GetPing returns peer's next outgoing ping nonce and increments the
// per-peer counter, starting at 0 on first use (§4.4, §9).
func (rt *RoutingTableView) GetPing(peer PeerId) uint64 {
	n := rt.lastPingNonce[peer]
	rt.lastPingNonce[peer] = n + 1
	return n
}

// SendingPing records that this node is sending a ping with nonce to
// target, so the matching pong's round-trip time can later be computed.
func (rt *RoutingTableView) SendingPing(target PeerId, nonce uint64) {
	waiting, ok := rt.waitingPong[target]
	if !ok {
		var err error
		waiting, err = lru.New[uint64, int64](rt.cfg.PingPongCacheSize)
		if err != nil {
			panic(fmt.Sprintf("core: invalid waiting-pong cache size: %v", err))
		}
		rt.waitingPong[target] = waiting
	}
	waiting.Add(nonce, rt.clock.NowMillis())
}

// AddPing records an inbound ping from a peer, counting occurrences per
// nonce in ping_info so a retransmitted probe can be recognized as a
// duplicate by the caller.
func (rt *RoutingTableView) AddPing(p Ping) {
	count, _ := rt.pingInfo.Get(p.Nonce)
	rt.pingInfo.Add(p.Nonce, count+1)
}

// AddPong records an inbound pong (counting occurrences per nonce in
// pong_info) and, if the matching ping is still tracked, clears the
// waiting-pong entry and returns the round-trip time in milliseconds.
func (rt *RoutingTableView) AddPong(p Pong) (rttMillis int64, ok bool) {
	count, _ := rt.pongInfo.Get(p.Nonce)
	rt.pongInfo.Add(p.Nonce, count+1)

	waiting, exists := rt.waitingPong[p.Source]
	if !exists {
		return 0, false
	}
	sentAt, found := waiting.Peek(p.Nonce)
	if !found {
		return 0, false
	}
	waiting.Remove(p.Nonce)
	return rt.clock.NowMillis() - sentAt, true
}

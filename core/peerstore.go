package core

import (
	"encoding/json"
	"errors"
	"math/rand"

	"github.com/sirupsen/logrus"
)

// TrustLevel ranks how an address/peer pairing was learned, controlling
// whose claim wins when two conflicting records collide (Indirect <
// Direct < Signed).
type TrustLevel int

const (
	// Indirect is gossiped secondhand, the weakest trust level.
	Indirect TrustLevel = iota
	// Direct is claimed by the peer itself but not cryptographically
	// proven. A live connection (PeerConnected) records Signed instead.
	Direct
	// Signed carries a cryptographic signature over the claim, the
	// strongest trust level.
	Signed
)

func (t TrustLevel) String() string {
	switch t {
	case Indirect:
		return "indirect"
	case Direct:
		return "direct"
	case Signed:
		return "signed"
	default:
		return "unknown"
	}
}

// ReasonForBan enumerates why a peer was banned, restored from the
// original's full reason taxonomy (the distilled spec only names
// Banned(reason, t) without enumerating reason).
type ReasonForBan int

const (
	ReasonNone ReasonForBan = iota
	ReasonBadBlock
	ReasonBadBlockHeader
	ReasonBadHandshake
	ReasonBadFinalityProof
	ReasonInvalidSignature
	ReasonInvalidPeerId
	ReasonInvalidHash
	ReasonInvalidEdge
	ReasonAbusive
	ReasonInvalidSignal
	ReasonBlacklisted
)

func (r ReasonForBan) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonBadBlock:
		return "bad_block"
	case ReasonBadBlockHeader:
		return "bad_block_header"
	case ReasonBadHandshake:
		return "bad_handshake"
	case ReasonBadFinalityProof:
		return "bad_finality_proof"
	case ReasonInvalidSignature:
		return "invalid_signature"
	case ReasonInvalidPeerId:
		return "invalid_peer_id"
	case ReasonInvalidHash:
		return "invalid_hash"
	case ReasonInvalidEdge:
		return "invalid_edge"
	case ReasonAbusive:
		return "abusive"
	case ReasonInvalidSignal:
		return "invalid_signal"
	case ReasonBlacklisted:
		return "blacklisted"
	default:
		return "unknown"
	}
}

// PeerStatus is the connection lifecycle state of a known peer. The four
// values mirror the spec's peer_states status taxonomy exactly: a peer
// that has never connected is Unknown, one that has disconnected (or was
// loaded from persistence) is NotConnected, a live handshake makes it
// Connected, and a violation makes it Banned.
type PeerStatus int

const (
	StatusUnknown PeerStatus = iota
	StatusNotConnected
	StatusConnected
	StatusBanned
)

func (s PeerStatus) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusNotConnected:
		return "not_connected"
	case StatusConnected:
		return "connected"
	case StatusBanned:
		return "banned"
	default:
		return "invalid"
	}
}

// ErrPeerUnknown is returned by operations that require an already-known
// peer (e.g. PeerDisconnected) when no record exists.
var ErrPeerUnknown = errors.New("peerstore: unknown peer")

// KnownPeerState is everything this node remembers about one peer: its
// identity, its last known network address, trust level, connection
// status and ban reason if any. It is the record persisted verbatim
// (JSON-encoded) under ColumnPeers.
type KnownPeerState struct {
	PeerId     PeerId
	Addr       string
	TrustLevel TrustLevel
	Status     PeerStatus
	BanReason  ReasonForBan
	BannedAt   int64
	LastSeen   int64
	FirstSeen  int64
}

// PeerStore is the authoritative record of every peer this node has ever
// learned about, their addresses, trust levels and ban status. It
// maintains a symmetric address->peer index alongside the primary
// peer->state map (Invariant P1): every address appearing in some state's
// Addr must map back to that same peer in the index, and vice versa.
// Every mutation writes through to the backing Store under ColumnPeers.
type PeerStore struct {
	clock Clock
	store Store

	peers     map[PeerId]*KnownPeerState
	addrIndex map[string]PeerId
	bootNodes map[PeerId]struct{}
}

// NewPeerStore constructs a PeerStore backed by store, seeded with
// bootNodes as pre-trusted peers, and hydrated from any previously
// persisted peer rows. Boot nodes are installed as Signed entries first;
// a persisted row that matches a boot node id only overrides that entry
// if it was persisted as banned (the ban propagates), and the persisted
// row's address is not loaded for it. Boot nodes are given as bare ids and
// installed without an address, so no persisted row is dropped here for
// colliding with a boot node's address; boot-node address protection
// applies only to addresses bound later (see enforceAddrIndex).
func NewPeerStore(clock Clock, store Store, bootNodes []PeerId) *PeerStore {
	ps := &PeerStore{
		clock:     clock,
		store:     store,
		peers:     make(map[PeerId]*KnownPeerState),
		addrIndex: make(map[string]PeerId),
		bootNodes: make(map[PeerId]struct{}, len(bootNodes)),
	}
	for _, b := range bootNodes {
		ps.bootNodes[b] = struct{}{}
	}

	now := clock.Now()
	for _, b := range bootNodes {
		ps.peers[b] = &KnownPeerState{
			PeerId:     b,
			TrustLevel: Signed,
			Status:     StatusUnknown,
			FirstSeen:  now,
			LastSeen:   now,
		}
	}

	if store == nil {
		return ps
	}
	it := store.Iterate(ColumnPeers)
	for it.Next() {
		var persisted KnownPeerState
		if err := json.Unmarshal(it.Value(), &persisted); err != nil {
			logrus.Warnf("peerstore: corrupt persisted peer record, skipping: %v", err)
			continue
		}
		persisted.LastSeen = now
		if persisted.Status != StatusBanned {
			persisted.Status = StatusNotConnected
		}
		if ps.isBoot(persisted.PeerId) {
			if persisted.Status == StatusBanned {
				if existing, ok := ps.peers[persisted.PeerId]; ok {
					existing.Status = StatusBanned
					existing.BanReason = persisted.BanReason
					existing.BannedAt = persisted.BannedAt
				}
			}
			continue
		}
		if persisted.Addr != "" {
			if owner, ok := ps.addrIndex[persisted.Addr]; ok && ps.isBoot(owner) {
				logrus.Debugf("peerstore: dropping persisted peer %s, address %s reserved by boot node", persisted.PeerId, persisted.Addr)
				continue
			}
		}
		state := persisted
		ps.peers[state.PeerId] = &state
		if state.Addr != "" {
			ps.addrIndex[state.Addr] = state.PeerId
		}
	}
	if err := it.Err(); err != nil {
		logrus.Warnf("peerstore: iterate persisted peers: %v", err)
	}
	return ps
}

func (ps *PeerStore) isBoot(p PeerId) bool {
	_, ok := ps.bootNodes[p]
	return ok
}

func (ps *PeerStore) writeThrough(state *KnownPeerState) {
	if ps.store == nil {
		return
	}
	raw, err := json.Marshal(state)
	if err != nil {
		logrus.Warnf("peerstore: marshal peer %s: %v", state.PeerId, err)
		return
	}
	if err := ps.store.Put(ColumnPeers, state.PeerId.Bytes(), raw); err != nil {
		logrus.Warnf("peerstore: persist peer %s: %v", state.PeerId, err)
	}
}

// enforceAddrIndex attempts to bind newAddr to peer, maintaining
// Invariant P1. It refuses — returning false, leaving the caller's
// state.Addr untouched — when newAddr already belongs to a boot node and
// peer is not itself a boot node. On success it drops the old address
// mapping (if it was peer's), strips the previous holder's Addr field so
// peer_states and addr_peers never disagree about who owns an address,
// and returns true.
func (ps *PeerStore) enforceAddrIndex(peer PeerId, oldAddr, newAddr string) bool {
	if newAddr != "" {
		if existing, ok := ps.addrIndex[newAddr]; ok && existing != peer {
			if ps.isBoot(existing) && !ps.isBoot(peer) {
				logrus.Debugf("peerstore: address %s retained by boot node %s, not reassigned to %s", newAddr, existing, peer)
				return false
			}
			if prevState, ok := ps.peers[existing]; ok && prevState.Addr == newAddr {
				prevState.Addr = ""
				ps.writeThrough(prevState)
			}
			logrus.Infof("peerstore: address %s reassigned from %s to %s", newAddr, existing, peer)
		}
	}
	if oldAddr != "" && oldAddr != newAddr {
		if owner, ok := ps.addrIndex[oldAddr]; ok && owner == peer {
			delete(ps.addrIndex, oldAddr)
		}
	}
	if newAddr != "" {
		ps.addrIndex[newAddr] = peer
	}
	return true
}

// AddPeer records or updates a peer at the given trust level, dispatching
// on the spec's central add_peer decision table:
//
//	Signed             -> replace address binding unconditionally
//	Direct, addr is Signed-verified -> ignore (no hijack of a signed-in peer)
//	Direct, otherwise  -> replace address binding
//	Indirect, peer and address both unknown -> install at Indirect
//	Indirect, otherwise -> ignore
//	any, no address    -> insert without address at Unknown status if peer unknown, else no-op
func (ps *PeerStore) AddPeer(peer PeerId, addr string, level TrustLevel) {
	now := ps.clock.Now()
	state, exists := ps.peers[peer]

	if addr == "" {
		if !exists {
			state = &KnownPeerState{PeerId: peer, TrustLevel: level, Status: StatusUnknown, FirstSeen: now, LastSeen: now}
			ps.peers[peer] = state
			ps.writeThrough(state)
		}
		return
	}

	switch level {
	case Direct:
		if exists && state.Addr != "" && state.TrustLevel == Signed {
			state.LastSeen = now
			ps.writeThrough(state)
			return
		}
	case Indirect:
		_, addrKnown := ps.addrIndex[addr]
		if exists || addrKnown {
			if exists {
				state.LastSeen = now
				ps.writeThrough(state)
			}
			return
		}
	}

	if !exists {
		state = &KnownPeerState{PeerId: peer, FirstSeen: now}
		ps.peers[peer] = state
	}
	old := state.Addr
	if ps.enforceAddrIndex(peer, old, addr) {
		state.Addr = addr
		state.TrustLevel = level
	}
	state.LastSeen = now
	ps.writeThrough(state)
}

// AddIndirectPeers records a batch of gossiped peers at Indirect trust.
func (ps *PeerStore) AddIndirectPeers(peers map[PeerId]string) {
	for peer, addr := range peers {
		ps.AddPeer(peer, addr, Indirect)
	}
}

// AddTrustedPeer records peer at Signed trust, the strongest level,
// matching the original's handling of peers vouched for by a signed
// handshake or account announcement.
func (ps *PeerStore) AddTrustedPeer(peer PeerId, addr string) {
	ps.AddPeer(peer, addr, Signed)
}

// PeerConnected upserts peer at Signed trust (a live connection is the
// strongest possible vouch) and marks it Connected, writing through.
func (ps *PeerStore) PeerConnected(peer PeerId, addr string) {
	now := ps.clock.Now()
	state, exists := ps.peers[peer]
	if !exists {
		state = &KnownPeerState{PeerId: peer, FirstSeen: now}
		ps.peers[peer] = state
	}
	if addr != "" {
		old := state.Addr
		if ps.enforceAddrIndex(peer, old, addr) {
			state.Addr = addr
		}
	}
	state.TrustLevel = Signed
	state.Status = StatusConnected
	state.LastSeen = now
	ps.writeThrough(state)
}

// PeerDisconnected marks peer as NotConnected, retaining its known address
// and trust level, and writes through. Returns ErrPeerUnknown if peer has
// no record.
func (ps *PeerStore) PeerDisconnected(peer PeerId) error {
	state, ok := ps.peers[peer]
	if !ok {
		return ErrPeerUnknown
	}
	state.Status = StatusNotConnected
	state.LastSeen = ps.clock.Now()
	ps.writeThrough(state)
	return nil
}

// PeerBan marks peer as banned for reason, overriding any connection
// status, and writes through. Boot nodes can still be banned — the
// boot-node exemption only covers address-collision resolution, not ban
// eligibility.
func (ps *PeerStore) PeerBan(peer PeerId, reason ReasonForBan) {
	state, ok := ps.peers[peer]
	if !ok {
		state = &KnownPeerState{PeerId: peer, FirstSeen: ps.clock.Now()}
		ps.peers[peer] = state
	}
	state.Status = StatusBanned
	state.BanReason = reason
	state.BannedAt = ps.clock.Now()
	ps.writeThrough(state)
	logrus.Warnf("peerstore: banned peer %s: %s", peer, reason)
}

// PeerUnban clears a ban, returning the peer to NotConnected status, and
// writes through.
func (ps *PeerStore) PeerUnban(peer PeerId) {
	state, ok := ps.peers[peer]
	if !ok || state.Status != StatusBanned {
		return
	}
	state.Status = StatusNotConnected
	state.BanReason = ReasonNone
	ps.writeThrough(state)
}

// IsBanned reports whether peer is currently banned.
func (ps *PeerStore) IsBanned(peer PeerId) bool {
	state, ok := ps.peers[peer]
	return ok && state.Status == StatusBanned
}

// Get returns the known state for peer, if any.
func (ps *PeerStore) Get(peer PeerId) (KnownPeerState, bool) {
	state, ok := ps.peers[peer]
	if !ok {
		return KnownPeerState{}, false
	}
	return *state, true
}

// UnconnectedPeer returns a random peer that is NotConnected or Unknown,
// has a known address, and is not in the ignore set, for use as a dialing
// target. Returns false if no such peer exists.
func (ps *PeerStore) UnconnectedPeer(ignore map[PeerId]struct{}) (PeerId, bool) {
	candidates := make([]PeerId, 0)
	for id, state := range ps.peers {
		if state.Status != StatusUnknown && state.Status != StatusNotConnected {
			continue
		}
		if state.Addr == "" {
			continue
		}
		if _, skip := ignore[id]; skip {
			continue
		}
		candidates = append(candidates, id)
	}
	if len(candidates) == 0 {
		return PeerId{}, false
	}
	return candidates[rand.Intn(len(candidates))], true
}

// HealthyPeers returns up to max peers that are not banned, sampled
// without a fixed order, matching the original's use of random sampling
// to avoid always preferring the same subset for gossip fanout.
func (ps *PeerStore) HealthyPeers(max int) []PeerId {
	candidates := make([]PeerId, 0, len(ps.peers))
	for id, state := range ps.peers {
		if state.Status != StatusBanned {
			candidates = append(candidates, id)
		}
	}
	rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	if max > 0 && len(candidates) > max {
		candidates = candidates[:max]
	}
	return candidates
}

// RemoveExpired drops peers whose LastSeen predates the cutoff unix
// second, unless they are connected, banned, or a boot node — boot nodes
// are never expired, matching the original's permanent retention of
// configured bootstrap peers.
func (ps *PeerStore) RemoveExpired(cutoff int64) int {
	removed := 0
	for id, state := range ps.peers {
		if ps.isBoot(id) || state.Status == StatusConnected || state.Status == StatusBanned {
			continue
		}
		if state.LastSeen < cutoff {
			delete(ps.peers, id)
			if state.Addr != "" {
				if owner, ok := ps.addrIndex[state.Addr]; ok && owner == id {
					delete(ps.addrIndex, state.Addr)
				}
			}
			if ps.store != nil {
				if err := ps.store.Delete(ColumnPeers, id.Bytes()); err != nil {
					logrus.Warnf("peerstore: delete expired peer %s: %v", id, err)
				}
			}
			removed++
		}
	}
	return removed
}

// Len returns the total number of known peers.
func (ps *PeerStore) Len() int { return len(ps.peers) }

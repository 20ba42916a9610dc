package core

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
)

// EdgeType classifies an Edge as adding or removing a link, derived purely
// from the parity of its nonce (Invariant E2).
type EdgeType int

const (
	// EdgeAdded marks a link as currently live (odd nonce).
	EdgeAdded EdgeType = iota
	// EdgeRemoved marks a link as cancelled (even nonce).
	EdgeRemoved
)

// edgeHash computes hash(peer0, peer1, nonce) over the canonically ordered
// pair, the value both half-signatures are taken over. Callers must already
// have peer0 < peer1; edgeHash does not reorder.
func edgeHash(peer0, peer1 PeerId, nonce uint64) Hash {
	h := sha256.New()
	h.Write(peer0.Bytes())
	h.Write(peer1.Bytes())
	var nb [8]byte
	binary.BigEndian.PutUint64(nb[:], nonce)
	h.Write(nb[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// EdgeInfo is a half-edge: one party's proposal nonce and signature over
// hash(key.0, key.1, nonce), to be combined with the other party's own
// signature into a full Edge.
type EdgeInfo struct {
	Nonce     uint64
	Signature []byte
}

// SignHalf signs a proposed Added edge between peer0 and peer1 with the
// caller's secret key, returning the half-edge to send to the other party.
// peer0/peer1 need not be pre-ordered; the canonical hash is computed
// internally.
func SignHalf(peer0, peer1 PeerId, nonce uint64, mySecret ed25519.PrivateKey) EdgeInfo {
	a, b := OrderedPair(peer0, peer1)
	data := edgeHash(a, b, nonce)
	sig := ed25519.Sign(mySecret, data[:])
	return EdgeInfo{Nonce: nonce, Signature: sig}
}

// PartialVerify checks that edgeInfo.Signature is peer1's valid signature
// over hash(key.0, key.1, edgeInfo.Nonce) under the canonical ordering of
// peer0/peer1, used when a new potential neighbor first proposes an edge.
func PartialVerify(peer0, peer1 PeerId, edgeInfo EdgeInfo) bool {
	a, b := OrderedPair(peer0, peer1)
	data := edgeHash(a, b, edgeInfo.Nonce)
	return ed25519.Verify(peer1.PublicKey(), data[:], edgeInfo.Signature)
}

// NextNonce returns the next valid Added-edge nonce following nonce, per
// Invariant E2/E4: an odd current nonce (Added) must jump by 2 to land on
// the next odd value; an even nonce (Removed, or the initial 0) advances by
// 1 to the next odd value.
func NextNonce(nonce uint64) uint64 {
	if nonce%2 == 1 {
		return nonce + 2
	}
	return nonce + 1
}

// removalInfo records which endpoint removed an edge and that endpoint's
// signature over the removal hash (Invariant E5).
type removalInfo struct {
	removedByPeer1 bool // false: key.0 removed it, true: key.1 removed it
	signature      []byte
}

// Edge is the immutable, canonically-oriented, signed representation of a
// link between two peers. It is shared (never mutated) once constructed;
// "updating" an edge means replacing the (peer0,peer1) entry with one whose
// nonce is strictly greater.
type Edge struct {
	peer0, peer1 PeerId
	nonce        uint64
	signature0   []byte // peer0's signature over the Added hash
	signature1   []byte // peer1's signature over the Added hash
	removal      *removalInfo
}

// NewEdge constructs an Added edge from two half-signatures, canonicalizing
// the (peer0, peer1) orientation and swapping signatures along with their
// owning peer so that signatureN always corresponds to keyN (Invariant E1).
func NewEdge(peer0, peer1 PeerId, nonce uint64, signature0, signature1 []byte) Edge {
	if peer1.Less(peer0) {
		peer0, peer1 = peer1, peer0
		signature0, signature1 = signature1, signature0
	}
	return Edge{peer0: peer0, peer1: peer1, nonce: nonce, signature0: signature0, signature1: signature1}
}

// Key returns the canonically ordered (peer0, peer1) pair identifying this
// edge, independent of nonce or add/remove state.
func (e Edge) Key() (PeerId, PeerId) { return e.peer0, e.peer1 }

// Nonce returns the edge's monotonic version counter.
func (e Edge) Nonce() uint64 { return e.nonce }

// Type classifies the edge per Invariant E2.
func (e Edge) Type() EdgeType {
	if e.nonce%2 == 1 {
		return EdgeAdded
	}
	return EdgeRemoved
}

// ContainsPeer reports whether peer is one of this edge's two endpoints.
func (e Edge) ContainsPeer(peer PeerId) bool {
	return e.peer0 == peer || e.peer1 == peer
}

// Other returns the endpoint of this edge other than me, and false if me is
// not one of the edge's endpoints.
func (e Edge) Other(me PeerId) (PeerId, bool) {
	switch {
	case e.peer0 == me:
		return e.peer1, true
	case e.peer1 == me:
		return e.peer0, true
	default:
		return PeerId{}, false
	}
}

// ToSimpleEdge drops the signatures, producing the gossip/sync identity of
// this edge.
func (e Edge) ToSimpleEdge() SimpleEdge {
	return SimpleEdge{peer0: e.peer0, peer1: e.peer1, nonce: e.nonce}
}

// addHash returns the hash the two Added half-signatures were taken over:
// hash(key.0, key.1, nonce) for an Added edge, hash(key.0, key.1, nonce-1)
// for a Removed edge (Invariant E4).
func (e Edge) addHash() Hash {
	if e.Type() == EdgeAdded {
		return edgeHash(e.peer0, e.peer1, e.nonce)
	}
	return edgeHash(e.peer0, e.peer1, e.nonce-1)
}

// removeHash returns hash(key.0, key.1, nonce), the value the removing
// party's signature covers (Invariant E5). Only meaningful for Removed
// edges.
func (e Edge) removeHash() Hash {
	return edgeHash(e.peer0, e.peer1, e.nonce)
}

// RemoveEdge derives the Removed counterpart of an Added edge: nonce+1,
// both original Add signatures preserved, with a fresh removal signature
// from myPeerId over the removal hash. Panics if added is not an Added
// edge or myPeerId is not one of its endpoints — both are caller contract
// breaches, not recoverable verification failures.
func RemoveEdge(added Edge, myPeerId PeerId, mySecret ed25519.PrivateKey) Edge {
	if added.Type() != EdgeAdded {
		panic("core: RemoveEdge requires an Added edge")
	}
	if !added.ContainsPeer(myPeerId) {
		panic("core: RemoveEdge requires myPeerId to be an endpoint of added")
	}
	out := added
	out.nonce = added.nonce + 1
	removedByPeer1 := myPeerId == out.peer1
	h := out.removeHash()
	sig := ed25519.Sign(mySecret, h[:])
	out.removal = &removalInfo{removedByPeer1: removedByPeer1, signature: sig}
	return out
}

// Verify enforces invariants E1-E5: canonical ordering, both half-signatures
// valid over the appropriate hash, and — for Removed edges — that
// removal_info is present and its signature is valid over the removal hash
// from the peer it names. Returns false rather than erroring; edge
// verification failures are routing-policy rejections, not exceptions.
func (e Edge) Verify() bool {
	if e.peer1.Less(e.peer0) {
		return false
	}
	switch e.Type() {
	case EdgeAdded:
		if e.removal != nil {
			return false
		}
		data := e.addHash()
		return ed25519.Verify(e.peer0.PublicKey(), data[:], e.signature0) &&
			ed25519.Verify(e.peer1.PublicKey(), data[:], e.signature1)
	case EdgeRemoved:
		if e.nonce == 0 {
			return false
		}
		addData := e.addHash()
		if !ed25519.Verify(e.peer0.PublicKey(), addData[:], e.signature0) ||
			!ed25519.Verify(e.peer1.PublicKey(), addData[:], e.signature1) {
			return false
		}
		if e.removal == nil {
			return false
		}
		remover := e.peer0
		if e.removal.removedByPeer1 {
			remover = e.peer1
		}
		delData := e.removeHash()
		return ed25519.Verify(remover.PublicKey(), delData[:], e.removal.signature)
	default:
		return false
	}
}

// SimpleEdge is the signature-free identity of an Edge, used for
// gossip/sync set reconciliation (e.g. an IBF exchange) where only the
// (pair, nonce) triple is needed.
type SimpleEdge struct {
	peer0, peer1 PeerId
	nonce        uint64
}

// NewSimpleEdge canonicalizes peer0/peer1 and builds a SimpleEdge.
func NewSimpleEdge(peer0, peer1 PeerId, nonce uint64) SimpleEdge {
	a, b := OrderedPair(peer0, peer1)
	return SimpleEdge{peer0: a, peer1: b, nonce: nonce}
}

// Key returns the canonically ordered endpoint pair.
func (s SimpleEdge) Key() (PeerId, PeerId) { return s.peer0, s.peer1 }

// Nonce returns the edge's version counter.
func (s SimpleEdge) Nonce() uint64 { return s.nonce }

// Type classifies the edge per Invariant E2.
func (s SimpleEdge) Type() EdgeType {
	if s.nonce%2 == 1 {
		return EdgeAdded
	}
	return EdgeRemoved
}

//---------------------------------------------------------------------
// ValidIBFLevel — set-reconciliation level bounds (spec §6, §9)
//---------------------------------------------------------------------

// ValidIBFLevel represents one level of the Incremental Bloom Filter used
// by the (externally transported) edge-set reconciliation protocol. Valid
// levels range 10..17 inclusive.
type ValidIBFLevel uint64

// MinIBFLevel and MaxIBFLevel bound the valid IBF level range.
const (
	MinIBFLevel ValidIBFLevel = 10
	MaxIBFLevel ValidIBFLevel = 17
)

// IsValid reports whether l falls within [MinIBFLevel, MaxIBFLevel].
func (l ValidIBFLevel) IsValid() bool {
	return l >= MinIBFLevel && l <= MaxIBFLevel
}

// Inc returns the next IBF level and true, or (0, false) if incrementing
// would leave the valid range.
func (l ValidIBFLevel) Inc() (ValidIBFLevel, bool) {
	next := l + 1
	if next >= MinIBFLevel && next <= MaxIBFLevel {
		return next, true
	}
	return 0, false
}

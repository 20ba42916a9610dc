// Package core implements the peer-to-peer routing subsystem: the signed
// overlay graph, its shortest-path forwarding tables, the route-back cache,
// and the persistent peer store. Network I/O, wire serialization and actor
// dispatch live in package netstack; core only defines the contracts those
// collaborators feed into and consume.
package core

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

//---------------------------------------------------------------------
// PeerId
//---------------------------------------------------------------------

// PeerId is the opaque identity of a node in the overlay: a public key and
// its canonical byte form. PeerId is comparable and totally ordered
// bytewise on its serialized form, matching Invariant E1's requirement that
// edges be stored under a canonical (lesser, greater) key.
type PeerId struct {
	raw [ed25519.PublicKeySize]byte
}

// NewPeerId wraps a public key as a PeerId. Panics if pub is not a valid
// ed25519 public key size, since that indicates a caller contract breach
// rather than a recoverable condition.
func NewPeerId(pub ed25519.PublicKey) PeerId {
	if len(pub) != ed25519.PublicKeySize {
		panic(fmt.Sprintf("core: invalid public key length %d", len(pub)))
	}
	var p PeerId
	copy(p.raw[:], pub)
	return p
}

// PublicKey returns the ed25519 public key backing this PeerId.
func (p PeerId) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(p.raw[:])
}

// Bytes returns the canonical serialized form used for ordering and hashing.
func (p PeerId) Bytes() []byte {
	return p.raw[:]
}

// Less reports whether p sorts before other under the bytewise canonical
// ordering required by Invariant E1.
func (p PeerId) Less(other PeerId) bool {
	return bytes.Compare(p.raw[:], other.raw[:]) < 0
}

// String returns a short hex-like diagnostic representation.
func (p PeerId) String() string {
	return fmt.Sprintf("%x", p.raw[:8])
}

// OrderedPair returns (peer0, peer1) in canonical order (peer0 < peer1),
// implementing Edge.make_key / Invariant E1.
func OrderedPair(a, b PeerId) (PeerId, PeerId) {
	if a.Less(b) {
		return a, b
	}
	return b, a
}

// MarshalJSON renders a PeerId as its hex-encoded public key, for
// persisted records (KnownPeerState, AnnounceAccount) that round-trip
// through Store.
func (p PeerId) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(p.raw[:]))
}

// UnmarshalJSON restores a PeerId from its hex-encoded public key.
func (p *PeerId) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("core: decode peer id: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return fmt.Errorf("core: invalid peer id length %d", len(b))
	}
	copy(p.raw[:], b)
	return nil
}

//---------------------------------------------------------------------
// Hash / Address
//---------------------------------------------------------------------

// Hash is a 32-byte cryptographic fingerprint, used both as the route-back
// cache key and as the AccountId/message-hash representation.
type Hash [32]byte

func (h Hash) String() string { return fmt.Sprintf("%x", h[:8]) }

// MarshalJSON renders a Hash as a hex string rather than a JSON array of
// 32 numbers.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h[:]))
}

// UnmarshalJSON restores a Hash from its hex encoding.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("core: decode hash: %w", err)
	}
	if len(b) != len(h) {
		return fmt.Errorf("core: invalid hash length %d", len(b))
	}
	copy(h[:], b)
	return nil
}

// AccountId identifies an on-chain account announced by a peer.
type AccountId string

//---------------------------------------------------------------------
// AnnounceAccount
//---------------------------------------------------------------------

// AnnounceAccount binds an AccountId to the PeerId that currently owns it,
// scoped to an epoch so stale announcements can be superseded.
type AnnounceAccount struct {
	AccountId AccountId
	PeerId    PeerId
	EpochId   Hash
	Signature []byte
}

//---------------------------------------------------------------------
// PeerIdOrHash — sum-typed routing target
//---------------------------------------------------------------------

// PeerIdOrHash is the tagged target of a routed message: either a direct
// peer identity or the hash fingerprint of a message being routed back.
// Exactly one of the two accessors is meaningful, discriminated by IsHash.
type PeerIdOrHash struct {
	isHash bool
	peer   PeerId
	hash   Hash
}

// TargetPeerId builds a PeerIdOrHash addressed to a PeerId.
func TargetPeerId(p PeerId) PeerIdOrHash { return PeerIdOrHash{peer: p} }

// TargetHash builds a PeerIdOrHash addressed to a route-back Hash.
func TargetHash(h Hash) PeerIdOrHash { return PeerIdOrHash{isHash: true, hash: h} }

// IsHash reports whether this target resolves via the route-back cache.
func (t PeerIdOrHash) IsHash() bool { return t.isHash }

// PeerIdValue returns the peer target. Only meaningful when !IsHash().
func (t PeerIdOrHash) PeerIdValue() PeerId { return t.peer }

// HashValue returns the route-back hash target. Only meaningful when IsHash().
func (t PeerIdOrHash) HashValue() Hash { return t.hash }

//---------------------------------------------------------------------
// Ping / Pong — liveness probes
//---------------------------------------------------------------------

// Ping is a liveness probe sent to a target peer.
type Ping struct {
	Nonce  uint64
	Source PeerId
}

// Pong answers a Ping with the same nonce it was sent with.
type Pong struct {
	Nonce  uint64
	Source PeerId
}

//---------------------------------------------------------------------
// Store — opaque column-scoped persistence (external collaborator)
//---------------------------------------------------------------------

// Column names a logical namespace within Store, keeping keys from distinct
// record kinds from colliding on disk.
type Column string

const (
	// ColumnAccountAnnouncements holds AccountId -> serialized AnnounceAccount.
	ColumnAccountAnnouncements Column = "account_announcements"
	// ColumnPeers holds serialized PeerId -> serialized KnownPeerState.
	ColumnPeers Column = "peers"
)

// StoreIterator walks the key/value pairs of a single column in an
// unspecified but stable order.
type StoreIterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
}

// StoreBatch batches a sequence of mutations for atomic commit.
type StoreBatch interface {
	Put(col Column, key, value []byte)
	Delete(col Column, key []byte)
	Commit() error
}

// Store is the opaque key-value persistence collaborator. The routing core
// never assumes anything about its implementation (embedded KV engine,
// remote service, or in-memory test double) beyond this contract.
type Store interface {
	Get(col Column, key []byte) ([]byte, error)
	Put(col Column, key, value []byte) error
	Delete(col Column, key []byte) error
	Iterate(col Column) StoreIterator
	NewBatch() StoreBatch
}

//---------------------------------------------------------------------
// Clock — injectable time source (external collaborator)
//---------------------------------------------------------------------

// Clock abstracts wall-clock time so cache expiry and RTT measurement are
// deterministically testable.
type Clock interface {
	Now() int64      // unix seconds
	NowMillis() int64
}

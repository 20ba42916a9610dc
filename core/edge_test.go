package core

import (
	"crypto/ed25519"
	"testing"
)

func genPeer(t *testing.T) (PeerId, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return NewPeerId(pub), priv
}

func makeAddedEdge(t *testing.T) (Edge, PeerId, ed25519.PrivateKey, PeerId, ed25519.PrivateKey) {
	t.Helper()
	peerA, secA := genPeer(t)
	peerB, secB := genPeer(t)
	a, b := OrderedPair(peerA, peerB)
	secForA, secForB := secA, secB
	if a == peerB {
		secForA, secForB = secB, secA
	}
	half0 := SignHalf(a, b, 1, secForA)
	half1 := SignHalf(a, b, 1, secForB)
	e := NewEdge(a, b, 1, half0.Signature, half1.Signature)
	return e, a, secForA, b, secForB
}

func TestNewEdgeCanonicalizesOrder(t *testing.T) {
	peerA, secA := genPeer(t)
	peerB, secB := genPeer(t)
	a, b := OrderedPair(peerA, peerB)

	var sigA, sigB []byte
	if peerA == a {
		sigA = SignHalf(a, b, 1, secA).Signature
		sigB = SignHalf(a, b, 1, secB).Signature
	} else {
		sigA = SignHalf(a, b, 1, secB).Signature
		sigB = SignHalf(a, b, 1, secA).Signature
	}

	// Construct with endpoints reversed; NewEdge must still store peer0 < peer1.
	e := NewEdge(b, a, 1, sigB, sigA)
	k0, k1 := e.Key()
	if k0 != a || k1 != b {
		t.Fatalf("NewEdge did not canonicalize order")
	}
	if !e.Verify() {
		t.Fatalf("canonicalized edge should verify")
	}
}

func TestAddedEdgeVerifies(t *testing.T) {
	e, _, _, _, _ := makeAddedEdge(t)
	if e.Type() != EdgeAdded {
		t.Fatalf("expected EdgeAdded, got %v", e.Type())
	}
	if !e.Verify() {
		t.Fatalf("expected added edge to verify")
	}
}

func TestEdgeVerifyRejectsTamperedSignature(t *testing.T) {
	e, _, _, _, _ := makeAddedEdge(t)
	tampered := e
	tampered.signature0 = append([]byte(nil), e.signature0...)
	tampered.signature0[0] ^= 0xFF
	if tampered.Verify() {
		t.Fatalf("tampered signature should not verify")
	}
}

func TestRemoveEdgeProducesVerifiableRemoval(t *testing.T) {
	e, peer0, sec0, peer1, _ := makeAddedEdge(t)
	removed := RemoveEdge(e, peer0, sec0)
	if removed.Type() != EdgeRemoved {
		t.Fatalf("expected EdgeRemoved, got %v", removed.Type())
	}
	if removed.Nonce() != e.Nonce()+1 {
		t.Fatalf("expected nonce to advance by 1, got %d", removed.Nonce())
	}
	if !removed.Verify() {
		t.Fatalf("expected removal to verify")
	}
	other, ok := removed.Other(peer1)
	if !ok || other != peer0 {
		t.Fatalf("Other(peer1) should return peer0")
	}
}

func TestRemoveEdgePanicsOnNonAddedInput(t *testing.T) {
	e, peer0, sec0, _, _ := makeAddedEdge(t)
	removed := RemoveEdge(e, peer0, sec0)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic removing an already-removed edge")
		}
	}()
	RemoveEdge(removed, peer0, sec0)
}

func TestRemoveEdgePanicsOnForeignPeer(t *testing.T) {
	e, _, _, _, _ := makeAddedEdge(t)
	foreign, foreignSec := genPeer(t)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic removing with a non-endpoint peer")
		}
	}()
	RemoveEdge(e, foreign, foreignSec)
}

func TestNextNonceParity(t *testing.T) {
	cases := map[uint64]uint64{
		0: 1,
		1: 3,
		2: 3,
		3: 5,
		4: 5,
	}
	for in, want := range cases {
		if got := NextNonce(in); got != want {
			t.Errorf("NextNonce(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestPartialVerify(t *testing.T) {
	peerA, secA := genPeer(t)
	peerB, secB := genPeer(t)
	a, b := OrderedPair(peerA, peerB)
	secForB := secB
	if b == peerA {
		secForB = secA
	}
	half := SignHalf(a, b, 5, secForB)
	if !PartialVerify(a, b, half) {
		t.Fatalf("expected PartialVerify to accept a valid half-signature from peer1")
	}
}

func TestValidIBFLevel(t *testing.T) {
	if ValidIBFLevel(9).IsValid() {
		t.Fatalf("9 should be below the valid IBF range")
	}
	if !ValidIBFLevel(10).IsValid() || !ValidIBFLevel(17).IsValid() {
		t.Fatalf("10 and 17 are the inclusive IBF range bounds")
	}
	if ValidIBFLevel(18).IsValid() {
		t.Fatalf("18 should be above the valid IBF range")
	}
	next, ok := ValidIBFLevel(16).Inc()
	if !ok || next != 17 {
		t.Fatalf("Inc() from 16 should yield (17, true), got (%d, %v)", next, ok)
	}
	if _, ok := ValidIBFLevel(17).Inc(); ok {
		t.Fatalf("Inc() past the max level should fail")
	}
}

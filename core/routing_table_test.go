package core

import (
	"crypto/ed25519"
	"testing"
)

func newRTPeer(t *testing.T) (PeerId, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return NewPeerId(pub), priv
}

func installAddedEdge(t *testing.T, rt *RoutingTableView, p0 PeerId, s0 ed25519.PrivateKey, p1 PeerId, s1 ed25519.PrivateKey, nonce uint64) {
	t.Helper()
	a, b := OrderedPair(p0, p1)
	secForA, secForB := s0, s1
	if a != p0 {
		secForA, secForB = s1, s0
	}
	half0 := SignHalf(a, b, nonce, secForA)
	half1 := SignHalf(a, b, nonce, secForB)
	e := NewEdge(a, b, nonce, half0.Signature, half1.Signature)
	if !rt.AddVerifiedEdge(e) {
		t.Fatalf("expected edge nonce=%d to install", nonce)
	}
}

func TestRoutingTableFindRouteDirectNeighbor(t *testing.T) {
	me, _ := newRTPeer(t)
	a, sa := newRTPeer(t)
	clock := NewManualClock(1000)
	rt := NewRoutingTableView(me, clock, NewMemStore(), RoutingTableConfig{})

	_, meSec := newRTPeer(t)
	installAddedEdge(t, rt, me, meSec, a, sa, 1)

	next, err := rt.FindRouteFromPeerId(a)
	if err != nil || next != a {
		t.Fatalf("direct neighbor should route through itself, err=%v", err)
	}
}

// TestRoutingTableRoundRobin exercises the diamond scenario (S1/S2):
// two equally-good next hops to the same target should be cycled through
// across repeated calls rather than always returning the same one.
func TestRoutingTableRoundRobin(t *testing.T) {
	me, meSec := newRTPeer(t)
	b1, s1 := newRTPeer(t)
	b2, s2 := newRTPeer(t)
	c, sc := newRTPeer(t)
	clock := NewManualClock(1000)
	rt := NewRoutingTableView(me, clock, NewMemStore(), RoutingTableConfig{})

	installAddedEdge(t, rt, me, meSec, b1, s1, 1)
	installAddedEdge(t, rt, me, meSec, b2, s2, 1)
	installAddedEdge(t, rt, b1, s1, c, sc, 1)
	installAddedEdge(t, rt, b2, s2, c, sc, 1)

	first, err := rt.FindRouteFromPeerId(c)
	if err != nil {
		t.Fatalf("c should be reachable: %v", err)
	}
	second, err := rt.FindRouteFromPeerId(c)
	if err != nil {
		t.Fatalf("c should still be reachable: %v", err)
	}
	if first == second {
		t.Fatalf("round robin should alternate between b1 and b2, got %v twice", first)
	}
	third, _ := rt.FindRouteFromPeerId(c)
	if third != first {
		t.Fatalf("round robin should cycle back to the first candidate")
	}
}

// TestRoutingTableRoundRobinClampsWidestGap exercises the §8 boundary
// example: once one candidate's counter outpaces another's by more than
// RoundRobinMaxNonceDiff, selecting the lagging candidate clamps its
// counter up rather than letting the gap keep widening.
func TestRoutingTableRoundRobinClampsWidestGap(t *testing.T) {
	me, meSec := newRTPeer(t)
	b1, s1 := newRTPeer(t)
	b2, s2 := newRTPeer(t)
	c, sc := newRTPeer(t)
	clock := NewManualClock(1000)
	rt := NewRoutingTableView(me, clock, NewMemStore(), RoutingTableConfig{})

	installAddedEdge(t, rt, me, meSec, b1, s1, 1)
	installAddedEdge(t, rt, me, meSec, b2, s2, 1)
	installAddedEdge(t, rt, b1, s1, c, sc, 1)
	installAddedEdge(t, rt, b2, s2, c, sc, 1)

	rt.routeNonce.Add(b1, 20)
	rt.routeNonce.Add(b2, 0)

	next, err := rt.FindRouteFromPeerId(c)
	if err != nil {
		t.Fatalf("c should be reachable: %v", err)
	}
	if next != b2 {
		t.Fatalf("expected the lagging candidate b2 to be selected, got %v", next)
	}
	clamped, _ := rt.routeNonce.Get(b2)
	if clamped != 11 {
		t.Fatalf("expected b2's counter to clamp to 10 then increment to 11, got %d", clamped)
	}
}

func TestRoutingTableUnreachableTargetIsPeerNotFound(t *testing.T) {
	me, _ := newRTPeer(t)
	clock := NewManualClock(1000)
	rt := NewRoutingTableView(me, clock, NewMemStore(), RoutingTableConfig{})
	stranger, _ := newRTPeer(t)

	if _, err := rt.FindRouteFromPeerId(stranger); err != ErrPeerNotFound {
		t.Fatalf("unreachable target should report ErrPeerNotFound, got %v", err)
	}
}

func TestRoutingTableRemovedEdgeTargetIsPeerNotFound(t *testing.T) {
	me, meSec := newRTPeer(t)
	a, sa := newRTPeer(t)
	clock := NewManualClock(1000)
	rt := NewRoutingTableView(me, clock, NewMemStore(), RoutingTableConfig{})

	ord0, ord1 := OrderedPair(me, a)
	secForA, secForB := meSec, sa
	if ord0 != me {
		secForA, secForB = sa, meSec
	}
	half0 := SignHalf(ord0, ord1, 1, secForA)
	half1 := SignHalf(ord0, ord1, 1, secForB)
	added := NewEdge(ord0, ord1, 1, half0.Signature, half1.Signature)
	if !rt.AddVerifiedEdge(added) {
		t.Fatalf("expected the added edge to install")
	}

	removed := RemoveEdge(added, me, meSec)
	if !rt.AddVerifiedEdge(removed) {
		t.Fatalf("expected the removal edge to install")
	}

	if _, err := rt.FindRouteFromPeerId(a); err != ErrPeerNotFound {
		t.Fatalf("an edge fully removed should no longer be reachable, got %v", err)
	}
}

func TestRoutingTableIsLocalEdgeNewer(t *testing.T) {
	me, meSec := newRTPeer(t)
	a, sa := newRTPeer(t)
	clock := NewManualClock(1000)
	rt := NewRoutingTableView(me, clock, NewMemStore(), RoutingTableConfig{})

	if !rt.IsLocalEdgeNewer(me, a, 1) {
		t.Fatalf("with no edge held, any nonce should be newer")
	}
	installAddedEdge(t, rt, me, meSec, a, sa, 1)
	if rt.IsLocalEdgeNewer(me, a, 1) {
		t.Fatalf("an equal nonce should not be newer")
	}
	if !rt.IsLocalEdgeNewer(me, a, 3) {
		t.Fatalf("a strictly greater nonce should be newer")
	}
}

func TestRoutingTableAddVerifiedEdgeRejectsStaleNonce(t *testing.T) {
	me, meSec := newRTPeer(t)
	a, sa := newRTPeer(t)
	clock := NewManualClock(1000)
	rt := NewRoutingTableView(me, clock, NewMemStore(), RoutingTableConfig{})

	installAddedEdge(t, rt, me, meSec, a, sa, 3)
	staleA, b := OrderedPair(me, a)
	secForA, secForB := meSec, sa
	if staleA != me {
		secForA, secForB = sa, meSec
	}
	half0 := SignHalf(staleA, b, 1, secForA)
	half1 := SignHalf(staleA, b, 1, secForB)
	stale := NewEdge(staleA, b, 1, half0.Signature, half1.Signature)

	if rt.AddVerifiedEdge(stale) {
		t.Fatalf("a stale nonce should be rejected")
	}
}

func TestRoutingTableAccountOwnership(t *testing.T) {
	me, _ := newRTPeer(t)
	owner, _ := newRTPeer(t)
	clock := NewManualClock(1000)
	rt := NewRoutingTableView(me, clock, NewMemStore(), RoutingTableConfig{})

	announce := AnnounceAccount{AccountId: "alice", PeerId: owner, EpochId: hashFromByte(1)}
	if rt.ContainsAccount(announce) {
		t.Fatalf("unknown account should not be present")
	}
	rt.AddAccount(announce)
	if !rt.ContainsAccount(announce) {
		t.Fatalf("expected the announcement to be recognized once added")
	}
	got, err := rt.AccountOwner("alice")
	if err != nil || got != owner {
		t.Fatalf("expected alice to resolve to its announced owner, err=%v", err)
	}

	staleAnnounce := AnnounceAccount{AccountId: "alice", PeerId: owner, EpochId: hashFromByte(2)}
	if rt.ContainsAccount(staleAnnounce) {
		t.Fatalf("an announcement with a different epoch id should not be considered known")
	}
}

func TestRoutingTableAccountOwnerFallsBackToStore(t *testing.T) {
	me, _ := newRTPeer(t)
	owner, _ := newRTPeer(t)
	clock := NewManualClock(1000)
	store := NewMemStore()
	rt := NewRoutingTableView(me, clock, store, RoutingTableConfig{})

	rt.AddAccount(AnnounceAccount{AccountId: "bob", PeerId: owner, EpochId: hashFromByte(3)})

	// A fresh view backed by the same store must repopulate from
	// persistent storage on first lookup.
	fresh := NewRoutingTableView(me, clock, store, RoutingTableConfig{})
	got, err := fresh.AccountOwner("bob")
	if err != nil || got != owner {
		t.Fatalf("expected store-backed lookup to resolve bob's owner, err=%v", err)
	}
}

func TestRoutingTableAccountOwnerNotFound(t *testing.T) {
	me, _ := newRTPeer(t)
	clock := NewManualClock(1000)
	rt := NewRoutingTableView(me, clock, NewMemStore(), RoutingTableConfig{})

	if _, err := rt.AccountOwner("nobody"); err != ErrAccountNotFound {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestRoutingTableRouteBackRoundTrip(t *testing.T) {
	me, _ := newRTPeer(t)
	replyTo, _ := newRTPeer(t)
	clock := NewManualClock(1000)
	rt := NewRoutingTableView(me, clock, NewMemStore(), RoutingTableConfig{})

	h := hashFromByte(9)
	rt.AddRouteBack(h, replyTo)
	if !rt.CompareRouteBack(h, replyTo) {
		t.Fatalf("CompareRouteBack should see the pending route-back entry")
	}
	resolved, err := rt.FindRoute(TargetHash(h))
	if err != nil || resolved != replyTo {
		t.Fatalf("FindRoute(hash) should resolve to replyTo, err=%v", err)
	}
	// FindRoute on a hash target is destructive.
	if rt.CompareRouteBack(h, replyTo) {
		t.Fatalf("route-back entry should be consumed after FindRoute")
	}
	if _, err := rt.FindRoute(TargetHash(h)); err != ErrRouteBackNotFound {
		t.Fatalf("a consumed hash should report ErrRouteBackNotFound, got %v", err)
	}
}

func TestRoutingTablePingPongRTT(t *testing.T) {
	me, _ := newRTPeer(t)
	target, _ := newRTPeer(t)
	clock := NewManualClock(1000)
	rt := NewRoutingTableView(me, clock, NewMemStore(), RoutingTableConfig{})

	nonce := rt.GetPing(target)
	rt.SendingPing(target, nonce)
	clock.AdvanceMillis(250)
	rtt, ok := rt.AddPong(Pong{Nonce: nonce, Source: target})
	if !ok {
		t.Fatalf("expected a matching pong to resolve RTT")
	}
	if rtt != 250 {
		t.Fatalf("expected RTT of 250ms, got %d", rtt)
	}
}

func TestRoutingTableGetPingIncrementsPerPeer(t *testing.T) {
	me, _ := newRTPeer(t)
	target, _ := newRTPeer(t)
	clock := NewManualClock(1000)
	rt := NewRoutingTableView(me, clock, NewMemStore(), RoutingTableConfig{})

	if n := rt.GetPing(target); n != 0 {
		t.Fatalf("expected first ping nonce to be 0, got %d", n)
	}
	if n := rt.GetPing(target); n != 1 {
		t.Fatalf("expected second ping nonce to be 1, got %d", n)
	}
}

func TestRoutingTableAddPingCountsOccurrences(t *testing.T) {
	me, _ := newRTPeer(t)
	from, _ := newRTPeer(t)
	clock := NewManualClock(1000)
	rt := NewRoutingTableView(me, clock, NewMemStore(), RoutingTableConfig{})

	rt.AddPing(Ping{Nonce: 5, Source: from})
	rt.AddPing(Ping{Nonce: 5, Source: from})
	count, _ := rt.pingInfo.Get(5)
	if count != 2 {
		t.Fatalf("expected ping nonce 5 to be observed twice, got %d", count)
	}
}

func TestRoutingTableReachablePeers(t *testing.T) {
	me, meSec := newRTPeer(t)
	a, sa := newRTPeer(t)
	clock := NewManualClock(1000)
	rt := NewRoutingTableView(me, clock, NewMemStore(), RoutingTableConfig{})
	installAddedEdge(t, rt, me, meSec, a, sa, 1)

	reachable := rt.ReachablePeers()
	if len(reachable) != 1 || reachable[0] != a {
		t.Fatalf("expected exactly [a] reachable, got %v", reachable)
	}
}

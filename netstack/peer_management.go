package netstack

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/sirupsen/logrus"

	"github.com/chaincore/router/core"
)

// pingPongProtocol is the libp2p stream protocol used for direct, non-
// gossiped liveness probes, since a Ping/Pong round-trip needs a
// point-to-point stream rather than a broadcast topic.
const pingPongProtocol = protocol.ID("/chaincore/router/pingpong/1.0.0")

// PeerManagement bridges netstack's libp2p Node to the routing core's
// PeerStore and RoutingTableView: it turns discovery/connect/disconnect
// events into PeerStore updates and records outgoing pings in the
// RoutingTableView. It registers no handler for inbound ping or pong
// streams.
type PeerManagement struct {
	node  *Node
	store *core.PeerStore
	rt    *core.RoutingTableView

	mu   sync.RWMutex
	subs map[string]*pubsub.Subscription
	out  map[string]chan InboundMessage
}

// NewPeerManagement wraps node, feeding discovery and connection events
// into store and rt.
func NewPeerManagement(n *Node, store *core.PeerStore, rt *core.RoutingTableView) *PeerManagement {
	return &PeerManagement{
		node:  n,
		store: store,
		rt:    rt,
		subs:  make(map[string]*pubsub.Subscription),
		out:   make(map[string]chan InboundMessage),
	}
}

// DiscoverPeers returns the node's currently known peer records and feeds
// them into the PeerStore at Indirect trust, matching how the original
// treats mDNS/gossip-learned peers before a handshake upgrades them.
func (pm *PeerManagement) DiscoverPeers() []PeerRecord {
	records := pm.node.Peers()
	learned := make(map[core.PeerId]string, len(records))
	for _, r := range records {
		if r.CoreID != nil {
			learned[*r.CoreID] = r.Addr
		}
	}
	if len(learned) > 0 {
		pm.store.AddIndirectPeers(learned)
	}
	return records
}

// Connect dials addr via the underlying libp2p host and, once coreID is
// known, marks the PeerStore record Connected at Signed trust.
func (pm *PeerManagement) Connect(addr string, coreID *core.PeerId) error {
	pi, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return fmt.Errorf("netstack: invalid address %s: %w", addr, err)
	}
	if err := pm.node.host.Connect(pm.node.ctx, *pi); err != nil {
		return fmt.Errorf("netstack: connect %s: %w", addr, err)
	}
	pm.node.peerLock.Lock()
	pm.node.peers[pi.ID.String()] = &PeerRecord{LibP2PID: pi.ID.String(), Addr: addr, CoreID: coreID}
	pm.node.peerLock.Unlock()
	if coreID != nil {
		pm.store.PeerConnected(*coreID, addr)
	}
	return nil
}

// Disconnect closes the connection to libp2pID and marks the bound
// core.PeerId, if any, as disconnected in the PeerStore.
func (pm *PeerManagement) Disconnect(libp2pID string) error {
	pid, err := peer.Decode(libp2pID)
	if err != nil {
		return fmt.Errorf("netstack: decode peer id %s: %w", libp2pID, err)
	}
	if err := pm.node.host.Network().ClosePeer(pid); err != nil {
		return fmt.Errorf("netstack: close peer %s: %w", libp2pID, err)
	}
	pm.node.peerLock.Lock()
	rec, ok := pm.node.peers[libp2pID]
	delete(pm.node.peers, libp2pID)
	pm.node.peerLock.Unlock()
	if ok && rec.CoreID != nil {
		if err := pm.store.PeerDisconnected(*rec.CoreID); err != nil {
			logrus.Warnf("netstack: peerstore disconnect %s: %v", *rec.CoreID, err)
		}
	}
	return nil
}

// Sample returns up to n randomly selected libp2p peer identities,
// matching the original's random-sampling fanout selection rather than a
// fixed iteration order.
func (pm *PeerManagement) Sample(n int) []string {
	records := pm.node.Peers()
	rand.Shuffle(len(records), func(i, j int) { records[i], records[j] = records[j], records[i] })
	if n > len(records) {
		n = len(records)
	}
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, records[i].LibP2PID)
	}
	return ids
}

// SendPing opens a direct stream to libp2pID and writes an 8-byte
// big-endian nonce, recording the send in the RoutingTableView for later
// RTT accounting when the matching pong arrives.
func (pm *PeerManagement) SendPing(libp2pID string, target core.PeerId, nonce uint64) error {
	pid, err := peer.Decode(libp2pID)
	if err != nil {
		return fmt.Errorf("netstack: decode peer id %s: %w", libp2pID, err)
	}
	pm.rt.SendingPing(target, nonce)
	ctx, cancel := context.WithTimeout(pm.node.ctx, 5*time.Second)
	defer cancel()
	s, err := pm.node.host.NewStream(ctx, pid, pingPongProtocol)
	if err != nil {
		return fmt.Errorf("netstack: open ping stream to %s: %w", libp2pID, err)
	}
	defer s.Close()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	if _, err := s.Write(buf[:]); err != nil {
		return fmt.Errorf("netstack: write ping to %s: %w", libp2pID, err)
	}
	return nil
}

// Subscribe joins proto (treated as a gossip topic) and returns its decoded
// message channel, reusing an existing subscription if already joined.
func (pm *PeerManagement) Subscribe(proto string) <-chan InboundMessage {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if ch, ok := pm.out[proto]; ok {
		return ch
	}
	t, err := pm.node.pubsub.Join(proto)
	if err != nil {
		logrus.Warnf("netstack: join %s failed: %v", proto, err)
		ch := make(chan InboundMessage)
		close(ch)
		return ch
	}
	sub, err := t.Subscribe()
	if err != nil {
		logrus.Warnf("netstack: subscribe %s failed: %v", proto, err)
		ch := make(chan InboundMessage)
		close(ch)
		return ch
	}
	out := make(chan InboundMessage)
	pm.subs[proto] = sub
	pm.out[proto] = out
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(pm.node.ctx)
			if err != nil {
				return
			}
			out <- InboundMessage{From: msg.GetFrom().String(), Topic: proto, Payload: msg.Data, Ts: time.Now().UnixMilli()}
		}
	}()
	return out
}

// Unsubscribe cancels a subscription created by Subscribe.
func (pm *PeerManagement) Unsubscribe(proto string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if sub, ok := pm.subs[proto]; ok {
		sub.Cancel()
		delete(pm.subs, proto)
	}
	if ch, ok := pm.out[proto]; ok {
		// The goroutine started in Subscribe closes ch itself once sub.Next
		// errors after Cancel; nothing further to close here.
		_ = ch
		delete(pm.out, proto)
	}
}

// Package netstack is the network collaborator the routing core depends on
// but never imports: libp2p host construction, gossip transport, mDNS
// discovery and NAT traversal. It decodes edge and account gossip into the
// core.SimpleEdge / core.AnnounceAccount values package core reasons
// about, and encodes outgoing edge and account announcements. Wire
// serialization format and actor dispatch are netstack's concern, not
// core's.
package netstack

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"

	"github.com/chaincore/router/core"
)

// Config carries the subset of node configuration netstack needs to stand
// up a libp2p host, mirroring pkg/config.Config.Network.
type Config struct {
	ListenAddr     string
	DiscoveryTag   string
	BootstrapPeers []string
	MaxPeers       int
}

// PeerRecord is what netstack itself remembers about a connected libp2p
// peer: its transport identity, the address it was dialed or discovered
// at, and — once a handshake has bound it — the core.PeerId the routing
// graph should use for it.
type PeerRecord struct {
	LibP2PID string
	Addr     string
	CoreID   *core.PeerId
	Latency  time.Duration
}

// InboundMessage is a decoded pubsub message delivered to a generic topic
// subscriber, before any domain-specific unmarshaling.
type InboundMessage struct {
	From    string
	Topic   string
	Payload []byte
	Ts      int64
}

// Node wraps a libp2p host with the gossip topics, peer bookkeeping and
// NAT traversal the routing subsystem's external I/O needs.
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub

	topicLock sync.Mutex
	topics    map[string]*pubsub.Topic
	subLock   sync.Mutex
	subs      map[string]*pubsub.Subscription

	peerLock sync.RWMutex
	peers    map[string]*PeerRecord

	ctx    context.Context
	cancel context.CancelFunc
	cfg    Config
	nat    *NATManager
}

// NewNode creates and bootstraps a libp2p-backed routing node: it builds
// the host, joins gossipsub, attempts NAT traversal, dials the configured
// bootstrap peers and starts mDNS discovery.
func NewNode(cfg Config) (*Node, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("netstack: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("netstack: create pubsub: %w", err)
	}

	n := &Node{
		pubsub: ps,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
		peers:  make(map[string]*PeerRecord),
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
	}
	n.host = h

	natMgr, err := NewNATManager()
	if err == nil {
		if port, perr := parsePort(cfg.ListenAddr); perr == nil {
			if merr := natMgr.Map(port); merr != nil {
				logrus.Warnf("netstack: NAT map failed: %v", merr)
			}
		}
		n.nat = natMgr
	} else {
		logrus.Warnf("netstack: NAT discovery failed: %v", err)
	}

	if err := n.DialSeed(cfg.BootstrapPeers); err != nil {
		logrus.Warnf("netstack: dial seed warning: %v", err)
	}

	mdns.NewMdnsService(h, cfg.DiscoveryTag, n)

	return n, nil
}

// Ensure Node implements mdns.Notifee.
var _ mdns.Notifee = (*Node)(nil)

// HandlePeerFound implements mdns.Notifee: connect to a peer discovered via
// local mDNS, ignoring self-discovery and already-known peers.
func (n *Node) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	n.peerLock.RLock()
	_, exists := n.peers[info.ID.String()]
	n.peerLock.RUnlock()
	if exists {
		return
	}
	if err := n.host.Connect(n.ctx, info); err != nil {
		logrus.Warnf("netstack: connect to discovered peer %s failed: %v", info.ID, err)
		return
	}
	n.peerLock.Lock()
	n.peers[info.ID.String()] = &PeerRecord{LibP2PID: info.ID.String(), Addr: info.String()}
	n.peerLock.Unlock()
	logrus.Infof("netstack: connected to peer %s via mDNS", info.ID)
}

// DialSeed connects to each bootstrap multiaddress in seeds, continuing
// past individual failures and returning a combined error describing all
// of them.
func (n *Node) DialSeed(seeds []string) error {
	var errs []string
	for _, addr := range seeds {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid addr %s: %v", addr, err))
			continue
		}
		if err := n.host.Connect(n.ctx, *pi); err != nil {
			errs = append(errs, fmt.Sprintf("connect %s: %v", addr, err))
			continue
		}
		n.peerLock.Lock()
		n.peers[pi.ID.String()] = &PeerRecord{LibP2PID: pi.ID.String(), Addr: addr}
		n.peerLock.Unlock()
		logrus.Infof("netstack: bootstrapped to %s", addr)
	}
	if len(errs) > 0 {
		return fmt.Errorf("netstack: dial errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

const (
	topicEdgeAnnounce    = "routing/edge-announce"
	topicAccountAnnounce = "routing/account-announce"
)

// edgeWire is the gossip wire encoding of a core.SimpleEdge.
type edgeWire struct {
	Peer0 []byte `json:"peer0"`
	Peer1 []byte `json:"peer1"`
	Nonce uint64 `json:"nonce"`
}

// accountWire is the gossip wire encoding of a core.AnnounceAccount.
type accountWire struct {
	AccountID string `json:"account_id"`
	PeerID    []byte `json:"peer_id"`
	EpochID   []byte `json:"epoch_id"`
	Signature []byte `json:"signature"`
}

// BroadcastEdge gossips a SimpleEdge to the edge-announce topic.
func (n *Node) BroadcastEdge(peer0, peer1 core.PeerId, nonce uint64) error {
	data, err := json.Marshal(edgeWire{Peer0: peer0.Bytes(), Peer1: peer1.Bytes(), Nonce: nonce})
	if err != nil {
		return fmt.Errorf("netstack: marshal edge: %w", err)
	}
	return n.publish(topicEdgeAnnounce, data)
}

// BroadcastAccount gossips an AnnounceAccount to the account-announce topic.
func (n *Node) BroadcastAccount(a core.AnnounceAccount) error {
	data, err := json.Marshal(accountWire{
		AccountID: string(a.AccountId),
		PeerID:    a.PeerId.Bytes(),
		EpochID:   a.EpochId[:],
		Signature: a.Signature,
	})
	if err != nil {
		return fmt.Errorf("netstack: marshal account announcement: %w", err)
	}
	return n.publish(topicAccountAnnounce, data)
}

func (n *Node) publish(topic string, data []byte) error {
	n.topicLock.Lock()
	t, ok := n.topics[topic]
	if !ok {
		var err error
		t, err = n.pubsub.Join(topic)
		if err != nil {
			n.topicLock.Unlock()
			return fmt.Errorf("netstack: join topic %s: %w", topic, err)
		}
		n.topics[topic] = t
	}
	n.topicLock.Unlock()
	if err := t.Publish(n.ctx, data); err != nil {
		return fmt.Errorf("netstack: publish topic %s: %w", topic, err)
	}
	return nil
}

// SubscribeEdges decodes inbound edge-announce gossip into PartialVerify-
// ready fields: the caller combines these with its own copy of the
// EdgeInfo half-signatures to reconstruct and verify a full core.Edge.
func (n *Node) SubscribeEdges() (<-chan core.SimpleEdge, error) {
	raw, err := n.subscribeTopic(topicEdgeAnnounce)
	if err != nil {
		return nil, err
	}
	out := make(chan core.SimpleEdge)
	go func() {
		defer close(out)
		for msg := range raw {
			var w edgeWire
			if err := json.Unmarshal(msg.Payload, &w); err != nil {
				logrus.Debugf("netstack: malformed edge gossip from %s: %v", msg.From, err)
				continue
			}
			if len(w.Peer0) != 32 || len(w.Peer1) != 32 {
				continue
			}
			p0 := core.NewPeerId(w.Peer0)
			p1 := core.NewPeerId(w.Peer1)
			out <- core.NewSimpleEdge(p0, p1, w.Nonce)
		}
	}()
	return out, nil
}

// SubscribeAccounts decodes inbound account-announce gossip.
func (n *Node) SubscribeAccounts() (<-chan core.AnnounceAccount, error) {
	raw, err := n.subscribeTopic(topicAccountAnnounce)
	if err != nil {
		return nil, err
	}
	out := make(chan core.AnnounceAccount)
	go func() {
		defer close(out)
		for msg := range raw {
			var w accountWire
			if err := json.Unmarshal(msg.Payload, &w); err != nil {
				logrus.Debugf("netstack: malformed account gossip from %s: %v", msg.From, err)
				continue
			}
			if len(w.PeerID) != 32 || len(w.EpochID) != 32 {
				continue
			}
			var epoch core.Hash
			copy(epoch[:], w.EpochID)
			out <- core.AnnounceAccount{
				AccountId: core.AccountId(w.AccountID),
				PeerId:    core.NewPeerId(w.PeerID),
				EpochId:   epoch,
				Signature: w.Signature,
			}
		}
	}()
	return out, nil
}

// subscribeTopic joins topic if necessary and returns a channel of decoded
// InboundMessage values, closing it when the subscription's Next loop
// errors (typically on shutdown).
func (n *Node) subscribeTopic(topic string) (<-chan InboundMessage, error) {
	n.subLock.Lock()
	sub, ok := n.subs[topic]
	if !ok {
		n.topicLock.Lock()
		t, terr := n.pubsub.Join(topic)
		if terr == nil {
			n.topics[topic] = t
		}
		n.topicLock.Unlock()
		if terr != nil {
			n.subLock.Unlock()
			return nil, fmt.Errorf("netstack: join topic %s: %w", topic, terr)
		}
		var err error
		sub, err = t.Subscribe()
		if err != nil {
			n.subLock.Unlock()
			return nil, fmt.Errorf("netstack: subscribe topic %s: %w", topic, err)
		}
		n.subs[topic] = sub
	}
	n.subLock.Unlock()

	out := make(chan InboundMessage)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(n.ctx)
			if err != nil {
				logrus.Warnf("netstack: subscription %s ended: %v", topic, err)
				return
			}
			out <- InboundMessage{From: msg.GetFrom().String(), Topic: topic, Payload: msg.Data, Ts: time.Now().UnixMilli()}
		}
	}()
	return out, nil
}

// ListenAndServe blocks until the node's context is cancelled.
func (n *Node) ListenAndServe() {
	<-n.ctx.Done()
	logrus.Info("netstack: node shutting down")
}

// Close tears down NAT mappings, the gossip/host layer, and cancels the
// node's context.
func (n *Node) Close() error {
	n.cancel()
	if n.nat != nil {
		_ = n.nat.Unmap()
	}
	return n.host.Close()
}

// Peers returns a snapshot of currently known peer records.
func (n *Node) Peers() []PeerRecord {
	n.peerLock.RLock()
	defer n.peerLock.RUnlock()
	out := make([]PeerRecord, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, *p)
	}
	return out
}

// BindCoreID records that the libp2p peer identified by libp2pID has
// completed a handshake proving ownership of coreID, letting later
// lookups bridge between the two identity spaces.
func (n *Node) BindCoreID(libp2pID string, coreID core.PeerId) {
	n.peerLock.Lock()
	defer n.peerLock.Unlock()
	if rec, ok := n.peers[libp2pID]; ok {
		id := coreID
		rec.CoreID = &id
	}
}

// Dialer manages outbound TCP connections independent of the libp2p
// transport, used for sidecar protocols (diagnostics, legacy bridges).
type Dialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration
}

// NewDialer returns a Dialer with the given timeout and TCP keepalive.
func NewDialer(timeout, keepAlive time.Duration) *Dialer {
	return &Dialer{Timeout: timeout, KeepAlive: keepAlive}
}

// Dial opens a TCP connection to address.
func (d *Dialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("netstack: dial %s: %w", address, err)
	}
	return conn, nil
}

// Command routerd runs a standalone peer-to-peer routing node: it joins
// the overlay, maintains the signed edge graph and forwarding table, and
// listens to edge/account announcement gossip from its neighbors. It has no wallet,
// VM, or chain-state concerns — those live in other Synnergy-descended
// services, not here.
package main

import (
	"context"
	"crypto/ed25519"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chaincore/router/core"
	"github.com/chaincore/router/netstack"
	"github.com/chaincore/router/pkg/config"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		logrus.Fatalf("routerd: load config: %v", err)
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	_, secret, err := ed25519.GenerateKey(nil)
	if err != nil {
		logrus.Fatalf("routerd: generate identity: %v", err)
	}
	myPeerId := core.NewPeerId(secret.Public().(ed25519.PublicKey))
	logrus.Infof("routerd: starting as peer %s", myPeerId)

	clock := core.SystemClock{}
	kvStore := core.NewMemStore()
	rt := core.NewRoutingTableView(myPeerId, clock, kvStore, core.RoutingTableConfig{
		AccountPeersCacheSize:  cfg.Routing.AnnounceAccountCacheSize,
		RouteNonceCacheSize:    cfg.Routing.RoundRobinNonceCacheSize,
		PingPongCacheSize:      cfg.Routing.PingPongCacheSize,
		RoundRobinMaxNonceDiff: uint64(cfg.Routing.RoundRobinMaxNonceDifference),
	})

	bootNodes := make([]core.PeerId, 0)
	store := core.NewPeerStore(clock, kvStore, bootNodes)

	node, err := netstack.NewNode(netstack.Config{
		ListenAddr:     cfg.Network.ListenAddr,
		DiscoveryTag:   cfg.Network.DiscoveryTag,
		BootstrapPeers: cfg.Network.BootstrapPeers,
		MaxPeers:       cfg.Network.MaxPeers,
	})
	if err != nil {
		logrus.Fatalf("routerd: start network node: %v", err)
	}
	defer node.Close()

	pm := netstack.NewPeerManagement(node, store, rt)

	verifier := core.NewEdgeVerifierHelper(4, 256)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := verifier.Run(ctx); err != nil {
			logrus.Warnf("routerd: edge verifier stopped: %v", err)
		}
	}()

	edges, err := node.SubscribeEdges()
	if err != nil {
		logrus.Fatalf("routerd: subscribe edges: %v", err)
	}
	go func() {
		for simple := range edges {
			p0, p1 := simple.Key()
			if existing, ok := rt.GetEdge(p0, p1); ok && existing.Nonce() >= simple.Nonce() {
				continue
			}
			logrus.Debugf("routerd: observed edge gossip %s/%s nonce=%d", p0, p1, simple.Nonce())
		}
	}()
	go func() {
		for verified := range verifier.Verified() {
			if rt.AddVerifiedEdge(verified) {
				logrus.Debugf("routerd: installed verified edge nonce=%d", verified.Nonce())
			}
		}
	}()

	accounts, err := node.SubscribeAccounts()
	if err != nil {
		logrus.Fatalf("routerd: subscribe accounts: %v", err)
	}
	go func() {
		for a := range accounts {
			rt.AddAccount(a)
		}
	}()

	go runMaintenance(ctx, store, time.Duration(cfg.Routing.DeletePeersAfterTimeSeconds)*time.Second, clock)

	_ = pm.DiscoverPeers()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logrus.Info("routerd: shutting down")
	cancel()
}

// runMaintenance periodically expires stale peer records, matching the
// original's save_peers/delete_peers_after housekeeping pass.
func runMaintenance(ctx context.Context, store *core.PeerStore, maxAge time.Duration, clock core.Clock) {
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := clock.Now() - int64(maxAge.Seconds())
			removed := store.RemoveExpired(cutoff)
			if removed > 0 {
				logrus.Infof("routerd: expired %d stale peer records", removed)
			}
		}
	}
}

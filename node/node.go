/* -*- coding: utf-8 -*-
* ------------------------------------------------------------------------------
*
*   Copyright 2018-2021 Fetch.AI Limited
*
*   Licensed under the Apache License, Version 2.0 (the "License");
*   you may not use this file except in compliance with the License.
*   You may obtain a copy of the License at
*
*       http://www.apache.org/licenses/LICENSE-2.0
*
*   Unless required by applicable law or agreed to in writing, software
*   distributed under the License is distributed on an "AS IS" BASIS,
*   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
*   See the License for the specific language governing permissions and
*   limitations under the License.
*
* ------------------------------------------------------------------------------
 */

package node

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	circuit "github.com/libp2p/go-libp2p-circuit"
	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/protocol"
	kaddht "github.com/libp2p/go-libp2p-kad-dht"
	routedhost "github.com/libp2p/go-libp2p/p2p/host/routed"
	"github.com/multiformats/go-multiaddr"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fetchai/acn-node/acn"
	"github.com/fetchai/acn-node/dht"
	"github.com/fetchai/acn-node/envelope"
	"github.com/fetchai/acn-node/identity"
	"github.com/fetchai/acn-node/monitoring"
	"github.com/fetchai/acn-node/registry"
)

// Engine is a running ACN node: either a full peer (LocalURI/PublicURI set,
// participating in the DHT as a server and optionally relaying for
// delegate/relay clients) or a client peer (tethered to one relay peer from
// BootstrapPeers, participating in the DHT as a client only).
type Engine struct {
	cfg *Config

	host host.Host
	dht  *kaddht.IpfsDHT

	registry *registry.Registry
	monitor  monitoring.MonitoringService

	// relayPeer is set only for client peers: the one bootstrap peer this
	// engine registers its agent address through and reconnects to.
	relayPeer peer.AddrInfo

	delegateListener net.Listener

	// delegateConns tracks every currently-accepted delegate TCP
	// connection, registered or not, so Stop can close them and unblock
	// their handler goroutines' blocking reads, mirroring the teacher's
	// dhtpeer.go tcpAddresses bookkeeping.
	delegateConnsMu sync.Mutex
	delegateConns   map[net.Conn]struct{}

	// onEnvelope is the callback installed via OnEnvelope, invoked for
	// envelopes addressed to a registry.Local entry.
	onEnvelope func(env *envelope.Envelope) error

	logger zerolog.Logger

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New builds an Engine from opts but does not start any network activity;
// call Start to bootstrap and begin serving.
func New(opts ...Option) (*Engine, error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "building node configuration")
	}

	e := &Engine{
		cfg:           cfg,
		closing:       make(chan struct{}),
		delegateConns: make(map[net.Conn]struct{}),
		logger:        log.With().Str("component", "node").Logger(),
	}

	if cfg.AgentRecord != nil {
		myPubKeyHex, err := identity.PublicKeyHex(cfg.PublicKey)
		if err != nil {
			return nil, errors.Wrap(err, "deriving own public key")
		}
		if code, err := acn.VerifyProofOfRepresentation(cfg.AgentRecord, cfg.AgentRecord.Address, myPubKeyHex); err != nil {
			return nil, errors.Wrapf(err, "invalid own agent record (%s)", code)
		}
	}

	ctx := context.Background()

	libp2pOpts := []libp2p.Option{
		libp2p.Identity(cfg.Key),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
		libp2p.NATPortMap(),
	}

	if cfg.IsFullPeer() {
		localAddr, err := hostPortToMultiaddr(cfg.LocalURI, "ip4")
		if err != nil {
			return nil, errors.Wrap(err, "parsing local uri")
		}
		libp2pOpts = append(libp2pOpts, libp2p.ListenAddrs(localAddr))

		if cfg.PublicURI != "" {
			publicAddr, err := hostPortToMultiaddr(cfg.PublicURI, "dns4")
			if err != nil {
				return nil, errors.Wrap(err, "parsing public uri")
			}
			libp2pOpts = append(libp2pOpts, libp2p.AddrsFactory(func(_ []multiaddr.Multiaddr) []multiaddr.Multiaddr {
				return []multiaddr.Multiaddr{publicAddr}
			}))
		}
		libp2pOpts = append(libp2pOpts, libp2p.EnableNATService(), libp2p.EnableRelay(circuit.OptHop))
	} else {
		libp2pOpts = append(libp2pOpts, libp2p.EnableRelay())
	}

	basicHost, err := libp2p.New(ctx, libp2pOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating libp2p host")
	}

	mode := kaddht.ModeClient
	if cfg.IsFullPeer() {
		mode = kaddht.ModeServer
	}
	d, err := kaddht.New(ctx, basicHost, kaddht.Mode(mode))
	if err != nil {
		return nil, errors.Wrap(err, "creating dht")
	}

	e.host = routedhost.Wrap(basicHost, d)
	e.dht = d

	if !cfg.IsFullPeer() {
		rand.Seed(time.Now().UnixNano())
		e.relayPeer = cfg.BootstrapPeers[rand.Intn(len(cfg.BootstrapPeers))]
	}

	storagePath := ""
	if cfg.IsFullPeer() {
		storagePath = cfg.StoragePath
	}
	e.registry = registry.New(storagePath)

	if cfg.MetricsPort != 0 {
		e.monitor = monitoring.NewPrometheusMonitoring("acn_node", cfg.MetricsPort)
	} else {
		e.monitor = monitoring.NewFileMonitoring("acn_node", cfg.IsFullPeer())
	}

	if err := e.registerMetrics(); err != nil {
		return nil, errors.Wrap(err, "registering metrics")
	}

	e.registerHandlers()

	return e, nil
}

// Start bootstraps into the DHT, restores any persisted agent records,
// launches the delegate gateway (if configured) and monitoring, and, for a
// client peer, registers its own agent address through its relay peer.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.monitor.Start(); err != nil {
		return errors.Wrap(err, "starting monitoring")
	}

	if e.cfg.IsFullPeer() {
		restored, err := e.registry.OpenStorage(identity.PeerIDFromPeerPublicKey)
		if err != nil {
			return errors.Wrap(err, "opening persistent storage")
		}
		e.logger.Info().Int("restored", restored).Msg("restored persisted agent records")
	}

	bootstrapCtx, cancel := context.WithTimeout(ctx, e.cfg.BootstrapTimeout)
	defer cancel()
	if err := dht.BootstrapConnect(bootstrapCtx, e.host, e.dht, e.cfg.BootstrapPeers); err != nil {
		return errors.Wrap(err, "connecting to bootstrap peers")
	}
	if err := e.dht.Bootstrap(ctx); err != nil {
		return errors.Wrap(err, "bootstrapping dht")
	}
	e.startNotifWorkaround(ctx)

	if !e.cfg.IsFullPeer() {
		e.host.Network().Notify(newReconnectNotifee(e))
	} else {
		e.host.Network().Notify(newRelayClientEvictNotifee(e))
	}

	for _, addr := range e.registry.Addresses() {
		_ = e.announceAddress(ctx, addr)
	}

	if e.cfg.AgentAddress != "" {
		e.registry.Put(&registry.RoutingEntry{
			Address: e.cfg.AgentAddress,
			PeerID:  e.host.ID(),
			Record:  e.cfg.AgentRecord,
			Origin:  registry.Local,
		})
		if e.cfg.IsFullPeer() {
			if err := e.announceAddress(ctx, e.cfg.AgentAddress); err != nil {
				return errors.Wrap(err, "announcing own agent address")
			}
		} else {
			if err := e.registerWithRelay(ctx); err != nil {
				return errors.Wrap(err, "registering with relay peer")
			}
		}
	}

	if e.cfg.IsFullPeer() && e.cfg.DelegateURI != "" {
		l, err := net.Listen("tcp", e.cfg.DelegateURI)
		if err != nil {
			return errors.Wrap(err, "starting delegate gateway")
		}
		e.delegateListener = l
		e.wg.Add(1)
		go e.runDelegateService()
	}

	return nil
}

// Stop closes every listener, stream, and background goroutine this engine
// owns, and flushes persistent storage.
func (e *Engine) Stop() error {
	e.closeOnce.Do(func() { close(e.closing) })

	if e.delegateListener != nil {
		_ = e.delegateListener.Close()
	}
	e.closeAllDelegateConns()
	e.wg.Wait()

	e.monitor.Stop()

	if err := e.registry.Close(); err != nil {
		return errors.Wrap(err, "closing persistent storage")
	}
	return e.host.Close()
}

// ID returns this engine's libp2p peer ID.
func (e *Engine) ID() peer.ID { return e.host.ID() }

func (e *Engine) registerHandlers() {
	e.host.SetStreamHandler(protocol.ID(ProtocolEnvelope), e.handleEnvelopeStream)
	e.host.SetStreamHandler(protocol.ID(ProtocolAddress), e.handleAddressStream)
	if e.cfg.IsFullPeer() {
		e.host.SetStreamHandler(protocol.ID(ProtocolRegisterRelay), e.handleRegisterStream)
	}
	e.host.SetStreamHandler(protocol.ID(ProtocolNotif), e.handleNotifStream)
}

func (e *Engine) registerMetrics() error {
	if _, err := e.monitor.NewCounter(monitoring.MetricOpRouteCountAll, "all route_envelope calls"); err != nil {
		return err
	}
	if _, err := e.monitor.NewCounter(monitoring.MetricOpRouteCountSuccess, "successful route_envelope calls"); err != nil {
		return err
	}
	if _, err := e.monitor.NewHistogram(monitoring.MetricOpLatencyRoute, "route_envelope latency", monitoring.LatencyBucketsMicroseconds); err != nil {
		return err
	}
	if _, err := e.monitor.NewHistogram(monitoring.MetricOpLatencyRegister, "registration latency", monitoring.LatencyBucketsMicroseconds); err != nil {
		return err
	}
	if _, err := e.monitor.NewHistogram(monitoring.MetricDHTOpLatencyStore, "dht provide latency", monitoring.LatencyBucketsMicroseconds); err != nil {
		return err
	}
	if _, err := e.monitor.NewHistogram(monitoring.MetricDHTOpLatencyLookup, "dht find_providers latency", monitoring.LatencyBucketsMicroseconds); err != nil {
		return err
	}
	if e.cfg.IsFullPeer() {
		if _, err := e.monitor.NewGauge(monitoring.MetricServiceDelegateClientsCount, "connected delegate clients"); err != nil {
			return err
		}
		if _, err := e.monitor.NewGauge(monitoring.MetricServiceRelayClientsCount, "connected relay clients"); err != nil {
			return err
		}
	}
	return nil
}

// announceAddress provides address's CID on the DHT, idempotently.
func (e *Engine) announceAddress(ctx context.Context, address string) error {
	if e.registry.IsAnnounced(address) {
		return nil
	}
	start := e.monitor.Timer().NewTimer()
	if err := dht.Announce(ctx, e.dht, address); err != nil {
		return err
	}
	if h, ok := e.monitor.GetHistogram(monitoring.MetricDHTOpLatencyStore); ok {
		h.Observe(float64(e.monitor.Timer().GetTimer(start).Microseconds()))
	}
	e.registry.MarkAnnounced(address)
	return nil
}

// addDelegateConn records conn as a live delegate connection so Stop can
// close it; called as soon as it is accepted, before its Register
// handshake, so a connection stuck mid-handshake is also unblocked.
func (e *Engine) addDelegateConn(conn net.Conn) {
	e.delegateConnsMu.Lock()
	e.delegateConns[conn] = struct{}{}
	e.delegateConnsMu.Unlock()
}

// removeDelegateConn stops tracking conn, called once its handler goroutine
// returns for any reason (peer hangup, protocol error, or Stop closing it).
func (e *Engine) removeDelegateConn(conn net.Conn) {
	e.delegateConnsMu.Lock()
	delete(e.delegateConns, conn)
	e.delegateConnsMu.Unlock()
}

// closeAllDelegateConns closes every currently tracked delegate connection,
// unblocking each handler's pipe.Read() so Stop's e.wg.Wait() can return;
// grounded on dhtpeer.go's Close() closing every tracked tcpAddresses entry.
func (e *Engine) closeAllDelegateConns() {
	e.delegateConnsMu.Lock()
	conns := make([]net.Conn, 0, len(e.delegateConns))
	for conn := range e.delegateConns {
		conns = append(conns, conn)
	}
	e.delegateConnsMu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

// hostPortToMultiaddr turns a "host:port" URI into a libp2p multiaddr using
// scheme (ip4 or dns4) for a hostname; an IP literal always gets ip4 or
// ip6 according to its family, whatever scheme says.
func hostPortToMultiaddr(uri string, scheme string) (multiaddr.Multiaddr, error) {
	host, port, err := net.SplitHostPort(uri)
	if err != nil {
		return nil, errors.Wrap(err, "splitting host:port")
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.To4() == nil {
			scheme = "ip6"
		} else {
			scheme = "ip4"
		}
	}
	return multiaddr.NewMultiaddr("/" + scheme + "/" + host + "/tcp/" + port)
}

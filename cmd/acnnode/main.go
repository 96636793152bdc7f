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

// Command acnnode runs a standalone ACN peer (full peer or client peer)
// configured entirely from environment variables, following the env-file
// loading convention of the teacher's aea.AeaApi.Init.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fetchai/acn-node/acn"
	"github.com/fetchai/acn-node/envelope"
	"github.com/fetchai/acn-node/identity"
	"github.com/fetchai/acn-node/node"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if len(os.Args) > 1 {
		if err := godotenv.Overload(os.Args[1]); err != nil {
			log.Fatal().Err(err).Msg("error loading env file")
		}
	}

	cfg, err := loadConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	n, err := node.New(cfg...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build node")
	}

	n.OnEnvelope(func(env *envelope.Envelope) error {
		log.Info().Str("to", env.To).Str("sender", env.Sender).Msg("delivering to local agent")
		return nil
	})

	ctx := context.Background()
	if err := n.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start node")
	}
	log.Info().Str("peer_id", n.ID().Pretty()).Msg("acn node started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	if err := n.Stop(); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
}

func loadConfigFromEnv() ([]node.Option, error) {
	var opts []node.Option

	privKeyHex := os.Getenv("ACN_PRIVATE_KEY")
	if privKeyHex == "" {
		return nil, errors.New("ACN_PRIVATE_KEY is required")
	}
	priv, pub, err := identity.KeyPairFromHex(privKeyHex)
	if err != nil {
		return nil, errors.Wrap(err, "parsing ACN_PRIVATE_KEY")
	}
	opts = append(opts, node.IdentityFromKeyPair(priv, pub))

	entryPeersEnv := os.Getenv("ACN_ENTRY_PEERS")
	if entryPeersEnv == "" {
		return nil, errors.New("ACN_ENTRY_PEERS is required")
	}
	peers, err := parseEntryPeers(entryPeersEnv)
	if err != nil {
		return nil, err
	}
	opts = append(opts, node.BootstrapFrom(peers))

	if localURI := os.Getenv("ACN_LOCAL_URI"); localURI != "" {
		opts = append(opts, node.LocalURI(localURI))
	}
	if publicURI := os.Getenv("ACN_PUBLIC_URI"); publicURI != "" {
		opts = append(opts, node.PublicURI(publicURI))
	}
	if delegateURI := os.Getenv("ACN_DELEGATE_URI"); delegateURI != "" {
		opts = append(opts, node.DelegateURI(delegateURI))
	}
	if storagePath := os.Getenv("ACN_STORAGE_PATH"); storagePath != "" {
		opts = append(opts, node.PersistentStoragePath(storagePath))
	}
	if metricsPortEnv := os.Getenv("ACN_METRICS_PORT"); metricsPortEnv != "" {
		port, err := strconv.ParseUint(metricsPortEnv, 10, 16)
		if err != nil {
			return nil, errors.Wrap(err, "parsing ACN_METRICS_PORT")
		}
		opts = append(opts, node.MetricsPort(uint16(port)))
	}

	if address := os.Getenv("ACN_AGENT_ADDRESS"); address != "" {
		record := &acn.AgentRecord{
			Address:       address,
			PublicKey:     os.Getenv("ACN_AGENT_PUBLIC_KEY"),
			PeerPublicKey: os.Getenv("ACN_AGENT_PEER_PUBLIC_KEY"),
			Signature:     os.Getenv("ACN_AGENT_SIGNATURE"),
			LedgerID:      os.Getenv("ACN_AGENT_LEDGER_ID"),
			ServiceURI:    os.Getenv("ACN_AGENT_SERVICE_URI"),
		}
		opts = append(opts, node.WithAgentRecord(address, record, func() bool { return true }))
	}

	return opts, nil
}

func parseEntryPeers(raw string) ([]peer.AddrInfo, error) {
	var peers []peer.AddrInfo
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		maddr, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing entry peer multiaddr %q", s)
		}
		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing entry peer addr info %q", s)
		}
		peers = append(peers, *info)
	}
	if len(peers) == 0 {
		return nil, errors.New("no entry peers parsed from ACN_ENTRY_PEERS")
	}
	return peers, nil
}

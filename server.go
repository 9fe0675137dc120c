package main

import (
	"crypto/tls"
	"fmt"
	"net"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MonteCarloClub/minerd/log"
	"github.com/MonteCarloClub/minerd/mining/pow"
	"github.com/MonteCarloClub/minerd/mining/worker"
	"github.com/MonteCarloClub/minerd/rpcserver"
)

// simpleAddr implements the net.Addr interface with two struct fields.
type simpleAddr struct {
	net, addr string
}

// String returns the address.
//
// This is part of the net.Addr interface.
func (a simpleAddr) String() string {
	return a.addr
}

// Network returns the network.
//
// This is part of the net.Addr interface.
func (a simpleAddr) Network() string {
	return a.net
}

// Ensure simpleAddr implements the net.Addr interface.
var _ net.Addr = simpleAddr{}

// parseListeners determines whether each listen address is IPv4 and IPv6 and
// returns a slice of appropriate net.Addrs to listen on with TCP.  It also
// properly detects addresses which apply to "all interfaces" and adds the
// address as both IPv4 and IPv6.
func parseListeners(addrs []string) ([]net.Addr, error) {
	netAddrs := make([]net.Addr, 0, len(addrs)*2)
	for _, addr := range addrs {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			// Shouldn't happen due to already being normalized.
			return nil, err
		}

		// Empty host or host of * on plan9 is both IPv4 and IPv6.
		if host == "" || (host == "*" && runtime.GOOS == "plan9") {
			netAddrs = append(netAddrs, simpleAddr{net: "tcp4", addr: addr})
			netAddrs = append(netAddrs, simpleAddr{net: "tcp6", addr: addr})
			continue
		}

		// Strip IPv6 zone id if present since net.ParseIP does not
		// handle it.
		zoneIndex := strings.LastIndex(host, "%")
		if zoneIndex > 0 {
			host = host[:zoneIndex]
		}

		// Parse the IP.
		ip := net.ParseIP(host)
		if ip == nil {
			return nil, fmt.Errorf("'%s' is not a valid IP address", host)
		}

		// To4 returns nil when the IP is not an IPv4 address, so use
		// this determine the address type.
		if ip.To4() == nil {
			netAddrs = append(netAddrs, simpleAddr{net: "tcp6", addr: addr})
		} else {
			netAddrs = append(netAddrs, simpleAddr{net: "tcp4", addr: addr})
		}
	}
	return netAddrs, nil
}

// setupRPCListeners returns a slice of listeners that are configured for use
// with the RPC server depending on the configuration settings for listen
// addresses and TLS.
func setupRPCListeners() ([]net.Listener, error) {
	// Setup TLS if not disabled.
	listenFunc := net.Listen
	if !cfg.DisableTLS {
		// Generate the TLS cert and key file if both don't already
		// exist.
		if !fileExists(cfg.RPCKey) && !fileExists(cfg.RPCCert) {
			err := rpcserver.GenCertPair(cfg.RPCCert, cfg.RPCKey)
			if err != nil {
				return nil, err
			}
		}
		keypair, err := tls.LoadX509KeyPair(cfg.RPCCert, cfg.RPCKey)
		if err != nil {
			return nil, err
		}

		tlsConfig := tls.Config{
			Certificates: []tls.Certificate{keypair},
			MinVersion:   tls.VersionTLS12,
		}

		// Change the standard net.Listen function to the tls one.
		listenFunc = func(net string, laddr string) (net.Listener, error) {
			return tls.Listen(net, laddr, &tlsConfig)
		}
	}

	netAddrs, err := parseListeners(cfg.RPCListeners)
	if err != nil {
		return nil, err
	}

	listeners := make([]net.Listener, 0, len(netAddrs))
	for _, addr := range netAddrs {
		listener, err := listenFunc(addr.Network(), addr.String())
		if err != nil {
			log.RpcsLog.Warnf("Can't listen on %s: %v", addr, err)
			continue
		}
		listeners = append(listeners, listener)
	}

	return listeners, nil
}

// server houses the miner worker pool together with the RPC server exposing
// it and manages their collective lifecycle.
type server struct {
	// The following variables must only be used atomically.
	started     int32
	shutdown    int32
	startupTime int64

	workers   []*worker.MinerWorker
	rpcServer *rpcserver.RpcServer
	wg        sync.WaitGroup
	quit      chan struct{}
}

// newServer returns a new minerd server configured to listen for RPC
// connections on the addresses from the global config.  One miner worker
// slot is created per configured mining slot, each with its own
// proof-of-work engine.
func newServer() (*server, error) {
	s := server{
		quit: make(chan struct{}),
	}

	// One engine per slot keeps the slots fully independent even though
	// the engine itself is stateless.
	s.workers = make([]*worker.MinerWorker, cfg.MiningSlots)
	for i := range s.workers {
		engine, err := pow.New(&pow.Config{
			Difficulty: cfg.Difficulty,
			MaxNonce:   cfg.MaxNonce,
		})
		if err != nil {
			return nil, err
		}
		w, err := worker.New(&worker.Config{Engine: engine})
		if err != nil {
			return nil, err
		}
		s.workers[i] = w
	}

	if !cfg.DisableRPC {
		// Setup listeners for the configured RPC listen addresses and
		// TLS settings.
		rpcListeners, err := setupRPCListeners()
		if err != nil {
			return nil, err
		}
		if len(rpcListeners) == 0 {
			return nil, fmt.Errorf("RPCS: No valid listen address")
		}

		s.rpcServer, err = rpcserver.New(&rpcserver.Config{
			Listeners:            rpcListeners,
			StartupTime:          time.Now().Unix(),
			Workers:              s.workers,
			Difficulty:           cfg.Difficulty,
			Version:              version(),
			RPCUser:              cfg.RPCUser,
			RPCPass:              cfg.RPCPass,
			RPCLimitUser:         cfg.RPCLimitUser,
			RPCLimitPass:         cfg.RPCLimitPass,
			RPCMaxClients:        cfg.RPCMaxClients,
			RPCMaxWebsockets:     cfg.RPCMaxWebsockets,
			RPCMaxConcurrentReqs: cfg.RPCMaxConcurrentReqs,
			RPCQuirks:            cfg.RPCQuirks,
		})
		if err != nil {
			return nil, err
		}

		// Signal process shutdown when the RPC server requests it.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			select {
			case <-s.rpcServer.RequestedProcessShutdown():
				shutdownRequestChannel <- struct{}{}
			case <-s.quit:
			}
		}()
	}

	return &s, nil
}

// Start begins accepting requests on the worker slots and the RPC server.
func (s *server) Start() {
	// Already started?
	if atomic.AddInt32(&s.started, 1) != 1 {
		return
	}

	log.SrvrLog.Trace("Starting server")

	// Server startup time.  Used for the uptime command for uptime
	// calculation.
	atomic.StoreInt64(&s.startupTime, time.Now().Unix())

	for _, w := range s.workers {
		w.Start()
	}

	if !cfg.DisableRPC {
		s.rpcServer.Start()
	}
}

// Stop gracefully shuts down the server by stopping and disconnecting all
// subsystems.
func (s *server) Stop() error {
	// Make sure this only happens once.
	if atomic.AddInt32(&s.shutdown, 1) != 1 {
		log.SrvrLog.Infof("Server is already in the process of shutting " +
			"down")
		return nil
	}

	log.SrvrLog.Warnf("Server shutting down")

	// Shutdown the RPC server if it's not disabled.
	if !cfg.DisableRPC {
		s.rpcServer.Stop()
	}

	for _, w := range s.workers {
		w.Stop()
	}

	// Signal the remaining goroutines to quit.
	close(s.quit)
	return nil
}

// WaitForShutdown blocks until the worker slots and all server goroutines
// have stopped.
func (s *server) WaitForShutdown() {
	for _, w := range s.workers {
		w.WaitForShutdown()
	}
	s.wg.Wait()
}

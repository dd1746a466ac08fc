// Command fabricd runs one node of a fabric cluster: the CRDT datastore,
// the overlay mesh admission server, the DNS authority, the ingress
// reverse proxy, the VMM coordinator, and the host inventory collector.
// Each subsystem binds its own port per spec.md §6 and runs for the life
// of the process; which subsystems actually do useful work on a given
// node depends on whether its Formfile workloads place instances here,
// but every node runs the same binary.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/fabric/pkg/config"
	"github.com/cuemby/fabric/pkg/dns"
	"github.com/cuemby/fabric/pkg/envelope"
	"github.com/cuemby/fabric/pkg/health"
	"github.com/cuemby/fabric/pkg/ingress"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/mesh"
	"github.com/cuemby/fabric/pkg/nodemetrics"
	"github.com/cuemby/fabric/pkg/queue"
	"github.com/cuemby/fabric/pkg/state"
	"github.com/cuemby/fabric/pkg/types"
	"github.com/cuemby/fabric/pkg/vmm"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:     "fabricd",
	Short:   "fabricd runs a fabric confidential-compute fabric node",
	Version: Version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("fabricd version %s\ncommit: %s\n", Version, Commit))
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	daemonLog := log.WithComponent("fabricd")

	key, err := loadOrCreateKey(cfg.DataDir)
	if err != nil {
		return err
	}
	localAddr := envelope.AddressFromPublicKey(&key.PublicKey)
	daemonLog.Info().Str("node_id", localAddr.String()).Str("region", cfg.Region).Msg("fabricd starting")

	store, err := state.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	stateAddr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	peerLister := func() []string {
		regs, err := store.List(state.KindNode)
		if err != nil {
			return nil
		}
		var node types.Node
		peers := make([]string, 0, len(regs))
		for nodeKey, reg := range regs {
			if nodeKey == localAddr.String() {
				continue
			}
			if err := unmarshalInto(reg, &node); err != nil {
				continue
			}
			peers = append(peers, fmt.Sprintf("http://%s:%d", node.Address.String(), state.DefaultPort))
		}
		return peers
	}
	stateServer := state.NewServer(store, peerLister, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stateClient := state.NewClient(fmt.Sprintf("http://%s", stateAddr), key)

	q, err := queue.New(cfg.BrokerAddrs)
	if err != nil {
		daemonLog.Warn().Err(err).Msg("broker unreachable, falling back to in-process queue")
		q = queue.NewFake()
	}
	defer q.Close()

	meshServer := mesh.NewServer(stateClient)
	meshDevice := mesh.NewNullTunnelDevice(func(msg string) { daemonLog.Debug().Msg(msg) })
	meshDaemon := mesh.NewDaemon(stateClient, meshDevice, cfg.Region, 60*time.Second)

	instanceHealth := health.NewInstanceChecker()
	dnsServer, err := dns.NewServer(store, &dns.Config{
		ListenAddr: cfg.DNSListenAddr,
		Domain:     "fabric",
		Upstream:   cfg.UpstreamDNS,
		Health:     instanceHealth,
	})
	if err != nil {
		return fmt.Errorf("create dns server: %w", err)
	}

	proxy, err := ingress.NewProxy(store)
	if err != nil {
		return fmt.Errorf("create ingress proxy: %w", err)
	}

	backend, err := vmm.NewContainerdBackend("")
	if err != nil {
		daemonLog.Warn().Err(err).Msg("containerd unavailable, VMM coordinator disabled")
	}

	collector := nodemetrics.NewCollector(q, stateClient, key, cfg.Region)
	applier := nodemetrics.NewApplier(q, store)

	errCh := make(chan error, 8)
	fail := func(label string, err error) {
		if err != nil {
			errCh <- fmt.Errorf("%s: %w", label, err)
		}
	}

	go func() {
		daemonLog.Info().Str("addr", stateAddr).Msg("state datastore listening")
		fail("state datastore", http.ListenAndServe(stateAddr, stateServer.Routes()))
	}()
	go func() {
		daemonLog.Info().Str("addr", mesh.DefaultListenAddr).Msg("mesh admission server listening")
		fail("mesh admission server", http.ListenAndServe(mesh.DefaultListenAddr, meshServer.Routes()))
	}()
	go func() {
		fail("mesh daemon", meshDaemon.Run(ctx, func(ctx context.Context) (map[string]types.Peer, error) {
			regs, err := store.List(state.KindPeer)
			if err != nil {
				return nil, err
			}
			peers := make(map[string]types.Peer, len(regs))
			for k, reg := range regs {
				var p types.Peer
				if err := unmarshalInto(reg, &p); err == nil {
					peers[k] = p
				}
			}
			return peers, nil
		}))
	}()
	go func() {
		daemonLog.Info().Str("addr", cfg.DNSListenAddr).Msg("dns authority listening")
		fail("dns authority", dnsServer.Start(ctx))
	}()
	go func() {
		daemonLog.Info().Msg("ingress proxy listening on :80 and :443")
		fail("ingress proxy", proxy.Start(ctx))
	}()
	go func() {
		if err := collector.PublishCapability(ctx); err != nil {
			daemonLog.Warn().Err(err).Msg("publish capability failed")
		}
		fail("nodemetrics collector", collector.Run(ctx))
	}()
	go func() {
		fail("nodemetrics applier", applier.Run(ctx, -1, 5*time.Second))
	}()
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				if err := stateServer.ReapOperations(state.DecodeOperationExpiry(now)); err != nil {
					daemonLog.Warn().Err(err).Msg("operation reaper pass failed")
				}
			}
		}
	}()
	if backend != nil {
		coordinator := vmm.NewCoordinator(q, stateClient, backend)
		go func() {
			fail("vmm coordinator", coordinator.Run(ctx, -1, 5*time.Second))
		}()
		bootServer := vmm.NewBootCompleteServer(stateClient)
		bootAddr := fmt.Sprintf(":%d", vmm.DefaultBootCompletePort)
		go func() {
			fail("vmm boot-complete server", http.ListenAndServe(bootAddr, bootServer.Routes()))
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		daemonLog.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
		return nil
	case err := <-errCh:
		cancel()
		return fmt.Errorf("subsystem exited: %w", err)
	}
}

func unmarshalInto(reg state.Register, v any) error {
	return json.Unmarshal(reg.ValueJSON, v)
}

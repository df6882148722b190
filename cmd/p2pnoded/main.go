// Command p2pnoded runs a single peer-to-peer blockchain node: it joins
// the overlay network, synchronizes its chain with peers, and according
// to its configured role either mines new blocks or tracks headers only.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/bigdot123456/p2pnode/internal/chain"
	"github.com/bigdot123456/p2pnode/internal/config"
	"github.com/bigdot123456/p2pnode/internal/ledger"
	"github.com/bigdot123456/p2pnode/internal/node"
	"github.com/bigdot123456/p2pnode/internal/peertable"
	"github.com/bigdot123456/p2pnode/internal/role"
	"github.com/bigdot123456/p2pnode/internal/statusapi"
	"github.com/bigdot123456/p2pnode/internal/storage"
	"github.com/bigdot123456/p2pnode/internal/transport"
	"github.com/bigdot123456/p2pnode/pkg/logging"
)

func main() {
	var (
		name       = flag.String("n", "", "node name (default: node-<random>)")
		port       = flag.Int("p", 5000, "listen port")
		chainFile  = flag.String("file", "", "chain persistence file (default: <data-dir>/blockchain.json)")
		roleFlag   = flag.String("role", "", "node role: full, miner, or spv (default: config value)")
		dataDir    = flag.String("data-dir", "", "data directory (default: ~/.p2pnode)")
		statusAddr = flag.String("status-addr", "127.0.0.1:8090", "status API listen address")
		logLevel   = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	effectiveDataDir := *dataDir
	if effectiveDataDir == "" {
		effectiveDataDir = config.DefaultConfig().Storage.DataDir
	}

	cfg, err := config.Load(effectiveDataDir)
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}

	if *name != "" {
		cfg.Identity.Name = *name
	}
	if cfg.Identity.Name == "" {
		cfg.Identity.Name = fmt.Sprintf("node-%s", uuid.NewString()[:8])
	}
	if *port != 0 {
		cfg.Network.Port = *port
	}
	if *roleFlag != "" {
		cfg.Role = config.Role(*roleFlag)
	}
	cfg.Storage.DataDir = effectiveDataDir

	persistPath := *chainFile
	if persistPath == "" {
		persistPath = filepath.Join(config.ExpandPath(effectiveDataDir), cfg.Storage.ChainFile)
	}

	identifier := fmt.Sprintf("127.0.0.1:%d:%s", cfg.Network.Port, cfg.Identity.Name)

	store, err := storage.Open(storage.Config{DataDir: config.ExpandPath(effectiveDataDir)})
	if err != nil {
		log.Fatal("failed to open peer cache", "error", err)
	}
	defer store.Close()

	if recent, err := store.LoadRecent(24*time.Hour, 20); err != nil {
		log.Warn("failed to read cached peers", "error", err)
	} else if len(recent) > 0 {
		log.Info("loaded cached peer sightings", "count", len(recent))
	}

	led := loadLedger(log, persistPath)
	peers := peertable.New()
	nodeRole := buildRole(cfg.Role, log)

	listenAddr := fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.Network.Port)
	tr := transport.NewLibP2P(transport.LibP2PConfig{
		ListenAddrs: []string{listenAddr},
		EnableMDNS:  cfg.Network.EnableMDNS,
	})

	engineCfg := node.Config{
		HeartbeatInterval:      cfg.Network.HeartbeatInterval,
		HandshakeRetryInterval: cfg.Network.HandshakeRetryInterval,
		SweepInterval:          cfg.Network.SweepInterval,
	}
	engine := node.New(identifier, tr, led, peers, nodeRole, log.Component("node"), engineCfg)
	engine.SetPeerStore(store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		log.Fatal("failed to start node", "error", err)
	}

	status := statusapi.New(engine, led, peers, log.Component("status"))
	if err := status.Start(*statusAddr); err != nil {
		log.Warn("failed to start status API", "error", err)
	} else {
		log.Info("status API listening", "addr", *statusAddr)
	}

	log.Info("node started", "identifier", identifier, "role", cfg.Role)

	go runTransactionPrompt(engine, identifier, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	status.Stop()
	engine.Stop()

	if err := persistChain(led, persistPath); err != nil {
		log.Error("failed to persist chain on shutdown", "error", err)
	}
}

func buildRole(r config.Role, log *logging.Logger) role.Role {
	switch r {
	case config.RoleMiner:
		return role.NewMiner()
	case config.RoleSPV:
		return role.NewSPV()
	default:
		if r != "" && r != config.RoleFull {
			log.Warn("unknown role, defaulting to full node", "role", r)
		}
		return role.NewFullNode()
	}
}

type persistedChain struct {
	Chain []chain.Block `json:"chain"`
}

func loadLedger(log *logging.Logger, path string) *ledger.Ledger {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("failed to read chain file, starting from genesis", "path", path, "error", err)
		}
		return ledger.New()
	}

	var doc persistedChain
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Warn("chain file is malformed, starting from genesis", "path", path, "error", err)
		return ledger.New()
	}
	if !chain.ValidChain(doc.Chain) {
		log.Warn("persisted chain failed validation, starting from genesis", "path", path)
		return ledger.New()
	}

	log.Info("loaded persisted chain", "path", path, "height", len(doc.Chain))
	return ledger.LoadChain(doc.Chain)
}

func persistChain(led *ledger.Ledger, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(persistedChain{Chain: led.Chain()}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// runTransactionPrompt is the interactive front-end surface: it reads
// "<recipient> <amount>" lines from stdin and submits them as
// transactions until stdin closes or the process is interrupted.
func runTransactionPrompt(engine *node.Engine, identifier string, log *logging.Logger) {
	fmt.Println("enter transactions as \"<recipient> <amount>\", or Ctrl-D to stop submitting")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			fmt.Println("expected exactly two fields: <recipient> <amount>")
			continue
		}
		amount, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			fmt.Println("amount must be a number")
			continue
		}
		if err := engine.SubmitTransaction(identifier, fields[0], amount); err != nil {
			log.Warn("failed to submit transaction", "error", err)
			continue
		}
		fmt.Printf("submitted %s -> %s (%.2f)\n", identifier, fields[0], amount)
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/viper"

	"github.com/shadowghost/core/pkg/api"
	"github.com/shadowghost/core/pkg/crypto"
	"github.com/shadowghost/core/pkg/discovery"
	"github.com/shadowghost/core/pkg/network"
	"github.com/shadowghost/core/pkg/storage"
)

const (
	defaultPort    = 8080
	defaultAPIPort = 8090
	defaultKeyPath = "./keys/identity.pem"
	defaultDBPath  = "./data/chat.db"
)

var (
	configPath = flag.String("config", "", "Path to config file (optional)")
	port       = flag.Int("port", 0, "TCP port to listen on")
	apiPort    = flag.Int("api-port", 0, "HTTP API port")
	peerName   = flag.String("name", "", "Peer display name")
	keyPath    = flag.String("key", "", "Path to identity key file")
	genKey     = flag.Bool("genkey", false, "Generate a new identity key")
	noDisc     = flag.Bool("no-discovery", false, "Disable LAN discovery")
	masking    = flag.Bool("masking", false, "Disguise traffic as HTTPS")
	maskDomain = flag.String("mask-domain", "", "Domain announced in the masking handshake")
)

func main() {
	flag.Parse()

	printBanner()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	identity, err := loadOrGenerateIdentity(cfg.GetString("key_path"), *genKey)
	if err != nil {
		log.Fatalf("Failed to load/generate identity: %v", err)
	}

	peerID, err := identity.Fingerprint()
	if err != nil {
		log.Fatalf("Failed to derive peer id: %v", err)
	}
	log.Printf("✓ Identity loaded, peer id %s", peerID[:16])

	dbPath := cfg.GetString("db_path")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	listenPort := uint16(cfg.GetInt("port"))
	manager := network.NewManager(network.Config{
		Peer: network.Peer{
			ID:   peerID,
			Name: cfg.GetString("peer_name"),
			Port: listenPort,
		},
		FallbackPorts:  fallbackPorts(cfg),
		MaskingEnabled: cfg.GetBool("masking.enabled"),
		MaskDomain:     cfg.GetString("masking.domain"),
		Identity:       identity,
		Store:          store,
	})

	restoreContacts(manager, store)
	go persistNewContacts(manager, store)

	if err := manager.StartServer(listenPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	var disc *discovery.Discovery
	if cfg.GetBool("discovery.enabled") {
		disc = discovery.New(discovery.Config{
			PeerID:    peerID,
			PeerName:  cfg.GetString("peer_name"),
			LocalPort: listenPort,
			PublicKey: identity.PublicKey(),
		})
		if err := disc.Start(); err != nil {
			log.Fatalf("Failed to start discovery: %v", err)
		}
	} else {
		log.Println("⚠️ LAN discovery disabled")
	}

	apiServer := api.NewServer(manager, disc, &api.Config{
		Port:       cfg.GetInt("api_port"),
		EnableCORS: true,
		RateLimit:  cfg.GetInt("api_rate_limit"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := apiServer.Start(ctx); err != nil {
			log.Printf("API server error: %v", err)
		}
	}()

	printStatus(cfg, peerID)
	waitForShutdown(cancel, manager, disc)
}

// loadConfig merges defaults, the optional config file, SHADOWGHOST_*
// environment variables and command-line flags, flags winning.
func loadConfig() (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("port", defaultPort)
	v.SetDefault("api_port", defaultAPIPort)
	v.SetDefault("api_rate_limit", 100)
	v.SetDefault("peer_name", "anonymous")
	v.SetDefault("key_path", defaultKeyPath)
	v.SetDefault("db_path", defaultDBPath)
	v.SetDefault("discovery.enabled", true)
	v.SetDefault("masking.enabled", false)
	v.SetDefault("masking.domain", "www.google.com")
	v.SetDefault("fallback_ports", []int{443, 80, 8080, 8443, 8000, 9000, 3000})

	v.SetEnvPrefix("SHADOWGHOST")
	v.AutomaticEnv()

	if *configPath != "" {
		v.SetConfigFile(*configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read %s: %w", *configPath, err)
		}
		log.Printf("✓ Config loaded from %s", *configPath)
	}

	// Explicit flags override everything.
	if *port != 0 {
		v.Set("port", *port)
	}
	if *apiPort != 0 {
		v.Set("api_port", *apiPort)
	}
	if *peerName != "" {
		v.Set("peer_name", *peerName)
	}
	if *keyPath != "" {
		v.Set("key_path", *keyPath)
	}
	if *noDisc {
		v.Set("discovery.enabled", false)
	}
	if *masking {
		v.Set("masking.enabled", true)
	}
	if *maskDomain != "" {
		v.Set("masking.domain", *maskDomain)
	}
	return v, nil
}

func fallbackPorts(cfg *viper.Viper) []uint16 {
	raw := cfg.GetIntSlice("fallback_ports")
	ports := make([]uint16, 0, len(raw))
	for _, p := range raw {
		if p > 0 && p < 65536 {
			ports = append(ports, uint16(p))
		}
	}
	return ports
}

func loadOrGenerateIdentity(path string, generate bool) (*crypto.Identity, error) {
	if _, err := os.Stat(path); err == nil && !generate {
		log.Println("Loading existing identity...")
		return crypto.LoadFromFile(path)
	}

	log.Println("Generating new Ed25519 identity...")
	identity, err := crypto.NewIdentity()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	if err := identity.SaveToFile(path); err != nil {
		return nil, err
	}
	log.Printf("✓ New identity saved to %s", path)
	return identity, nil
}

// restoreContacts loads the stored contact book into the manager.
func restoreContacts(manager *network.Manager, store *storage.Store) {
	contacts, err := store.Contacts()
	if err != nil {
		log.Printf("⚠️ Failed to load contacts: %v", err)
		return
	}
	for _, contact := range contacts {
		manager.AddContact(contact)
	}
	if len(contacts) > 0 {
		log.Printf("✓ Restored %d contacts", len(contacts))
	}
}

// persistNewContacts mirrors contact additions to the database.
func persistNewContacts(manager *network.Manager, store *storage.Store) {
	events, cancel := manager.Events().Subscribe()
	defer cancel()
	for event := range events {
		if event.Type != network.EventContactAdded || event.Contact == nil {
			continue
		}
		if err := store.SaveContact(*event.Contact); err != nil {
			log.Printf("⚠️ Failed to save contact %s: %v", event.Contact.ID, err)
		}
	}
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════════╗")
	fmt.Println("║              ShadowGhost Node v1.0                ║")
	fmt.Println("║        Peer-to-peer encrypted messenger           ║")
	fmt.Println("╚═══════════════════════════════════════════════════╝")
	fmt.Println()
}

func printStatus(cfg *viper.Viper, peerID string) {
	fmt.Println()
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("🚀 Node Status")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("   Status: ✅ RUNNING\n")
	fmt.Printf("   Peer: %s (%s…)\n", cfg.GetString("peer_name"), peerID[:12])
	fmt.Printf("   Listen port: %d\n", cfg.GetInt("port"))
	fmt.Printf("   API port: %d\n", cfg.GetInt("api_port"))
	if cfg.GetBool("discovery.enabled") {
		fmt.Printf("   LAN discovery: ✅ ENABLED\n")
	} else {
		fmt.Printf("   LAN discovery: ⚠️  DISABLED\n")
	}
	if cfg.GetBool("masking.enabled") {
		fmt.Printf("   Traffic masking: ✅ ENABLED (as %s)\n", cfg.GetString("masking.domain"))
	} else {
		fmt.Printf("   Traffic masking: ⚠️  DISABLED\n")
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()
}

func waitForShutdown(cancelAPI context.CancelFunc, manager *network.Manager, disc *discovery.Discovery) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan

	fmt.Println()
	log.Println("Shutting down gracefully...")

	cancelAPI()

	if disc != nil {
		disc.Stop()
		log.Println("✓ Discovery stopped")
	}

	if err := manager.Shutdown(); err != nil {
		log.Printf("Error stopping server: %v", err)
	}
	log.Println("✓ Node stopped")
	log.Println("Goodbye! 👋")
}

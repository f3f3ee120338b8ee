package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	iofs "io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/HyphaGroup/portcullis/internal/audit"
	"github.com/HyphaGroup/portcullis/internal/auth"
	"github.com/HyphaGroup/portcullis/internal/bridge"
	"github.com/HyphaGroup/portcullis/internal/cleanup"
	"github.com/HyphaGroup/portcullis/internal/config"
	"github.com/HyphaGroup/portcullis/internal/domains"
	"github.com/HyphaGroup/portcullis/internal/logger"
	"github.com/HyphaGroup/portcullis/internal/mcp"
	"github.com/HyphaGroup/portcullis/internal/registry"
	"github.com/HyphaGroup/portcullis/internal/resources"
	"github.com/HyphaGroup/portcullis/internal/store"
	"github.com/HyphaGroup/portcullis/internal/validation"
	"github.com/HyphaGroup/portcullis/internal/vault"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

func main() {
	// Check for subcommands before parsing flags
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "init":
			cmdInit()
			return
		case "tenant":
			cmdTenant(os.Args[2:])
			return
		case "token":
			cmdToken(os.Args[2:])
			return
		case "credential":
			cmdCredential(os.Args[2:])
			return
		case "serve":
			runServer(os.Args[2:])
			return
		case "version", "--version", "-v":
			fmt.Printf("portcullis %s\n", Version)
			return
		case "--help", "-h", "help":
			printUsage()
			return
		}
	}

	// Default: run server
	runServer(os.Args[1:])
}

func printUsage() {
	fmt.Printf(`Portcullis %s - Multi-tenant MCP gateway

Usage: portcullis [command] [options]

Commands:
  (default)    Start the MCP server
  init         Initialize the Portcullis directory structure
  tenant       Manage tenants (add, list, deactivate)
  token        Manage bearer tokens (create, list, revoke, jwt)
  credential   Manage provider credentials (set, list)
  version      Print version

Server Options:
  --dir <path>       Portcullis home directory

Config Precedence:
  1. --dir flag
  2. PORTCULLIS_HOME env var
  3. ./.portcullis (if initialized in current directory)
  4. ~/.portcullis (default)

Examples:
  portcullis                                 Start the server (auto-detect config)
  portcullis --dir /srv/portcullis           Start with a specific home directory
  portcullis init                            Set up ~/.portcullis
  portcullis tenant add acme --name "Acme"   Register a tenant
  portcullis token create --tenant acme --scopes basic,booking
`, Version)
}

func runServer(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	showVersion := fs.Bool("version", false, "Print version and exit")
	dirFlag := fs.String("dir", "", "Portcullis home directory (default: ~/.portcullis)")
	_ = fs.Parse(args)

	if *showVersion {
		fmt.Printf("portcullis %s\n", Version)
		os.Exit(0)
	}

	homeDir := resolveHomeDir(*dirFlag)
	dataDir := filepath.Join(homeDir, "data")
	configDir := filepath.Join(homeDir, "config")

	if _, err := os.Stat(filepath.Join(configDir, "portcullis.jsonc")); errors.Is(err, iofs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "Portcullis not initialized. Run 'portcullis init' first.")
		os.Exit(1)
	}

	cfg, err := config.LoadAll(configDir)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logDir := filepath.Join(dataDir, "logs")
	if err := logger.Init(logDir); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Close() }()
	if err := logger.InitSlog(logDir, true); err != nil {
		log.Fatalf("Failed to initialize structured logger: %v", err)
	}
	defer func() { _ = logger.CloseSlog() }()
	if err := audit.InitFile(logDir); err != nil {
		log.Fatalf("Failed to initialize audit log: %v", err)
	}
	defer func() { _ = audit.Close() }()

	logger.Info("Portcullis %s - multi-tenant MCP gateway", Version)

	ctx := context.Background()
	st, err := openStore(ctx, cfg, dataDir)
	if err != nil {
		logger.Fatalf("Failed to open store: %v", err)
	}
	defer func() { _ = st.Close() }()
	logger.Info("Store: %s", cfg.Store.Driver)

	masterKey, err := loadMasterKey(cfg, dataDir)
	if err != nil {
		logger.Fatalf("Failed to load master key: %v", err)
	}
	v := vault.New(st, masterKey)

	gateway := auth.NewGateway(st, jwtVerifier(cfg))

	reg, err := buildCatalog(st, cfg, dataDir)
	if err != nil {
		logger.Fatalf("Failed to build tool catalog: %v", err)
	}

	br := bridge.New(cfg.Server.Workers, cfg.Server.QueueSize,
		time.Duration(cfg.Server.CallTimeoutSeconds)*time.Second)

	engine, err := mcp.NewEngine(mcp.EngineConfig{
		Gateway:     gateway,
		Registry:    reg,
		Bridge:      br,
		Vault:       v,
		MaxSessions: cfg.Server.MaxSessions,
		IdleTimeout: time.Duration(cfg.Server.SessionIdleMinutes) * time.Minute,
	})
	if err != nil {
		logger.Fatalf("Failed to create protocol engine: %v", err)
	}

	httpSrv := mcp.NewServer(mcp.ServerConfig{
		Engine:       engine,
		Store:        st,
		Gateway:      gateway,
		RateLimit:    float64(cfg.Server.RateLimitRPS),
		RateBurst:    cfg.Server.RateLimitBurst,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})

	socket := mcp.NewSocketListener(engine)
	if cfg.Server.SocketAddress != "" {
		if err := socket.ListenTCP(cfg.Server.SocketAddress); err != nil {
			logger.Fatalf("Failed to start socket transport: %v", err)
		}
	}
	socketPath := cfg.Server.SocketPath
	if socketPath == "" {
		socketPath = filepath.Join(dataDir, "portcullis.sock")
	}
	if err := socket.ListenUnix(socketPath); err != nil {
		logger.Fatalf("Failed to start unix socket transport: %v", err)
	}

	cleaner, err := cleanup.New(st, engine.Sessions(), httpSrv.RateLimiter(), cleanup.DefaultConfig())
	if err != nil {
		logger.Fatalf("Failed to start cleanup: %v", err)
	}
	cleaner.Start()

	logger.Info("Starting Portcullis MCP server...")
	logger.Info("HTTP endpoint: http://localhost%s/mcp", cfg.Server.HTTPAddress)
	logger.Info("Socket endpoints: tcp %s, unix %s", cfg.Server.SocketAddress, socketPath)

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpSrv.Serve(cfg.Server.HTTPAddress)
	}()

	select {
	case err := <-serverErr:
		logger.Fatalf("Server error: %v", err)
	case sig := <-shutdownChan:
		logger.Info("Received signal %v, initiating graceful shutdown...", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown: %v", err)
		}
		socket.Close()
		cleaner.Stop()
		engine.Close()
		_ = os.Remove(socketPath)

		logger.Info("Shutdown complete")
	}
}

func openStore(ctx context.Context, cfg *config.UnifiedConfig, dataDir string) (store.Store, error) {
	dsn := cfg.Store.DSN
	if cfg.Store.Driver == "sqlite" && dsn == "" {
		dsn = filepath.Join(dataDir, "portcullis.db")
	}
	return store.Open(ctx, cfg.Store.Driver, dsn)
}

func loadMasterKey(cfg *config.UnifiedConfig, dataDir string) (string, error) {
	keyFile := cfg.Vault.MasterKeyFile
	if keyFile == "" {
		keyFile = filepath.Join(dataDir, "master.key")
	}
	return vault.LoadMasterKey(cfg.Vault.MasterKeyEnv, keyFile)
}

// jwtVerifier builds the JWT bearer path when a shared secret is
// configured; without one only opaque tokens are accepted.
func jwtVerifier(cfg *config.UnifiedConfig) *auth.JWTVerifier {
	secret := os.Getenv(cfg.Auth.JWTSecretEnv)
	if secret == "" {
		return nil
	}
	return auth.NewJWTVerifier([]byte(secret), cfg.Auth.JWTIssuer)
}

// buildCatalog assembles the full tool and resource catalog: the domain
// tools over the provider client plus the kb:// and tenant:// resolvers.
func buildCatalog(st store.Store, cfg *config.UnifiedConfig, dataDir string) (*registry.Registry, error) {
	b := registry.NewBuilder()
	if err := domains.RegisterAll(b, &domains.StubClient{}); err != nil {
		return nil, err
	}

	kbRoot := cfg.Resources.KBRoot
	if kbRoot == "" {
		kbRoot = filepath.Join(dataDir, "kb")
	}
	if err := os.MkdirAll(kbRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating kb directory: %w", err)
	}
	kb, err := resources.NewKB(kbRoot)
	if err != nil {
		return nil, err
	}
	if err := b.AddResource(kb); err != nil {
		return nil, err
	}
	if err := b.AddResource(resources.NewTenantDocs(st)); err != nil {
		return nil, err
	}
	return b.Build(), nil
}

func cmdInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dirFlag := fs.String("dir", "", "Directory to initialize (default: ~/.portcullis)")
	_ = fs.Parse(os.Args[2:])

	var homeDir string
	if *dirFlag != "" {
		absDir, err := filepath.Abs(*dirFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid directory: %v\n", err)
			os.Exit(1)
		}
		homeDir = absDir
	} else {
		userHome, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: could not determine home directory: %v\n", err)
			os.Exit(1)
		}
		homeDir = filepath.Join(userHome, ".portcullis")
	}

	configDir := filepath.Join(homeDir, "config")
	dataDir := filepath.Join(homeDir, "data")

	configFile := filepath.Join(configDir, "portcullis.jsonc")
	if _, err := os.Stat(configFile); err == nil {
		fmt.Printf("%s is already initialized.\n", homeDir)
		fmt.Print("Overwrite config? [y/N]: ")
		var response string
		_, _ = fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return
		}
	}

	fmt.Println("Initializing Portcullis")
	fmt.Println("")

	dirs := []string{
		configDir,
		filepath.Join(dataDir, "logs"),
		filepath.Join(dataDir, "kb"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", dir, err)
			os.Exit(1)
		}
		fmt.Printf("   Created %s\n", dir)
	}

	unifiedConfig := `{
  // Portcullis Configuration

  "server": {
    "http_address": ":8080",
    "socket_address": "127.0.0.1:9191",
    "call_timeout_seconds": 30,
    "workers": 8,
    "queue_size": 64,
    "session_idle_minutes": 30,
    "rate_limit_rps": 10,
    "rate_limit_burst": 20
  },

  "auth": {
    "token_ttl_hours": 720,
    "jwt_issuer": "portcullis",
    "jwt_secret_env": "PORTCULLIS_JWT_SECRET"
  },

  "vault": {
    "master_key_env": "PORTCULLIS_MASTER_KEY"
  },

  "store": {
    "driver": "sqlite"
  },

  "resources": {}
}
`
	if err := os.WriteFile(configFile, []byte(unifiedConfig), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating portcullis.jsonc: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("   Created %s\n", configFile)

	// Generate the vault master key unless one already exists.
	keyFile := filepath.Join(dataDir, "master.key")
	if _, err := os.Stat(keyFile); errors.Is(err, iofs.ErrNotExist) {
		key, err := vault.GenerateMasterKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating master key: %v\n", err)
			os.Exit(1)
		}
		if err := vault.WriteMasterKeyFile(keyFile, key); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing master key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("   Created %s (mode 0600)\n", keyFile)
	}

	// Seed a first tenant and token so the server is usable immediately.
	fmt.Println("")
	fmt.Println("Creating default tenant and admin token...")

	ctx := context.Background()
	st, err := store.NewSQLiteStore(filepath.Join(dataDir, "portcullis.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	now := time.Now().UTC()
	err = st.CreateTenant(ctx, &store.Tenant{
		ID: "default", Name: "Default Tenant", Active: true,
		CreatedAt: now, UpdatedAt: now,
	})
	if err != nil && !strings.Contains(err.Error(), "exists") {
		fmt.Fprintf(os.Stderr, "Error creating tenant: %v\n", err)
		os.Exit(1)
	}

	gateway := auth.NewGateway(st, nil)
	token, err := gateway.CreateToken(ctx, "default", "admin", auth.KnownScopes, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("")
	fmt.Println("Admin token (save this - it cannot be retrieved later):")
	fmt.Printf("   %s\n", token.ID)
	fmt.Println("")
	fmt.Println("Portcullis initialized.")
	fmt.Println("")
	fmt.Println("Next steps:")
	fmt.Println("   1. Run 'portcullis' to start the server")
	fmt.Println("   2. Add tenants with 'portcullis tenant add <id> --name <name>'")
	fmt.Println("   3. Store provider keys with 'portcullis credential set'")
}

// openAdminStore opens the store the way the server does, for the
// admin subcommands that operate on it directly.
func openAdminStore() (store.Store, *config.UnifiedConfig, string) {
	homeDir := resolveHomeDir("")
	dataDir := filepath.Join(homeDir, "data")
	configDir := filepath.Join(homeDir, "config")

	cfg, err := config.LoadAll(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	st, err := openStore(context.Background(), cfg, dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	return st, cfg, dataDir
}

func cmdTenant(args []string) {
	if len(args) < 1 {
		printTenantUsage()
		os.Exit(1)
	}

	st, _, _ := openAdminStore()
	defer func() { _ = st.Close() }()
	ctx := context.Background()

	switch args[0] {
	case "add":
		tenantAdd(ctx, st, args[1:])
	case "list":
		tenantList(ctx, st)
	case "deactivate":
		tenantDeactivate(ctx, st, args[1:])
	case "help", "-h", "--help":
		printTenantUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown tenant command: %s\n", args[0])
		printTenantUsage()
		os.Exit(1)
	}
}

func printTenantUsage() {
	fmt.Println(`Tenant Management

Usage: portcullis tenant <command> [options]

Commands:
  add <id> --name <name>   Register a tenant
  list                     List all tenants
  deactivate <id>          Deactivate a tenant (sessions fail on next call)

Examples:
  portcullis tenant add acme --name "Acme Corp"
  portcullis tenant list
  portcullis tenant deactivate acme`)
}

func tenantAdd(ctx context.Context, st store.Store, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: tenant id required")
		os.Exit(1)
	}
	id := args[0]
	fs := flag.NewFlagSet("tenant add", flag.ExitOnError)
	name := fs.String("name", "", "Human-readable tenant name")
	_ = fs.Parse(args[1:])

	if err := validation.ValidateTenantID(id); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *name == "" {
		*name = id
	}

	now := time.Now().UTC()
	err := st.CreateTenant(ctx, &store.Tenant{
		ID: id, Name: *name, Active: true, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating tenant: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Tenant %s created.\n", id)
}

func tenantList(ctx context.Context, st store.Store) {
	tenants, err := st.ListTenants(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing tenants: %v\n", err)
		os.Exit(1)
	}
	if len(tenants) == 0 {
		fmt.Println("No tenants found.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tACTIVE\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t-------")
	for _, t := range tenants {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%s\n",
			t.ID, t.Name, t.Active, t.CreatedAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}

func tenantDeactivate(ctx context.Context, st store.Store, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: tenant id required")
		os.Exit(1)
	}
	if err := st.DeactivateTenant(ctx, args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "Error deactivating tenant: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Tenant %s deactivated.\n", args[0])
}

func cmdToken(args []string) {
	if len(args) < 1 {
		printTokenUsage()
		os.Exit(1)
	}

	st, cfg, _ := openAdminStore()
	defer func() { _ = st.Close() }()
	ctx := context.Background()
	gateway := auth.NewGateway(st, nil)

	switch args[0] {
	case "create":
		tokenCreate(ctx, gateway, cfg, args[1:])
	case "list":
		tokenList(ctx, st, args[1:])
	case "revoke":
		tokenRevoke(ctx, gateway, args[1:])
	case "jwt":
		tokenJWT(cfg, args[1:])
	case "help", "-h", "--help":
		printTokenUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown token command: %s\n", args[0])
		printTokenUsage()
		os.Exit(1)
	}
}

func printTokenUsage() {
	fmt.Printf(`Token Management

Usage: portcullis token <command> [options]

Commands:
  create    Create a new bearer token
  list      List tokens (optionally --tenant <id>)
  revoke    Revoke a token
  jwt       Mint a short-lived JWT for testing
  help      Show this help

Known scopes: %s

Examples:
  portcullis token create --tenant acme --label "CI" --scopes basic,booking
  portcullis token create --tenant acme --scopes basic --ttl 24h
  portcullis token list --tenant acme
  portcullis token revoke pct_xxxx...
  portcullis token jwt --tenant acme --scopes basic --ttl 15m
`, strings.Join(auth.KnownScopes, ", "))
}

func tokenCreate(ctx context.Context, gateway *auth.Gateway, cfg *config.UnifiedConfig, args []string) {
	fs := flag.NewFlagSet("token create", flag.ExitOnError)
	tenant := fs.String("tenant", "", "Tenant id (required)")
	label := fs.String("label", "", "Human-readable token label")
	scopesFlag := fs.String("scopes", "basic", "Comma-separated scopes")
	ttl := fs.Duration("ttl", 0, "Token lifetime (default from config; 0 uses config default)")
	_ = fs.Parse(args)

	if *tenant == "" {
		fmt.Fprintln(os.Stderr, "Error: --tenant is required")
		fs.PrintDefaults()
		os.Exit(1)
	}
	lifetime := *ttl
	if lifetime == 0 {
		lifetime = time.Duration(cfg.Auth.TokenTTLHours) * time.Hour
	}

	token, err := gateway.CreateToken(ctx, *tenant, *label, splitScopes(*scopesFlag), lifetime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Token created successfully!")
	fmt.Println()
	fmt.Printf("Token:   %s\n", token.ID)
	fmt.Printf("Tenant:  %s\n", token.TenantID)
	fmt.Printf("Scopes:  %s\n", strings.Join(token.Scopes, ", "))
	if token.ExpiresAt != nil {
		fmt.Printf("Expires: %s\n", token.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("IMPORTANT: Save this token now. It cannot be retrieved later.")
}

func tokenList(ctx context.Context, st store.Store, args []string) {
	fs := flag.NewFlagSet("token list", flag.ExitOnError)
	tenant := fs.String("tenant", "", "Filter by tenant id")
	_ = fs.Parse(args)

	tokens, err := st.ListTokens(ctx, *tenant)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing tokens: %v\n", err)
		os.Exit(1)
	}
	if len(tokens) == 0 {
		fmt.Println("No tokens found.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TOKEN\tTENANT\tLABEL\tSCOPES\tACTIVE\tLAST USED")
	_, _ = fmt.Fprintln(w, "-----\t------\t-----\t------\t------\t---------")
	for _, t := range tokens {
		lastUsed := "never"
		if t.LastUsedAt != nil {
			lastUsed = t.LastUsedAt.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
			auth.MaskToken(t.ID), t.TenantID, t.Label,
			strings.Join(t.Scopes, ","), t.Active, lastUsed)
	}
	_ = w.Flush()
}

func tokenRevoke(ctx context.Context, gateway *auth.Gateway, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: token required")
		fmt.Fprintln(os.Stderr, "Usage: portcullis token revoke <token>")
		os.Exit(1)
	}
	if err := gateway.RevokeToken(ctx, args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "Error revoking token: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Token %s revoked.\n", auth.MaskToken(args[0]))
}

func tokenJWT(cfg *config.UnifiedConfig, args []string) {
	fs := flag.NewFlagSet("token jwt", flag.ExitOnError)
	tenant := fs.String("tenant", "", "Tenant id claim (required)")
	scopesFlag := fs.String("scopes", "basic", "Comma-separated scopes claim")
	ttl := fs.Duration("ttl", 15*time.Minute, "Token lifetime")
	_ = fs.Parse(args)

	if *tenant == "" {
		fmt.Fprintln(os.Stderr, "Error: --tenant is required")
		os.Exit(1)
	}
	secret := os.Getenv(cfg.Auth.JWTSecretEnv)
	if secret == "" {
		fmt.Fprintf(os.Stderr, "Error: %s is not set\n", cfg.Auth.JWTSecretEnv)
		os.Exit(1)
	}

	verifier := auth.NewJWTVerifier([]byte(secret), cfg.Auth.JWTIssuer)
	signed, err := verifier.Generate(*tenant, splitScopes(*scopesFlag), *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error minting JWT: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(signed)
}

func cmdCredential(args []string) {
	if len(args) < 1 {
		printCredentialUsage()
		os.Exit(1)
	}

	st, cfg, dataDir := openAdminStore()
	defer func() { _ = st.Close() }()
	ctx := context.Background()

	masterKey, err := loadMasterKey(cfg, dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading master key: %v\n", err)
		os.Exit(1)
	}
	v := vault.New(st, masterKey)

	switch args[0] {
	case "set":
		credentialSet(ctx, v, args[1:])
	case "list":
		credentialList(ctx, v, args[1:])
	case "help", "-h", "--help":
		printCredentialUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown credential command: %s\n", args[0])
		printCredentialUsage()
		os.Exit(1)
	}
}

func printCredentialUsage() {
	fmt.Println(`Credential Management

Usage: portcullis credential <command> [options]

Commands:
  set     Store an encrypted provider credential (value read from stdin)
  list    List credential names for a tenant (values are never printed)

Examples:
  echo -n "sk-..." | portcullis credential set --tenant acme --provider openai --key api_key
  portcullis credential list --tenant acme`)
}

func credentialSet(ctx context.Context, v *vault.Vault, args []string) {
	fs := flag.NewFlagSet("credential set", flag.ExitOnError)
	tenant := fs.String("tenant", "", "Tenant id (required)")
	provider := fs.String("provider", "", "Provider name (required)")
	key := fs.String("key", "", "Credential key (required)")
	value := fs.String("value", "", "Credential value (default: read from stdin)")
	_ = fs.Parse(args)

	if *tenant == "" || *provider == "" || *key == "" {
		fmt.Fprintln(os.Stderr, "Error: --tenant, --provider and --key are required")
		fs.PrintDefaults()
		os.Exit(1)
	}

	plaintext := *value
	if plaintext == "" {
		data, err := readStdin()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading value from stdin: %v\n", err)
			os.Exit(1)
		}
		plaintext = data
	}
	if plaintext == "" {
		fmt.Fprintln(os.Stderr, "Error: empty credential value")
		os.Exit(1)
	}

	if err := v.Set(ctx, *tenant, *provider, *key, plaintext); err != nil {
		fmt.Fprintf(os.Stderr, "Error storing credential: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Credential %s/%s stored for tenant %s.\n", *provider, *key, *tenant)
}

func credentialList(ctx context.Context, v *vault.Vault, args []string) {
	fs := flag.NewFlagSet("credential list", flag.ExitOnError)
	tenant := fs.String("tenant", "", "Tenant id (required)")
	_ = fs.Parse(args)

	if *tenant == "" {
		fmt.Fprintln(os.Stderr, "Error: --tenant is required")
		os.Exit(1)
	}

	creds, err := v.List(ctx, *tenant)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing credentials: %v\n", err)
		os.Exit(1)
	}
	if len(creds) == 0 {
		fmt.Println("No credentials found.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PROVIDER\tKEY\tCREATED")
	_, _ = fmt.Fprintln(w, "--------\t---\t-------")
	for _, c := range creds {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n",
			c.Provider, c.Key, c.CreatedAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}

func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func splitScopes(csv string) []string {
	parts := strings.Split(csv, ",")
	scopes := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

func resolveHomeDir(flagDir string) string {
	// 1. Explicit flag takes highest precedence
	if flagDir != "" {
		absDir, err := filepath.Abs(flagDir)
		if err != nil {
			log.Fatalf("Invalid directory: %v", err)
		}
		return absDir
	}

	// 2. PORTCULLIS_HOME env var
	if envDir := os.Getenv("PORTCULLIS_HOME"); envDir != "" {
		absDir, err := filepath.Abs(envDir)
		if err != nil {
			log.Fatalf("Invalid PORTCULLIS_HOME: %v", err)
		}
		return absDir
	}

	// 3. Check current directory for config/portcullis.jsonc (direct) or
	// .portcullis/config/portcullis.jsonc
	cwd, err := os.Getwd()
	if err == nil {
		directConfig := filepath.Join(cwd, "config", "portcullis.jsonc")
		if _, err := os.Stat(directConfig); err == nil {
			return cwd
		}
		localDir := filepath.Join(cwd, ".portcullis")
		configFile := filepath.Join(localDir, "config", "portcullis.jsonc")
		if _, err := os.Stat(configFile); err == nil {
			return localDir
		}
	}

	// 4. Default to ~/.portcullis
	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("Failed to get home directory: %v", err)
	}
	return filepath.Join(homeDir, ".portcullis")
}

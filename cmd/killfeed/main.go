// killfeed - remote kill-log ingestion and PvP statistics
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/towertools/killfeed/internal/api"
	"github.com/towertools/killfeed/internal/auth"
	"github.com/towertools/killfeed/internal/config"
	"github.com/towertools/killfeed/internal/pipeline"
	"github.com/towertools/killfeed/internal/remote"
	"github.com/towertools/killfeed/internal/storage"
)

var version = "dev"

const defaultConfigPath = "/etc/killfeed/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "hash-password":
		cmdHashPassword(os.Args[2:])
	case "version":
		fmt.Printf("killfeed %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: killfeed <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve          Start the ingestion pipeline and HTTP API")
	fmt.Println("  hash-password  Generate a bcrypt hash for the admin password")
	fmt.Println("  version        Print version")
	fmt.Println("  help           Show this help")
}

// cmdServe starts the pipeline scheduler and the HTTP API
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	logLevel := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.Parse(args)

	log := logrus.New()
	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		log.SetLevel(level)
	}

	cfgPath := *configPath
	if cfgPath == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			cfgPath = defaultConfigPath
		} else {
			log.Fatalf("No config file found at %s. Use --config to specify a config file.", defaultConfigPath)
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Infof("killfeed %s starting", version)
	log.Infof("Ingesting logs from %d game servers", len(cfg.GameServers))

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()
	log.Infof("Database initialized at %s", cfg.Database.Path)

	pool := remote.NewPool()
	defer pool.CloseAll()

	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration, cfg.Auth.AdminUser, cfg.Auth.AdminPasswordHash)

	hub := api.NewWebSocketHub()
	processor := pipeline.NewProcessor(store, pool, cfg.Pipeline, log, hub.Broadcast)
	scheduler := pipeline.NewScheduler(processor, cfg.Pipeline, cfg.GameServers, log)
	router := api.NewRouter(store, scheduler, authService, hub)
	router.StartWebSocketHub()

	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	go scheduler.Start(schedCtx)

	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	server := newHTTPServer(addr, router, cfg.Pipeline)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.Infof("Received signal %v, shutting down", sig)
	case err := <-serverErr:
		log.Fatalf("HTTP server error: %v", err)
	}

	// Sequential shutdown: stop accepting requests, then stop the scheduler
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		log.Warnf("HTTP server shutdown error: %v", err)
	}

	schedCancel()
	log.Info("Shutdown complete")
}

// newHTTPServer builds the API server. The manual process endpoints run a
// full server pass before responding, so the write deadline must outlast the
// per-server run timeout.
func newHTTPServer(addr string, handler http.Handler, pipe config.PipelineConfig) *http.Server {
	writeTimeout := pipe.ServerTimeout + 30*time.Second
	if min := 15 * time.Second; writeTimeout < min {
		writeTimeout = min
	}
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

// cmdHashPassword prompts for a password and prints its bcrypt hash for the
// auth section of the config file
func cmdHashPassword(args []string) {
	fmt.Print("Enter password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read password: %v\n", err)
		os.Exit(1)
	}

	if len(password) < 8 {
		fmt.Fprintln(os.Stderr, "Password must be at least 8 characters")
		os.Exit(1)
	}

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read password: %v\n", err)
		os.Exit(1)
	}

	if string(password) != string(confirm) {
		fmt.Fprintln(os.Stderr, "Passwords do not match")
		os.Exit(1)
	}

	hash, err := auth.HashPassword(string(password))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to hash password: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(hash)
}

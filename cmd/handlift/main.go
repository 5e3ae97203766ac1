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

	"github.com/ayusman/handlift/internal/app"
	"github.com/ayusman/handlift/internal/config"
	"github.com/ayusman/handlift/internal/server"
	"github.com/ayusman/handlift/internal/store"
)

var (
	configPath = flag.String("config", "", "Path to JSON configuration file (default "+config.DefaultConfigPath+" if present)")
	dbPath     = flag.String("db", "", "SQLite database path (overrides the configuration)")
	addr       = flag.String("addr", "", "Listen address (overrides the configuration)")
	staticDir  = flag.String("static", "", "Directory of static files to serve at /")
)

func main() {
	flag.Parse()
	fmt.Println("handlift - 3D hand reconstruction from joint rays")

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	path := cfg.GetDBPath()
	if *dbPath != "" {
		path = *dbPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("Failed to create data directory: %v", err)
		}
	}

	st, err := store.New(path)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()
	log.Printf("Using database %s", st.Path())

	application := app.New(app.Config{
		Store:    st,
		Triangle: cfg.TriangleConfig(),
		Cone:     cfg.ConeConfig(),
		Assembly: cfg.AssemblyConfig(),
		Workers:  cfg.GetWorkers(),
		Seed:     cfg.GetSeed(),
	})

	srv := server.New(server.Config{
		StaticDir: *staticDir,
		App:       application,
	})

	listen := cfg.GetAddr()
	if *addr != "" {
		listen = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Starting server on %s", listen)
	if err := srv.Run(ctx, listen); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
	log.Printf("Server stopped")
}

// loadConfig reads path, or the default configuration file when path is
// empty and the file exists. Without either every setting keeps its default.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err != nil {
			return config.Empty(), nil
		}
		path = config.DefaultConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded configuration from %s", path)
	return cfg, nil
}

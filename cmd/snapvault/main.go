// Command snapvault is the operator-facing entry point: initialize a
// config file, run a verification pass, list what the
// repository's catalog currently tracks, or delete a snapshot by UUID.
// Grounded on the teacher's cmd/dittofs/main.go: stdlib flag
// subcommands dispatched from a hand-rolled usage string, no CLI
// framework.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/snapvault/internal/logger"
	"github.com/marmos91/snapvault/pkg/config"
	"github.com/marmos91/snapvault/pkg/metrics"
	_ "github.com/marmos91/snapvault/pkg/metrics/prometheus"
	"github.com/marmos91/snapvault/pkg/repository"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const usage = `snapvault - blob-store-backed snapshot repository

Usage:
  snapvault <command> [flags]

Commands:
  init      Write a sample configuration file
  verify    Run a reachability probe against the repository (writes and
            removes scratch blobs unless the repository is read-only)
  list      Print every snapshot the repository catalog currently tracks
  delete    Delete one snapshot by UUID
  version   Show version information

Flags:
  --config string   Path to config file (default: $XDG_CONFIG_HOME/snapvault/config.yaml)
  --force           Force overwrite an existing config file (init only)

Examples:
  snapvault init
  snapvault verify --config /etc/snapvault/config.yaml
  snapvault list
  snapvault delete --uuid 1f6b2b1e-...
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit()
	case "verify":
		runVerify()
	case "list":
		runList()
	case "delete":
		runDelete()
	case "help", "--help", "-h":
		fmt.Print(usage)
	case "version", "--version", "-v":
		fmt.Printf("snapvault %s (commit: %s, built: %s)\n", version, commit, date)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func runInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file")
	force := fs.Bool("force", false, "Force overwrite existing config file")
	_ = fs.Parse(os.Args[2:])

	path := *configFile
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	if !*force {
		if _, err := os.Stat(path); err == nil {
			log.Fatalf("config already exists at %s (use --force to overwrite)", path)
		}
	}

	cfg := config.GetDefaultConfig()
	cfg.Repository.Name = "primary"
	if err := config.SaveConfig(cfg, path); err != nil {
		log.Fatalf("write config: %v", err)
	}
	fmt.Printf("wrote default configuration to %s\n", path)
}

func runVerify() {
	cfg, repo := mustLoadRepository()
	defer repo.Close()

	ctx, stop := signalContext()
	defer stop()

	seed, err := repo.StartVerification(ctx)
	if err != nil {
		log.Fatalf("start verification: %v", err)
	}
	if err := repo.Verify(ctx, seed, cfg.Repository.Name); err != nil {
		log.Fatalf("verify: %v", err)
	}
	if err := repo.EndVerification(ctx, seed); err != nil {
		log.Fatalf("end verification: %v", err)
	}
	fmt.Println("repository reachable and verified")
}

func runList() {
	_, repo := mustLoadRepository()
	defer repo.Close()

	ctx, stop := signalContext()
	defer stop()

	data, err := repo.GetRepositoryData(ctx)
	if err != nil {
		log.Fatalf("read repository data: %v", err)
	}
	if len(data.Snapshots) == 0 {
		fmt.Println("no snapshots recorded")
		return
	}
	for uuid, rec := range data.Snapshots {
		fmt.Printf("%s\t%s\t%s\n", uuid, rec.SnapshotID.Name, rec.State)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file")
	uuid := fs.String("uuid", "", "Snapshot UUID to delete")
	_ = fs.Parse(os.Args[2:])
	if *uuid == "" {
		log.Fatal("--uuid is required")
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	repo := newRepository(cfg)
	defer repo.Close()

	ctx, stop := signalContext()
	defer stop()

	if err := repo.DeleteSnapshot(ctx, *uuid); err != nil {
		log.Fatalf("delete snapshot: %v", err)
	}
	fmt.Printf("deleted snapshot %s\n", *uuid)
}

func mustLoadRepository() (*config.Config, *repository.Repository) {
	configFile := ""
	fs := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	fs.StringVar(&configFile, "config", "", "Path to config file")
	_ = fs.Parse(os.Args[2:])

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	return cfg, newRepository(cfg)
}

func newRepository(cfg *config.Config) *repository.Repository {
	if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	repo, err := repository.New(context.Background(), cfg)
	if err != nil {
		log.Fatalf("mount repository: %v", err)
	}
	return repo
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

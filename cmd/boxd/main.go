// Command boxd is a3s box's long-running daemon: it owns the
// lifecycle engine's restart-policy and health-check loops and serves
// the control API cmd/box drives.
//
// Grounded on cuemby-warren/cmd/warren/main.go's cluster-init
// command: build the dependencies, start the background daemons,
// start the API listener, print a short startup banner, then block on
// a signal channel for graceful shutdown.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/a3s-box/box/pkg/api"
	"github.com/a3s-box/box/pkg/boxstore"
	"github.com/a3s-box/box/pkg/config"
	"github.com/a3s-box/box/pkg/engine"
	"github.com/a3s-box/box/pkg/events"
	"github.com/a3s-box/box/pkg/log"
	"github.com/a3s-box/box/pkg/network"
	"github.com/a3s-box/box/pkg/registry"
	"github.com/a3s-box/box/pkg/rootfs"
	"github.com/a3s-box/box/pkg/tee"
	"github.com/a3s-box/box/pkg/transport"
	"github.com/a3s-box/box/pkg/volume"
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

var rootCmd = &cobra.Command{
	Use:     "boxd",
	Short:   "a3s box daemon",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("boxd version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(nil)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel, _ := cmd.Flags().GetString("log-level"); logLevel != "info" {
		cfg.LogLevel = logLevel
	}
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: logJSON || cfg.LogJSON})

	for _, dir := range []string{cfg.Home, cfg.ImagesDir(), cfg.VolumesDir(), cfg.RootfsCacheDir(), cfg.NetworksDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	fs := afero.NewOsFs()

	reg, err := registry.New(registry.Options{Home: cfg.Home, CacheSizeCap: cfg.ImageCacheSize})
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer reg.Close()

	composer := rootfs.New(fs, cfg.RootfsCacheDir(), reg.BlobPath)

	store := boxstore.New(cfg.BoxesPath())
	if err := store.Load(); err != nil {
		return fmt.Errorf("load box store: %w", err)
	}

	netMgr := network.NewManager(fs, cfg.NetworksDir())
	if err := netMgr.Load(); err != nil {
		return fmt.Errorf("load networks: %w", err)
	}
	if _, err := netMgr.EnsureDefault(); err != nil {
		return fmt.Errorf("ensure default network: %w", err)
	}

	volMgr := volume.NewManager(fs, cfg.VolumesDir())
	if err := volMgr.Load(); err != nil {
		return fmt.Errorf("load volumes: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	teeSimulate := cfg.TEESimulate
	teeFactory := func(boxID string) transport.AttestationHandler {
		return tee.NewAttestor(boxID, teeSimulate)
	}

	eng := engine.New(engine.Options{
		Store:      store,
		Registry:   reg,
		Composer:   composer,
		Volumes:    volMgr,
		Broker:     broker,
		CgroupRoot: filepath.Join(cfg.Home, "cgroups"),
		TEEFactory: teeFactory,
		DepsStub:   cfg.DepsStub,
	})

	if reclaimed, err := store.Reconcile(); err != nil {
		log.Error("box store reconcile failed")
	} else if len(reclaimed) > 0 {
		fmt.Printf("✓ Reconciled %d stale box record(s) from a previous run\n", len(reclaimed))
	}

	eng.StartDaemons()
	defer eng.StopDaemons()

	socketPath := cfg.APISocketPath()
	_ = os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0o700); err != nil {
		return fmt.Errorf("chmod %s: %w", socketPath, err)
	}
	defer ln.Close()

	srv := api.NewServer(eng, reg, netMgr, volMgr, broker)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ctx, ln); err != nil {
			errCh <- err
		}
	}()

	fmt.Printf("✓ a3s box daemon listening on %s\n", socketPath)
	fmt.Println("Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\napi server error: %v\n", err)
	}
	cancel()

	fmt.Println("✓ Shutdown complete")
	return nil
}

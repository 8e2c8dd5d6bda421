// seisd is the seismic acquisition daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtxerr/seisd/config"
	"github.com/xtxerr/seisd/internal/console"
	"github.com/xtxerr/seisd/internal/loader"
	"github.com/xtxerr/seisd/internal/logging"
	"github.com/xtxerr/seisd/internal/manager"
)

func main() {
	// CLI flags
	cfgPath := flag.String("config", "seisd.yaml", "config file path")
	device := flag.String("serial", "", "serial device (overrides config)")
	noSerial := flag.Bool("no-serial", false, "start without the serial link")
	listen := flag.String("listen", "", "client listen address (overrides config)")
	rate := flag.Int("rate", 0, "sample rate in sps (overrides config)")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	metricsAddr := flag.String("metrics", "", "metrics listen address (overrides config)")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	logJSON := flag.Bool("log-json", false, "log in JSON")
	noConsole := flag.Bool("no-console", false, "do not read commands from stdin")
	watch := flag.Bool("watch", true, "reload the log level when the config file changes")
	version := flag.Bool("version", false, "print version and exit")
	requirements := flag.Bool("requirements", false, "print memory and disk requirements for the config and exit")
	flag.Parse()

	if *version {
		fmt.Println("seisd", config.Version)
		return
	}

	if err := run(options{
		cfgPath:      *cfgPath,
		device:       *device,
		noSerial:     *noSerial,
		listen:       *listen,
		rate:         *rate,
		dataDir:      *dataDir,
		metricsAddr:  *metricsAddr,
		logLevel:     *logLevel,
		logJSON:      *logJSON,
		noConsole:    *noConsole,
		watch:        *watch,
		requirements: *requirements,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "seisd: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	cfgPath     string
	device      string
	noSerial    bool
	listen      string
	rate        int
	dataDir     string
	metricsAddr string
	logLevel    string
	logJSON     bool
	noConsole   bool
	watch       bool

	requirements bool
}

func run(o options) error {
	// =========================================================================
	// Load config
	// =========================================================================

	cfg, found, err := loader.LoadOrDefault(o.cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// CLI overrides
	if o.device != "" {
		cfg.Serial.Device = o.device
	}
	if o.noSerial {
		cfg.Serial.Disabled = true
	}
	if o.listen != "" {
		cfg.Listen = o.listen
	}
	if o.rate != 0 {
		cfg.SampleRate = o.rate
	}
	if o.dataDir != "" {
		cfg.Storage.DataDir = o.dataDir
	}
	if o.metricsAddr != "" {
		cfg.Metrics.Listen = o.metricsAddr
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logJSON {
		cfg.Logging.JSON = true
	}

	if err := loader.Validate(cfg); err != nil {
		return err
	}

	if o.requirements {
		fmt.Println(loader.ToStorageConfig(cfg).CalculateRequirements().FormatRequirements())
		return nil
	}

	lvl, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logging.Init(lvl, cfg.Logging.JSON)
	log := logging.Component("main")

	if found {
		log.Info("config loaded", "path", o.cfgPath)
	} else {
		log.Info("no config file found, using defaults", "path", o.cfgPath)
	}

	// =========================================================================
	// Start subsystems
	// =========================================================================

	mgr, err := manager.New(cfg, manager.Options{})
	if err != nil {
		return fmt.Errorf("create manager: %w", err)
	}
	if err := mgr.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	if found && o.watch {
		watcher := loader.NewWatcher(o.cfgPath, 0, mgr.Reload)
		watcher.Start()
		defer watcher.Stop()
	}

	// =========================================================================
	// Wait for exit
	// =========================================================================

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var con *console.Console
	consoleDone := make(chan error, 1)
	if !o.noConsole {
		con = console.New(mgr, os.Stdout)
		go func() { consoleDone <- con.Run(ctx, os.Stdin) }()
	}

	select {
	case <-ctx.Done():
		log.Info("signal received, shutting down")
	case err := <-consoleDone:
		switch err {
		case nil:
			log.Info("exit requested, shutting down")
		case io.EOF:
			// Detached stdin (service manager): run until signalled.
			log.Info("console input closed, running until signalled")
			<-ctx.Done()
			log.Info("signal received, shutting down")
		default:
			log.Warn("console stopped", "error", err)
			<-ctx.Done()
		}
	}

	// The prompt may still hold the terminal in raw mode.
	if con != nil {
		if err := con.Close(); err != nil {
			log.Warn("restore terminal", "error", err)
		}
	}

	return mgr.Shutdown()
}

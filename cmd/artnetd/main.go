// Package main is the entry point for the artnetd Art-Net node daemon.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bbernstein/lacylights-artnet/internal/api"
	"github.com/bbernstein/lacylights-artnet/internal/config"
	"github.com/bbernstein/lacylights-artnet/internal/database"
	"github.com/bbernstein/lacylights-artnet/internal/logger"
	"github.com/bbernstein/lacylights-artnet/internal/services/dmx"
	"github.com/bbernstein/lacylights-artnet/internal/services/fade"
	"github.com/bbernstein/lacylights-artnet/internal/services/journal"
	"github.com/bbernstein/lacylights-artnet/internal/services/metrics"
	"github.com/bbernstein/lacylights-artnet/internal/services/mqtt"
	"github.com/bbernstein/lacylights-artnet/internal/services/network"
	"github.com/bbernstein/lacylights-artnet/pkg/artnet"
	"github.com/bbernstein/lacylights-artnet/pkg/node"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()
	logr, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	printBanner(cfg)

	db, err := database.Connect(database.Config{
		URL:         cfg.DatabaseURL,
		MaxIdleConn: 1,
		MaxOpenConn: 1,
		Debug:       cfg.IsDevelopment(),
		Log:         logr.Module("database"),
	})
	if err != nil {
		logr.WithError(err).Fatal("failed to connect to database")
	}
	defer func() { _ = database.Close() }()

	sel, err := network.FindArtNetIP(cfg.ArtNetIP, cfg.ArtNetBroadcast)
	if err != nil {
		logr.WithError(err).Fatal("failed to select a network interface")
	}
	logr.WithField("interface", sel.Name).
		WithField("ip", sel.IP).
		WithField("broadcast", sel.Broadcast).
		Info("selected Art-Net interface")

	n, err := buildNode(cfg, sel, logr)
	if err != nil {
		logr.WithError(err).Fatal("failed to configure node")
	}

	dmxService := dmx.NewService(n, dmx.Config{
		RefreshRateHz:    cfg.DMXRefreshRate,
		IdleRateHz:       cfg.DMXIdleRate,
		HighRateDuration: cfg.DMXHighRateDuration,
		TickInterval:     cfg.TickInterval,
	}, nil, logr)

	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		collector, err := metrics.NewCollector(prometheus.DefaultRegisterer)
		if err != nil {
			logr.WithError(err).Fatal("failed to register metrics")
		}
		dmxService.SetObserver(collector)
		metricsHandler = collector.Handler()
	}

	// Settings a controller programmed over the network survive restarts.
	nodeJournal := journal.New(db, dmxService.PubSub(), logr)
	if err := nodeJournal.Restore(context.Background(), dmxService); err != nil {
		logr.WithError(err).Warn("failed to restore saved node settings")
	}
	nodeJournal.Start()
	nodeJournal.Sweep(cfg.JournalSweepInterval, cfg.JournalRetention)

	if err := dmxService.Start(); err != nil {
		logr.WithError(err).Fatal("failed to start node")
	}

	fadeEngine := fade.NewEngine(dmxService, logr)
	fadeEngine.Start()

	var bridge *mqtt.Bridge
	if cfg.MQTTBroker != "" {
		bridge = mqtt.New(mqtt.Config{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Prefix:   cfg.MQTTTopicPrefix,
			Debug:    logr.GetLevel() == "debug",
		}, dmxService, logr)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := bridge.Start(ctx); err != nil {
			logr.WithError(err).Warn("MQTT bridge disabled")
			bridge = nil
		}
		cancel()
	}

	server := api.New(dmxService, api.Options{
		Version:    Version,
		CORSOrigin: cfg.CORSOrigin,
		Debug:      cfg.IsDevelopment(),
		Journal:    nodeJournal,
		Fade:       fadeEngine,
		Metrics:    metricsHandler,
	}, logr)

	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     server.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logr.Infof("Server listening on http://localhost:%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.WithError(err).Fatal("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logr.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logr.WithError(err).Error("server shutdown error")
	}
	// Cleanup services in reverse order
	if bridge != nil {
		bridge.Stop()
	}
	fadeEngine.Stop()
	if err := dmxService.Stop(ctx); err != nil {
		logr.WithError(err).Error("node shutdown error")
	}
	nodeJournal.Stop()

	logr.Info("Server stopped")
}

// buildNode creates the node from configuration without starting it.
func buildNode(cfg *config.Config, sel network.Selection, logr *logger.Log) (*node.Node, error) {
	style, err := node.ParseStyle(cfg.Style)
	if err != nil {
		return nil, err
	}
	n, err := node.New(style,
		node.WithLogger(logr.Entry),
		node.WithUDPPort(cfg.ArtNetPort),
	)
	if err != nil {
		return nil, err
	}
	n.SetVerbose(logr.GetLevel() == "debug" || logr.GetLevel() == "trace")

	if err := n.SetIP(sel.IP); err != nil {
		return nil, err
	}
	if sel.Broadcast != nil {
		if err := n.SetBroadcast(sel.Broadcast); err != nil {
			return nil, err
		}
	}
	n.SetHWAddr(sel.MAC)
	if err := n.SetShortName(cfg.ShortName); err != nil {
		return nil, err
	}
	if err := n.SetLongName(cfg.LongName); err != nil {
		return nil, err
	}
	if cfg.Subnet < 0 || cfg.Subnet > 15 {
		return nil, fmt.Errorf("%w: subnet %d", node.ErrArg, cfg.Subnet)
	}
	if err := n.SetSubnetAddr(uint8(cfg.Subnet)); err != nil {
		return nil, err
	}
	if err := n.SetBcastLimit(cfg.BcastLimit); err != nil {
		return nil, err
	}
	n.SetIPProgEnabled(cfg.IPProgEnabled)

	if cfg.PortsFile != "" {
		layout, err := config.LoadPorts(cfg.PortsFile)
		if err != nil {
			return nil, err
		}
		if err := applyPorts(n, layout); err != nil {
			return nil, err
		}
	}
	return n, nil
}

var portDataTypes = map[string]uint8{
	"":       artnet.PortDataDMX,
	"dmx":    artnet.PortDataDMX,
	"midi":   artnet.PortDataMIDI,
	"avab":   artnet.PortDataAVAB,
	"cmx":    artnet.PortDataCMX,
	"adb":    artnet.PortDataADB,
	"artnet": artnet.PortDataArtNet,
}

// applyPorts enables the ports of a layout. The advertised type of a
// physical port combines the enable bits of every entry on it.
func applyPorts(n *node.Node, layout *config.PortLayout) error {
	var settings, data [node.MaxPorts]uint8
	for _, p := range layout.Ports {
		dir, err := node.ParseDirection(p.Direction)
		if err != nil {
			return err
		}
		typ, ok := portDataTypes[p.Type]
		if !ok {
			return fmt.Errorf("%w: port type %q", node.ErrArg, p.Type)
		}
		if err := n.SetPortAddr(dir, p.Index, uint8(p.Universe)); err != nil {
			return err
		}
		if dir == node.PortInput {
			settings[p.Index] |= artnet.PortEnableInput
		} else {
			settings[p.Index] |= artnet.PortEnableOutput
			mode, err := node.ParseMergeMode(p.Merge)
			if err != nil {
				return err
			}
			if err := n.SetMergeMode(p.Index, mode); err != nil {
				return err
			}
		}
		data[p.Index] = typ
	}
	for i := 0; i < node.MaxPorts; i++ {
		if settings[i] == 0 {
			continue
		}
		if err := n.SetPortType(i, settings[i], data[i]); err != nil {
			return err
		}
	}
	return nil
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	fmt.Println("============================================")
	fmt.Println("  artnetd")
	fmt.Printf("  Version: %s\n", Version)
	fmt.Printf("  Build:   %s\n", BuildTime)
	fmt.Printf("  Commit:  %s\n", GitCommit)
	fmt.Println("============================================")
	fmt.Printf("  Environment: %s\n", cfg.Env)
	fmt.Printf("  HTTP port:   %s\n", cfg.Port)
	fmt.Printf("  Database:    %s\n", cfg.DatabaseURL)
	fmt.Printf("  Style:       %s\n", cfg.Style)
	fmt.Printf("  UDP port:    %d\n", cfg.ArtNetPort)
	fmt.Println("============================================")
}

// Command pax is the passenger-flow sensor daemon: it counts nearby
// Wi-Fi and Bluetooth devices from passive radio sightings, publishes
// one aggregate report per epoch over the LoRaWAN uplink and into the
// local journal, and serves a monitoring UI.
package main

import (
	"context"
	crand "crypto/rand"
	"errors"
	"flag"
	"log"
	"math/rand"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/pax.report/internal/config"
	"github.com/banshee-data/pax.report/internal/db"
	"github.com/banshee-data/pax.report/internal/monitor"
	"github.com/banshee-data/pax.report/internal/monitoring"
	"github.com/banshee-data/pax.report/internal/pax"
	"github.com/banshee-data/pax.report/internal/radio/ble"
	"github.com/banshee-data/pax.report/internal/radio/wifi"
	"github.com/banshee-data/pax.report/internal/uplink"
	"github.com/banshee-data/pax.report/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to JSON config file (shipped defaults apply when empty)")
	devMode    = flag.Bool("dev", false, "Run with synthetic sightings instead of radios")
	listen     = flag.String("listen", "", "HTTP listen address (overrides config)")
	dbFile     = flag.String("db", "", "Path to the SQLite journal (overrides config)")
	verbose    = flag.Bool("verbose", false, "Log per-sighting diagnostics")
)

// devTraffic feeds synthetic sightings so the whole pipeline can be
// exercised on a desk with no radio hardware. Every sighting carries a
// fresh random address, so each epoch counts roughly its sighting
// volume as unique devices.
func devTraffic(ctx context.Context, queue *pax.SightingQueue) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var s pax.RawSighting
			if _, err := crand.Read(s.Addr[:]); err != nil {
				continue
			}
			s.Addr[0] &^= 0x03 // unicast, globally administered
			s.RSSI = int8(-30 - rand.Intn(60))
			s.Kind = pax.SourceWifi
			if rand.Intn(3) == 0 {
				s.Kind = pax.SourceBLE
			}
			queue.Offer(s)
		}
	}
}

// Main
func main() {
	flag.Parse()
	monitoring.SetVerbose(*verbose)
	log.Printf("%s starting", version.String())

	cfg := config.DefaultSensorConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadSensorConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	listenAddr := cfg.GetListenAddr()
	if *listen != "" {
		listenAddr = *listen
	}
	dbPath := cfg.GetDBPath()
	if *dbFile != "" {
		dbPath = *dbFile
	}

	// Journal: open, migrate, and sweep old epochs on retention.
	var database *db.DB
	var journal *db.Journal
	var retention *db.RetentionWorker
	if dbPath != "" {
		var err error
		database, err = db.NewDB(dbPath)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
		if err := database.MigrateUp(); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		journal = db.NewJournal(database)
		retention = db.NewRetentionWorker(journal, cfg.GetDBRetention(), 0, nil)
		log.Printf("Journal open at %s (run %s)", database.Path(), journal.RunID())
	} else {
		log.Println("Journal disabled (empty db_path)")
	}

	// Counting core.
	queue := pax.NewSightingQueue(cfg.GetQueueCapacity())
	engine, err := pax.NewEngine(cfg.EngineConfig(), queue, nil)
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}

	// Monitor surface.
	board := monitor.NewBoard()
	webServer := monitor.NewWebServer(monitor.WebServerConfig{
		Address: listenAddr,
		Board:   board,
		Journal: journal,
		DB:      database,
	})

	// Uplink modem. Dev mode never opens a serial device.
	var uplinkQueue *uplink.Queue
	var uplinkWorker *uplink.Worker
	if device := cfg.GetUplinkDevice(); device != "" && !*devMode {
		modem, err := uplink.OpenModem(device, cfg.GetUplinkBaud())
		if err != nil {
			log.Fatalf("Failed to open uplink modem: %v", err)
		}
		defer modem.Close()
		uplinkQueue = uplink.NewQueue(cfg.GetUplinkQueue())
		uplinkWorker = &uplink.Worker{
			Modem: modem,
			Queue: uplinkQueue,
			Port:  cfg.GetUplinkPort(),
		}
		log.Printf("Uplink via %s", device)
	} else {
		log.Println("Uplink disabled (no uplink_device configured)")
	}

	// Wire the collaborators. Publish order: radio uplink first, then
	// the journal, then the live monitor feed.
	var publishers pax.Publishers
	if uplinkQueue != nil {
		publishers = append(publishers, uplinkQueue)
	}
	if journal != nil {
		publishers = append(publishers, journal)
	}
	publishers = append(publishers, webServer)
	engine.Publisher = publishers
	engine.Display = board
	if retention != nil {
		engine.Housekeepers = append(engine.Housekeepers, retention)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Engine routine. A failure here is a boot failure: the process
	// exits the way the device would reset.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("Engine failed: %v", err)
		}
		log.Print("engine routine terminated")
	}()

	// Radio routines.
	if *devMode {
		log.Println("Dev mode: radios replaced by synthetic traffic")
		wg.Add(1)
		go func() {
			defer wg.Done()
			devTraffic(ctx, queue)
			log.Print("dev traffic routine terminated")
		}()
	} else {
		iface := cfg.GetWifiInterface()
		if iface != "" {
			sniffer := &wifi.Sniffer{
				Interface: iface,
				Parser:    wifi.Parser{Promiscuous: cfg.GetWifiPromiscuous()},
				Queue:     queue,
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := sniffer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Fatalf("Wi-Fi capture failed: %v", err)
				}
				log.Print("wifi capture routine terminated")
			}()

			if cfg.GetWifiHop() {
				hopper := wifi.NewHopper(wifi.ExecChannelSetter{Interface: iface},
					cfg.GetWifiChannels(), cfg.GetWifiHopInterval(), nil)
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := hopper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						log.Printf("Channel hopper error: %v", err)
					}
					log.Print("channel hopper routine terminated")
				}()
			}
		} else {
			log.Println("Wi-Fi radio disabled (no wifi_interface configured)")
		}

		if cfg.GetBLEEnable() {
			scanner := &ble.Scanner{
				Queue:        queue,
				RestartDelay: cfg.GetBLERestartDelay(),
				MACFilter:    cfg.GetMACFilter(),
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := scanner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Fatalf("BLE scan failed: %v", err)
				}
				log.Print("ble scan routine terminated")
			}()
		} else {
			log.Println("BLE radio disabled")
		}

		if iface == "" && !cfg.GetBLEEnable() {
			log.Println("WARNING: no radio sources configured, nothing will be counted")
		}
	}

	// Uplink worker routine.
	if uplinkWorker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := uplinkWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Uplink worker error: %v", err)
			}
			log.Print("uplink routine terminated")
		}()
	}

	// Journal writer and retention routines.
	if journal != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := journal.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Journal writer error: %v", err)
			}
			log.Print("journal routine terminated")
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := retention.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Retention worker error: %v", err)
			}
			log.Print("retention routine terminated")
		}()
	}

	// HTTP monitor routine.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := webServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Web server error: %v", err)
		}
		log.Print("web server routine terminated")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	adactor "github.com/Anto79-ops/renogy-ble/internal/adapter/actor"
	"github.com/Anto79-ops/renogy-ble/internal/config"
	"github.com/Anto79-ops/renogy-ble/internal/core/actor"
	"github.com/Anto79-ops/renogy-ble/internal/server"
	"github.com/Anto79-ops/renogy-ble/internal/util/actorutil"
	"github.com/Anto79-ops/renogy-ble/pkg/renogymodbus"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	scanFlag := flag.Bool("scan", false, "scan for BT modules and exit")
	flag.Parse()

	if *scanFlag || os.Getenv("RENOGY_SCAN") == "1" {
		if err := runScan(); err != nil {
			slog.Error("scan failed", "error", err)
			os.Exit(1)
		}
		return
	}

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	defer logger.Sync()

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, adapterActorProvider(cfg, logger), mqttActorProvider(cfg, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		return
	}

	server := server.NewServer(*cfg, ctx, pid)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => RENOGY_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("RENOGY_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("renogy")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// adapterActorProvider builds one BLE hub connection per adapter key. The
// adapter key to MAC mapping comes from the device list.
func adapterActorProvider(cfg *config.Config, logger *zap.Logger) actor.AdapterActorProvider {
	adapterMACs := cfg.AdapterKeys()
	return func(adapterKey string) (*adactor.AdapterActor, error) {
		mac, ok := adapterMACs[adapterKey]
		if !ok {
			return nil, fmt.Errorf("unknown adapter key %s", adapterKey)
		}
		transport, err := renogymodbus.NewBLETransport(mac, logger)
		if err != nil {
			return nil, err
		}
		hub := renogymodbus.NewHubConn(transport, logger)
		return adactor.NewAdapterActor(adapterKey, hub, logger), nil
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "renogy")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("polling.interval_seconds", 60)
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}

// runScan lists advertising BT modules so users can find the MAC address to
// put in the device config.
func runScan() error {
	fmt.Println("scanning for BT modules, press Ctrl+C to stop early...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	results, err := renogymodbus.ScanModules(ctx)
	if err != nil {
		return err
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].RSSI > results[j].RSSI
	})
	if len(results) == 0 {
		fmt.Println("no modules found")
		return nil
	}
	for _, r := range results {
		fmt.Printf("%-20s %s  RSSI %d dBm\n", r.Name, r.Address, r.RSSI)
	}
	return nil
}

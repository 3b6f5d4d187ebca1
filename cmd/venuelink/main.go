package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/quantfabric/venuelink/internal/config"
	"github.com/quantfabric/venuelink/internal/logging"
	"github.com/quantfabric/venuelink/internal/orders"
	"github.com/quantfabric/venuelink/internal/session"
	"github.com/quantfabric/venuelink/internal/store/sqlite"
	"github.com/quantfabric/venuelink/internal/trading"
	"github.com/quantfabric/venuelink/internal/transport/ws"
)

func main() {
	configPath := flag.String("config", "yamls/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Console)
	log.Info().Str("config", *configPath).Msg("Config loaded")

	storeLog := logging.Component("store")
	db, err := sqlite.Open(sqlite.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	}, storeLog)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open record store")
	}
	defer db.Close()

	tradingLog := logging.Component("trading")
	tc := trading.NewClient(trading.Options{
		BaseURL:   cfg.Venue.RESTURL,
		APIKey:    cfg.Venue.APIKey,
		APISecret: cfg.Venue.APISecret,
		Category:  cfg.Venue.Category,
		Logger:    &tradingLog,
	})

	wsLog := logging.Component("ws")
	dialer := ws.NewDialer(ws.Options{
		URL:       cfg.Venue.WSURL,
		APIKey:    cfg.Venue.APIKey,
		APISecret: cfg.Venue.APISecret,
		Logger:    &wsLog,
	})

	sessLog := logging.Component("session")
	sess := session.New(dialer, session.Options{
		HeartbeatInterval: cfg.Session.HeartbeatInterval,
		StaleMultiplier:   cfg.Session.StaleMultiplier,
		DialTimeout:       cfg.Session.DialTimeout,
		BackoffBase:       cfg.Session.BackoffBase,
		BackoffMax:        cfg.Session.BackoffMax,
		MaxRetries:        cfg.Session.MaxRetries,
		Logger:            &sessLog,
	})
	defer sess.Close()

	manager := orders.NewManager(tc, db, sess, logging.Component("orders"))
	if err := manager.TrackOrders(); err != nil {
		log.Fatal().Err(err).Msg("Failed to register order tracking")
	}

	tickerTopic := "tickers." + cfg.Venue.Symbol
	err = sess.Subscribe(tickerTopic, func(msg session.Message) error {
		var tick struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		}
		if err := json.Unmarshal(msg.Data, &tick); err != nil {
			return err
		}
		log.Info().Str("symbol", tick.Symbol).Str("last_price", tick.LastPrice).
			Time("server_time", msg.ServerTime).Msg("Ticker")
		return nil
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe to ticker topic")
	}

	if err := sess.Connect(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect")
	}

	// Catch order transitions missed while the process was down.
	if _, err := manager.SyncOrders(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Order sync failed")
	}

	go func() {
		for err := range sess.Errors() {
			var rejected *session.SubscriptionRejected
			if errors.As(err, &rejected) {
				log.Warn().Str("topic", rejected.Topic).Str("reason", rejected.Reason).
					Msg("Venue rejected subscription")
				continue
			}
			log.Error().Err(err).Msg("Session failed")
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh
	log.Info().Msg("Shutting down...")
}

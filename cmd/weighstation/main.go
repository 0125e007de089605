package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rewired-gh/weighstation/internal/acquisition"
	"github.com/rewired-gh/weighstation/internal/config"
	"github.com/rewired-gh/weighstation/internal/logger"
	"github.com/rewired-gh/weighstation/internal/scale"
	"github.com/rewired-gh/weighstation/internal/session"
	"github.com/rewired-gh/weighstation/internal/stability"
	"github.com/rewired-gh/weighstation/internal/storage"
	"github.com/rewired-gh/weighstation/internal/telegram"
	"github.com/rewired-gh/weighstation/internal/tolerance"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.MaxActiveBatches, cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	link := scale.NewLink(scale.Config{
		Address:        cfg.Modbus.Address,
		UnitID:         cfg.Modbus.UnitID,
		Scale1Register: cfg.Modbus.Scale1Register,
		Scale2Register: cfg.Modbus.Scale2Register,
		Scale1Tare:     cfg.Modbus.Scale1TareRegister,
		Scale2Tare:     cfg.Modbus.Scale2TareRegister,
		Timeout:        cfg.Modbus.Timeout,
	})

	tracker := stability.New(
		stability.WithCapacity(cfg.Acquisition.StabilityWindow),
		stability.WithMinSamples(cfg.Acquisition.StabilityMinSample),
		stability.WithTolerance(cfg.StabilityTolerance()),
	)

	base, perIngredient := cfg.TransferTolerance()
	sessionOpts := []session.Option{
		session.WithTransferTolerance(tolerance.Transfer{Base: base, PerIngredient: perIngredient}),
		session.WithBowlTolerance(cfg.BowlTolerance()),
		session.WithOutOfBandTransfers(cfg.Weighing.AllowOutOfBand),
		session.WithOperator(cfg.Console.Operator),
	}
	var loopOpts []acquisition.Option

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		sessionOpts = append(sessionOpts, session.WithNotifier(telegramClient))
		loopOpts = append(loopOpts, acquisition.WithObserver(telegramClient))
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	mgr := session.NewManager(store, store, store, sessionOpts...)
	loop := acquisition.New(link, tracker, acquisition.Config{
		PollInterval:   cfg.Acquisition.PollInterval,
		ErrorBackoff:   cfg.Acquisition.ErrorBackoff,
		ReconnectAfter: cfg.Acquisition.ReconnectAfter,
	}, loopOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if telegramClient != nil {
		telegramClient.SetStatusFunc(func() string { return sessionStatus(mgr) })
		telegramClient.ListenForCommands(ctx)
	}

	logger.Info("Starting acquisition (plc: %s, interval: %v, stability window: %d)",
		cfg.Modbus.Address, cfg.Acquisition.PollInterval, cfg.Acquisition.StabilityWindow)

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(ctx)
	}()

	if cfg.Console.Enabled {
		con := newConsole(mgr, loop, link, store, cfg.Console.Operator, os.Stdout)
		go func() {
			if err := con.Run(ctx, os.Stdin); err != nil {
				logger.Error("Console stopped: %v", err)
			}
			cancel()
		}()
	}

	<-ctx.Done()
	<-loopDone
	if s, ok := mgr.Active(); ok {
		if err := mgr.Pause(context.Background(), s.BatchID); err != nil {
			logger.Warn("Failed to pause batch %s: %v", s.BatchID, err)
		}
	}
	if err := link.Close(); err != nil {
		logger.Warn("Failed to close PLC link: %v", err)
	}
	logger.Info("Service stopped")
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/annel0/fg-server/internal/api"
	"github.com/annel0/fg-server/internal/auth"
	"github.com/annel0/fg-server/internal/config"
	"github.com/annel0/fg-server/internal/eventbus"
	"github.com/annel0/fg-server/internal/instance"
	"github.com/annel0/fg-server/internal/logging"
	"github.com/annel0/fg-server/internal/metrics"
	"github.com/annel0/fg-server/internal/network"
	"github.com/annel0/fg-server/internal/observability"
	"github.com/annel0/fg-server/internal/server"
	"github.com/annel0/fg-server/internal/session"
	"github.com/annel0/fg-server/internal/storage"
	"github.com/annel0/fg-server/internal/world"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию GAME_CONFIG)")
	hashKey := flag.String("hash-admin-key", "", "вывести bcrypt-хеш ключа администратора и выйти")
	flag.Parse()

	if *hashKey != "" {
		hash, err := auth.HashAdminKey(*hashKey)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка конфигурации: %v", err)
	}

	if err := logging.InitDefaultLogger("server", logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Dir:    cfg.Logging.Dir,
	}); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	if err := run(cfg); err != nil {
		logging.Error("❌ %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
	logging.Info("👋 Сервер успешно остановлен")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === ХРАНИЛИЩЕ ===
	repo, err := openRepo(cfg.Storage)
	if err != nil {
		return err
	}
	locker, err := openLocker(cfg.Storage)
	if err != nil {
		repo.Close()
		return err
	}
	store := storage.NewAsyncStore(repo, locker, storage.AsyncConfig{Workers: cfg.Storage.Workers})
	logging.Info("💾 Хранилище: %s, блокировки: %s, владелец %s", cfg.Storage.Backend, cfg.Storage.Lock, store.Owner())

	shutdownTelemetry, err := observability.InitTelemetry(ctx, observability.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		InstanceID:  store.Owner(),
	})
	if err != nil {
		logging.Warn("OpenTelemetry недоступен: %v", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}
	defer shutdownTelemetry(context.Background())

	// === МЕТРИКИ ===
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	gameMetrics := metrics.NewGameMetrics(reg)
	store.SetObserver(gameMetrics.ObservePersistence)
	sampler, err := metrics.NewProcessSampler(reg)
	if err != nil {
		logging.Warn("метрики процесса недоступны: %v", err)
	} else {
		sampler.Start(5 * time.Second)
		defer sampler.Stop()
	}

	// === ШИНА СОБЫТИЙ ===
	bus, err := openBus(cfg.EventBus)
	if err != nil {
		return err
	}
	defer bus.Close()
	backend := "memory"
	if cfg.EventBus.URL != "" {
		backend = "jetstream"
	}
	if err := eventbus.RegisterBusMetrics(bus, backend, reg); err != nil {
		logging.Warn("метрики шины событий: %v", err)
	}
	if _, err := eventbus.StartLoggingListener(bus); err != nil {
		logging.Warn("журнал событий недоступен: %v", err)
	}

	// === ИГРА ===
	ch := eventbus.NewChannel()
	manager := session.NewManager(ch, store, world.NewFileMapLoader(cfg.Game.MapsDir), session.Config{
		DataTimeout:   cfg.Game.DataTimeout,
		SaveInterval:  cfg.Game.SaveInterval,
		InviteTimeout: cfg.Game.InviteTimeout,
		DefaultMap:    cfg.Game.DefaultMap,
		Instance: instance.Config{
			CellSize:    cfg.Game.CellSize,
			CheckRadius: cfg.Game.CheckRadius,
		},
	})
	manager.SetAuditor(eventbus.NewAuditor(bus, store.Owner()))

	tokens, err := auth.NewTokenIssuer(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("токены входа: %w", err)
	}
	if cfg.Auth.Secret == "" {
		logging.Warn("auth.secret не задан, токены действительны только до перезапуска")
	}

	hub := network.NewHub(tokens)
	srv := server.New(ch, manager, hub, store, server.Config{
		TickInterval:     cfg.TickInterval(),
		ShutdownDeadline: cfg.Game.ShutdownDeadline,
	})
	srv.SetMetrics(gameMetrics, sampler)

	// === СЛУШАТЕЛИ ===
	wsServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.WSPort),
		Handler:           hub,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("❌ Ошибка websocket сервера: %v", err)
			stop()
		}
	}()

	apiServer := api.NewServer(api.Config{
		Port:         cfg.Server.APIPort,
		AdminKeyHash: cfg.Auth.AdminKeyHash,
		Status:       srv,
		Tokens:       tokens,
		Kicker:       srv,
		Registry:     reg,
	})
	apiServer.Start()

	logging.Info("✅ Сервер запущен: websocket :%d, admin API :%d, %d тиков/с",
		cfg.Server.WSPort, cfg.Server.APIPort, cfg.Server.TickRate)

	// Run возвращается после отмены ctx и сохранения игроков
	runErr := srv.Run(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hub.Close()
	if err := wsServer.Shutdown(stopCtx); err != nil {
		logging.Warn("остановка websocket сервера: %v", err)
	}
	if err := apiServer.Stop(stopCtx); err != nil {
		logging.Warn("остановка admin API: %v", err)
	}
	if err := store.Close(); err != nil {
		logging.Warn("закрытие хранилища: %v", err)
	}
	if closer, ok := locker.(interface{ Close() error }); ok {
		closer.Close()
	}
	return runErr
}

func openRepo(cfg config.StorageConfig) (storage.PlayerRepo, error) {
	switch cfg.Backend {
	case "memory":
		logging.Warn("⚠️ записи игроков хранятся в памяти и пропадут при перезапуске")
		return storage.NewMemoryPlayerRepo(), nil
	case "badger":
		return storage.NewBadgerPlayerRepo(cfg.DataDir)
	case "maria":
		return storage.NewMariaPlayerRepo(cfg.MariaDSN)
	case "mongo":
		return storage.NewMongoPlayerRepo(storage.MongoConfig{URI: cfg.MongoURI, Database: cfg.MongoDB})
	default:
		return nil, fmt.Errorf("неизвестный backend хранилища: %q", cfg.Backend)
	}
}

func openLocker(cfg config.StorageConfig) (storage.Locker, error) {
	if cfg.Lock != "redis" {
		return storage.NewMemoryLocker(), nil
	}
	rc := storage.DefaultRedisConfig()
	rc.Addr = cfg.RedisAddr
	return storage.NewRedisLocker(rc)
}

func openBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	if cfg.URL == "" {
		return eventbus.NewMemoryBus(1024), nil
	}
	bus, err := eventbus.NewJetStreamBus(eventbus.JetStreamConfig{
		URL:       cfg.URL,
		Stream:    cfg.Stream,
		Retention: time.Duration(cfg.Retention) * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("NATS JetStream: %w", err)
	}
	return bus, nil
}

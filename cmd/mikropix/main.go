package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/auth"
	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/backend"
	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/config"
	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/db"
	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/metrics"
	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/reconcile"
	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/routers"
	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/service"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Не удалось инициализировать zap logger: %v", err)
	}
	defer func() {
		logger.Sync()
		if r := recover(); r != nil {
			logger.Fatal("Неожиданное завершение приложения", zap.Any("panic", r))
		}
	}()

	cfg, err := config.New()
	if err != nil {
		logger.Fatal("Ошибка конфигурации", zap.Error(err))
	}

	dbConn, err := db.Init(cfg.DatabaseURI)
	if err != nil {
		logger.Fatal("Ошибка подключения к БД", zap.Error(err))
	}
	defer func() {
		logger.Info("Закрытие соединения с БД")
		dbConn.Close()
	}()

	if err := db.Migrate(dbConn); err != nil {
		logger.Fatal("Ошибка миграции БД", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	saleRepo := db.NewSaleRepoPG(dbConn)
	ledgerRepo := db.NewLedgerRepoPG(dbConn, logger)

	switch cfg.Command {
	case "":
	case "backfill":
		backfill := service.NewBackfillService(saleRepo, ledgerRepo, cfg.HeuristicTolerance, logger)
		if _, err := backfill.Run(ctx, cfg.DryRun); err != nil {
			logger.Error("Ошибка backfill", zap.Error(err))
		}
		return
	default:
		logger.Error("Неизвестная команда", zap.String("command", cfg.Command))
		return
	}

	accountRepo := db.NewAccountRepoPG(dbConn)
	deviceRepo := db.NewDeviceRepoPG(dbConn)
	subscriptionRepo := db.NewSubscriptionRepoPG(dbConn)
	withdrawalRepo := db.NewWithdrawalRepoPG(dbConn)

	m := metrics.New()
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL)
	backendClient := backend.NewClient(cfg.BackendAPIAddress, cfg.BackendAPIToken, cfg.BackendTimeout)

	engine := reconcile.NewEngine(saleRepo, deviceRepo, accountRepo, ledgerRepo, reconcile.Config{
		Location:  cfg.Location,
		TopN:      cfg.TopN,
		Tolerance: cfg.HeuristicTolerance,
	}, logger, m)
	accountService := service.NewAccountService(accountRepo, deviceRepo, subscriptionRepo, issuer, cfg.TrialPlanID, logger)
	settlementService := service.NewSettlementService(saleRepo, deviceRepo, ledgerRepo, withdrawalRepo, accountRepo, backendClient, m,
		service.SettlementOptions{MinWithdrawal: cfg.MinWithdrawal, AutoWithdrawMin: cfg.AutoWithdrawMin}, logger)
	paymentService := service.NewPaymentService(subscriptionRepo, backendClient, logger)

	h := routers.NewHandler(accountService, settlementService, paymentService, engine, backendClient, issuer.TTL(), logger)
	srv := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: routers.SetupRouters(h, issuer, m, logger),
	}

	settlementService.StartSettlementWorker(ctx, cfg.SettlementInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Сервер запущен", zap.String("address", cfg.RunAddress))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		logger.Info("Остановка сервера")
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("Ошибка работы сервера", zap.Error(err))
	}
}

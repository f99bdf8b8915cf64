package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/iurnickita/hrbonus/internal/auth"
	"github.com/iurnickita/hrbonus/internal/config"
	"github.com/iurnickita/hrbonus/internal/handler"
	"github.com/iurnickita/hrbonus/internal/logger"
	"github.com/iurnickita/hrbonus/internal/metrics"
	"github.com/iurnickita/hrbonus/internal/service"
	"github.com/iurnickita/hrbonus/internal/store"
	"github.com/iurnickita/hrbonus/internal/store/memstore"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.GetConfig(os.Args[1:])
	if err != nil {
		return err
	}

	zaplog, err := logger.NewZapLog(cfg.Logger)
	if err != nil {
		return err
	}
	defer zaplog.Sync()

	// без базы данные живут до перезапуска
	var st store.Store
	if cfg.Store.DBDsn != "" {
		st, err = store.NewStore(cfg.Store)
		if err != nil {
			return err
		}
	} else {
		zaplog.Warn("DATABASE_URI is empty, using in-memory store")
		st = memstore.New()
	}
	defer st.Close()

	auth, err := auth.NewAuth(cfg.Auth, st, zaplog)
	if err != nil {
		return err
	}
	if err = auth.EnsureAdmin(ctx); err != nil {
		return err
	}

	metrics := metrics.New()
	service, err := service.NewService(cfg.Service, st, metrics, zaplog)
	if err != nil {
		return err
	}

	zaplog.Info("starting hrbonus", zap.Bool("database", cfg.Store.DBDsn != ""))
	return handler.Serve(ctx, cfg.Handler, auth, service, metrics, zaplog)
}

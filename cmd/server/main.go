package main // Entry point package

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-seat-locking/internal/config"
	"github.com/iliyamo/cinema-seat-locking/internal/database"
	"github.com/iliyamo/cinema-seat-locking/internal/handler"
	"github.com/iliyamo/cinema-seat-locking/internal/middleware"
	"github.com/iliyamo/cinema-seat-locking/internal/model"
	"github.com/iliyamo/cinema-seat-locking/internal/payment"
	"github.com/iliyamo/cinema-seat-locking/internal/queue"
	"github.com/iliyamo/cinema-seat-locking/internal/realtime"
	"github.com/iliyamo/cinema-seat-locking/internal/repository"
	"github.com/iliyamo/cinema-seat-locking/internal/router"
	"github.com/iliyamo/cinema-seat-locking/internal/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := config.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

type seatStore interface {
	service.SeatStore
	CreateBulk(ctx context.Context, seats []model.Seat) error
}

type stores struct {
	seats    seatStore
	bookings handler.BookingReader
	db       *sql.DB // nil for the memory driver
}

func openStores(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*stores, error) {
	if cfg.StoreDriver == config.StoreMemory {
		log.Warn("using in-memory seat store; state is lost on restart and not shared between processes")
		ms := repository.NewMemoryStore(nil)
		return &stores{seats: ms, bookings: ms}, nil
	}
	db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	ledger := repository.NewBookingRepo(db)
	log.WithFields(logrus.Fields{"host": cfg.DBHost, "database": cfg.DBName}).Info("database connected")
	return &stores{seats: repository.NewShowSeatRepo(db, ledger), bookings: ledger, db: db}, nil
}

func seed(ctx context.Context, cfg config.Config, st seatStore, log logrus.FieldLogger) error {
	if cfg.SeedShowID <= 0 {
		return nil
	}
	showID := uint64(cfg.SeedShowID)
	existing, err := st.SeatMap(ctx, showID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	seats := repository.LayoutSeats(showID, cfg.SeedRows, cfg.SeedCols, uint32(cfg.SeedPriceCents))
	if err := st.CreateBulk(ctx, seats); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"show_id": showID, "seats": len(seats)}).Info("seeded seat map")
	return nil
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer st.db.Close()
	}
	if err := seed(ctx, cfg, st.seats, log); err != nil {
		return fmt.Errorf("seed seats: %w", err)
	}

	rlCfg := config.LoadRateLimitConfig()
	var rdb *redis.Client
	if cfg.NotifierBackend == config.NotifierRedis || rlCfg.Enabled {
		rdb, err = config.NewRedisClient(ctx)
		if err != nil {
			if cfg.NotifierBackend == config.NotifierRedis {
				return err
			}
			log.WithError(err).Warn("redis unavailable; rate limiting disabled")
		} else {
			defer rdb.Close()
		}
	}

	hub := realtime.NewHub(cfg.SubscriberBuffer, log)
	publishers := []service.EventPublisher{hub}
	if cfg.NotifierBackend == config.NotifierRedis {
		relay := realtime.NewRedisRelay(rdb, hub, log)
		publishers[0] = relay
		go func() {
			if err := relay.Run(ctx); err != nil {
				log.WithError(err).Error("redis seat relay stopped")
			}
		}()
	}
	if cfg.KafkaBrokers != "" {
		audit := queue.NewSeatAudit(cfg.KafkaBrokers, cfg.KafkaSeatTopic, log)
		defer audit.Close()
		publishers = append(publishers, audit)
	}

	tracker := service.NewSessionTracker(log)
	locks := service.NewLockManager(st.seats, tracker, service.FanOut(publishers...), log, cfg.LockTTL)
	defer locks.Close()

	var notifier service.BookingNotifier
	if cfg.RabbitMQURL != "" {
		notifier = queue.NewBookingPublisher(cfg.RabbitMQURL)
		if cfg.BookingConsumerEnabled {
			go queue.NewBookingConsumer(cfg.RabbitMQURL, cfg.BookingLogPath, log).Run(ctx)
		}
	}
	finalizer := service.NewFinalizer(st.seats, locks, payment.NewHMACVerifier(cfg.PaymentWebhookSecret), notifier, log)
	go service.NewSweeper(st.seats, locks, log, cfg.SweepInterval, cfg.SweepBatch).Start(ctx)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(log))

	var pinger handler.Pinger
	if st.db != nil {
		pinger = st.db
	}
	router.RegisterRoutes(e, handler.Health(pinger))
	router.RegisterSeats(e,
		handler.NewSeatHandler(st.seats, locks, finalizer, st.bookings),
		handler.NewWSHandler(hub, locks, st.seats, log),
		cfg.JWTSecret,
		middleware.NewTokenBucket(rlCfg, rdb, log),
	)

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env, "store": cfg.StoreDriver}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

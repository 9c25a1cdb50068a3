package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/go-sql-driver/mysql"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zcoinlabs/zmarket/internal/adapter/handler"
	"github.com/zcoinlabs/zmarket/internal/adapter/storage"
	"github.com/zcoinlabs/zmarket/internal/core/domain"
	"github.com/zcoinlabs/zmarket/internal/core/service"
	"github.com/zcoinlabs/zmarket/internal/core/token"
	"github.com/zcoinlabs/zmarket/internal/port"
)

const (
	defaultHTTPAddr   = ":8080"
	defaultMySQLDSN   = "root:root@tcp(localhost:3306)/zmarket?parseTime=true"
	defaultRedisAddr  = "localhost:6379"
	defaultMarketAddr = "0x00000000000000000000000000000000000a4c7e"
	defaultWorkers    = 10
	defaultQueueSize  = 10000
)

func main() {
	_ = godotenv.Load()

	logger := newLogger()
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sql.Open("mysql", envOr("MYSQL_DSN", defaultMySQLDSN))
	if err != nil {
		logger.Fatal("failed to connect mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("failed to ping mysql", zap.Error(err))
	}
	logger.Info("connected to mysql")

	rdb := redis.NewClient(&redis.Options{
		Addr:     envOr("REDIS_ADDR", defaultRedisAddr),
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	logger.Info("connected to redis")

	archive := storage.NewMySQLArchive(db)
	cache := storage.NewRedisCache(rdb)

	marketAddr := common.HexToAddress(envOr("ZMARKET_ADDR", defaultMarketAddr))
	coin := token.NewCoin("Zcoin", "ZCN", marketAddr)
	unique := token.NewUniqueRegistry("SUPER ERC 721 NFT", "ZERC721", envOr("ZMARKET_UNIQUE_URI", "https://assets.zmarket.dev/u/"), marketAddr)
	quantity := token.NewQuantityRegistry("SUPER ERC 1155 NFT", "ZERC1155", envOr("ZMARKET_QUANTITY_URI", "https://assets.zmarket.dev/q/"), marketAddr)

	market := service.NewMarket(marketAddr, coin, unique, quantity, envIntOr("ZMARKET_QUEUE_SIZE", defaultQueueSize))
	if hours := envIntOr("ZMARKET_AUCTION_HOURS", 0); hours > 0 {
		market.SetAuctionDuration(time.Duration(hours) * time.Hour)
	}

	// The engine address is both registry minter and payment-ledger owner,
	// so CreateItem and demo funding work out of the box.
	if err := unique.SetMinter(marketAddr, marketAddr); err != nil {
		logger.Fatal("failed to set unique minter", zap.Error(err))
	}
	if err := quantity.SetMinter(marketAddr, marketAddr); err != nil {
		logger.Fatal("failed to set quantity minter", zap.Error(err))
	}
	if treasury := os.Getenv("ZMARKET_TREASURY"); common.IsHexAddress(treasury) {
		supply := service.Coins(int64(envIntOr("ZMARKET_INITIAL_SUPPLY", 0)))
		if supply.Sign() > 0 {
			if err := coin.Mint(marketAddr, common.HexToAddress(treasury), supply); err != nil {
				logger.Fatal("failed to fund treasury", zap.Error(err))
			}
			logger.Info("funded treasury", zap.String("treasury", treasury))
		}
	}

	var wg sync.WaitGroup
	workers := envIntOr("ZMARKET_WORKERS", defaultWorkers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			workerLoop(id, logger, market.Events(), archive, cache)
		}(i)
	}
	logger.Info("started workers", zap.Int("count", workers))

	router := mux.NewRouter()
	httpHandler := handler.NewHTTPHandler(market, cache, logger)
	httpHandler.Register(router)

	httpServer := &http.Server{
		Addr:    envOr("ZMARKET_HTTP_ADDR", defaultHTTPAddr),
		Handler: router,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info("HTTP server stopped")

	market.Close()
	wg.Wait()
	logger.Info("workers stopped")

	rdb.Close()
	db.Close()
	logger.Info("connections closed")
}

// workerLoop drains transition signals: every snapshot refreshes the cache,
// terminal ones also land in the archive.
func workerLoop(id int, logger *zap.Logger, events <-chan domain.Event, archive port.TradeArchive, cache port.SnapshotCache) {
	for ev := range events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		if ev.Item != nil {
			if err := cache.PutItem(ctx, *ev.Item); err != nil {
				logger.Warn("cache item failed", zap.Int("worker", id), zap.Uint64("item", ev.Item.ID), zap.Error(err))
			}
			if ev.Terminal() {
				if err := archive.ArchiveItem(ctx, *ev.Item); err != nil {
					logger.Error("archive item failed", zap.Int("worker", id), zap.Uint64("item", ev.Item.ID), zap.Error(err))
				}
			}
		}
		if ev.Lot != nil {
			if err := cache.PutLot(ctx, *ev.Lot); err != nil {
				logger.Warn("cache lot failed", zap.Int("worker", id), zap.Uint64("lot", ev.Lot.ID), zap.Error(err))
			}
			if ev.Terminal() {
				if err := archive.ArchiveLot(ctx, *ev.Lot); err != nil {
					logger.Error("archive lot failed", zap.Int("worker", id), zap.Uint64("lot", ev.Lot.ID), zap.Error(err))
				}
			}
		}

		cancel()
	}
}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

package main

import (
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/frak-labs/framesession/adapters/chain"
	"github.com/frak-labs/framesession/adapters/events"
	"github.com/frak-labs/framesession/adapters/store"
	"github.com/frak-labs/framesession/adapters/tokenizer"
	"github.com/frak-labs/framesession/config"
	"github.com/frak-labs/framesession/service"
	"github.com/frak-labs/framesession/transport/http"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	privateKey, err := cfg.SigningKey()
	if err != nil {
		fatal(logger, "failed to load signing key", err)
	}
	if cfg.JWTKey == "" {
		logger.Warn("no signing key configured, tokens will not survive a restart")
	}

	// Parse Redis URL and create client
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		fatal(logger, "failed to parse redis url", err)
	}
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	// Initialize Watermill Redis publisher
	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient,
		},
		watermill.NewStdLogger(false, false),
	)
	if err != nil {
		fatal(logger, "failed to create redis publisher", err)
	}
	defer publisher.Close()

	authService := service.NewAuthService(
		tokenizer.NewJWTTokenizer(privateKey),
		store.NewRedisStore(redisClient, "framesession:"),
		events.NewWatermillPublisher(publisher),
		logger,
	).WithTTLs(cfg.ChallengeTTL, cfg.SessionTTL, cfg.SdkSessionTTL)

	// Session status reads need an RPC endpoint
	var sessions *service.InteractionSessions
	if cfg.RPCURL != "" {
		rpc, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			fatal(logger, "failed to dial rpc", err)
		}
		defer rpc.Close()

		sessions = service.NewInteractionSessions(
			chain.NewDelegationReader(rpc),
			nil,
			cfg.Executor,
			cfg.Validator,
			cfg.SessionStatusTTL,
			logger,
		)
	}

	router := http.SetupRouter(authService, sessions, logger)

	logger.Info("starting server", "addr", cfg.ListenAddr, "session_status", sessions != nil)
	if err := router.Run(cfg.ListenAddr); err != nil {
		fatal(logger, "failed to start server", err)
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}

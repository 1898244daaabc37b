package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/chacha20poly1305"
)

// Config holds every tunable of the wallet session layer and its backend.
type Config struct {
	ListenAddr string     `env:"FRAMESESSION_LISTEN_ADDR" envDefault:":9000"`
	RedisURL   string     `env:"FRAMESESSION_REDIS_URL"   envDefault:"redis://localhost:6379/0"`
	RPCURL     string     `env:"FRAMESESSION_RPC_URL"`
	LogLevel   slog.Level `env:"FRAMESESSION_LOG_LEVEL"   envDefault:"INFO"`

	// PEM encoded P-256 key. A throwaway key is generated when empty.
	JWTKey string `env:"FRAMESESSION_JWT_KEY_FILE,file"`

	// Expected delegation addresses of the interaction session
	Executor  common.Address `env:"FRAMESESSION_EXECUTOR"`
	Validator common.Address `env:"FRAMESESSION_VALIDATOR"`

	// Optional 32 byte key sealing backups handed to the parent page
	BackupKey hexutil.Bytes `env:"FRAMESESSION_BACKUP_KEY"`

	HandshakeTTL         time.Duration `env:"FRAMESESSION_HANDSHAKE_TTL"          envDefault:"10s"`
	MaxPendingHandshakes int           `env:"FRAMESESSION_MAX_PENDING_HANDSHAKES" envDefault:"10"`
	PendingQueueCap      int           `env:"FRAMESESSION_PENDING_QUEUE_CAP"      envDefault:"50"`
	ValidateTimeout      time.Duration `env:"FRAMESESSION_VALIDATE_TIMEOUT"       envDefault:"5s"`
	SessionStatusTTL     time.Duration `env:"FRAMESESSION_SESSION_STATUS_TTL"     envDefault:"30s"`
	BackupTTL            time.Duration `env:"FRAMESESSION_BACKUP_TTL"             envDefault:"168h"`

	ChallengeTTL  time.Duration `env:"FRAMESESSION_CHALLENGE_TTL"   envDefault:"5m"`
	SessionTTL    time.Duration `env:"FRAMESESSION_SESSION_TTL"     envDefault:"168h"`
	SdkSessionTTL time.Duration `env:"FRAMESESSION_SDK_SESSION_TTL" envDefault:"24h"`
}

// Load parses the configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env cannot express.
func (c Config) Validate() error {
	if len(c.BackupKey) != 0 && len(c.BackupKey) != chacha20poly1305.KeySize {
		return fmt.Errorf("backup key must be %d bytes, got %d", chacha20poly1305.KeySize, len(c.BackupKey))
	}
	if c.MaxPendingHandshakes <= 0 {
		return fmt.Errorf("max pending handshakes must be positive")
	}
	if c.PendingQueueCap <= 0 {
		return fmt.Errorf("pending queue cap must be positive")
	}
	return nil
}

// SigningKey returns the JWT signing key, generating one when none is configured.
func (c Config) SigningKey() (*ecdsa.PrivateKey, error) {
	if c.JWTKey == "" {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		return key, nil
	}

	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(c.JWTKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	return key, nil
}

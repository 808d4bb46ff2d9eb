package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/sealbox/sealbox/internal/archive"
	"github.com/sealbox/sealbox/internal/config"
	"github.com/sealbox/sealbox/internal/crypt"
	"github.com/sealbox/sealbox/internal/db"
	"github.com/sealbox/sealbox/internal/repository"
	"github.com/sealbox/sealbox/internal/service"
	"github.com/sealbox/sealbox/internal/sharetoken"
	"github.com/sealbox/sealbox/internal/storage"
)

type App struct {
	Cfg              *config.Config
	DB               *sqlx.DB
	Storage          storage.Storage
	Cipher           *crypt.Cipher
	EmailService     *service.EmailService
	FileService      *service.FileService
	ShareService     *service.ShareService
	ReconcileService *service.ReconcileService
}

func New(cfg *config.Config) (*App, error) {
	// Initialize database
	database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Run database migrations
	err = db.RunMigrations(context.Background(), database.DB, cfg.DBDriver)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Repositories
	fileRepository := repository.NewFileRepository(database)

	// Storage
	fileStorage, err := storage.New(cfg)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Encryption and archiving
	cipher, err := LoadCipher(cfg)
	if err != nil {
		database.Close()
		return nil, err
	}

	compression, err := archive.ParseCompression(cfg.ArchiveCompression)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to configure archive codec: %w", err)
	}
	codec := archive.NewCodec(compression)

	tokens, err := sharetoken.New([]byte(cfg.ShareSecret))
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize share tokens: %w", err)
	}

	// Services
	emailService := service.NewEmailService(
		cfg.ResendAPIKey,
		cfg.EmailFrom,
		cfg.AppName,
		cfg.IsDevelopment(),
	)
	fileService := service.NewFileService(fileRepository, fileStorage, cipher, codec, cfg.MaxUploadSize)
	shareService := service.NewShareService(fileService, tokens, emailService, cfg.AppURL)
	reconcileService := service.NewReconcileService(fileRepository, fileStorage, cfg.ReconcileInterval)

	slog.Info("pipeline ready",
		"key_id", cipher.PrimaryKeyID().String(),
		"previous_keys", len(cfg.EncryptionKeysPrevious),
		"compression", string(codec.Compression()),
		"share_link_max_age", tokens.MaxAge().String(),
	)

	return &App{
		Cfg:              cfg,
		DB:               database,
		Storage:          fileStorage,
		Cipher:           cipher,
		EmailService:     emailService,
		FileService:      fileService,
		ShareService:     shareService,
		ReconcileService: reconcileService,
	}, nil
}

// LoadCipher builds the blob cipher. ENCRYPTION_KEY wins over the key file,
// which is generated on first use. Previous keys are kept for decryption.
func LoadCipher(cfg *config.Config) (*crypt.Cipher, error) {
	var (
		primary []byte
		err     error
	)

	if cfg.EncryptionKey != "" {
		primary, err = crypt.DecodeKey(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("invalid ENCRYPTION_KEY: %w", err)
		}
	} else {
		var created bool
		primary, created, err = crypt.LoadOrCreateKey(cfg.EncryptionKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load encryption key: %w", err)
		}
		if created {
			slog.Warn("generated new encryption key, back it up", "path", cfg.EncryptionKeyFile)
		}
	}

	previous := make([][]byte, 0, len(cfg.EncryptionKeysPrevious))
	for i, s := range cfg.EncryptionKeysPrevious {
		k, err := crypt.DecodeKey(s)
		if err != nil {
			return nil, fmt.Errorf("invalid ENCRYPTION_KEYS_PREVIOUS entry %d: %w", i+1, err)
		}
		previous = append(previous, k)
	}

	cipher, err := crypt.New(primary, previous...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	return cipher, nil
}

// Start launches background work. It returns immediately.
func (a *App) Start(ctx context.Context) {
	a.ReconcileService.Start(ctx)
}

func (a *App) Close() error {
	a.ReconcileService.Stop()
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}

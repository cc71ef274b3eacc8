package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"trial-atlas/services"
	"trial-atlas/storage"
)

const backupPrefix = "backups/"

// BackupConfig nutzt dieselben DB_* Variablen wie der Dienst, das Ziel ist ein eigener Bucket.
type BackupConfig struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	BackupBucket    string `envconfig:"BACKUP_S3_BUCKET" required:"true"`
	BackupEndpoint  string `envconfig:"BACKUP_S3_ENDPOINT"`
	BackupAccessKey string `envconfig:"BACKUP_S3_ACCESS_KEY" required:"true"`
	BackupSecretKey string `envconfig:"BACKUP_S3_SECRET_KEY" required:"true"`
	BackupRegion    string `envconfig:"BACKUP_S3_REGION" default:"us-east-1"`
	KeepBackups     int    `envconfig:"KEEP_BACKUPS" default:"4"`
	LogLevel        string `envconfig:"LOG_LEVEL" default:"info"`
}

func main() {
	_ = godotenv.Load()
	var cfg BackupConfig
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Fehler beim Laden der Konfiguration: %v\n", err)
		os.Exit(1)
	}

	logger, err := services.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "can't initialize zap logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Backup failed", zap.Error(err))
	}
	logger.Info("Backup finished")
}

func run(ctx context.Context, cfg BackupConfig, logger *zap.Logger) error {
	logger.Info("Starting backup", zap.String("db", cfg.DBName))

	dump, err := createDump(ctx, cfg)
	if err != nil {
		return eris.Wrap(err, "create dump")
	}

	archive, err := storage.NewArchive(ctx, storage.ArchiveConfig{
		URL:    cfg.BackupEndpoint,
		Region: cfg.BackupRegion,
		Key:    cfg.BackupAccessKey,
		Secret: cfg.BackupSecretKey,
		Bucket: cfg.BackupBucket,
	})
	if err != nil {
		return err
	}

	link, err := archive.Upload(ctx, backupKey(time.Now()), dump, "application/gzip")
	if err != nil {
		return err
	}
	logger.Info("Backup uploaded", zap.String("link", link), zap.Int("bytes", len(dump)))

	deleted, err := archive.Rotate(ctx, backupPrefix, cfg.KeepBackups)
	if err != nil {
		return eris.Wrap(err, "rotate backups")
	}
	if deleted > 0 {
		logger.Info("Old backups removed", zap.Int("deleted", deleted), zap.Int("kept", cfg.KeepBackups))
	}
	return nil
}

func backupKey(now time.Time) string {
	return fmt.Sprintf("%sbackup-%s.sql.gz", backupPrefix, now.UTC().Format("2006-01-02T15-04-05Z"))
}

func createDump(ctx context.Context, cfg BackupConfig) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "pg_dump",
		"-h", cfg.DBHost,
		"-p", fmt.Sprint(cfg.DBPort),
		"-U", cfg.DBUser,
		"-d", cfg.DBName,
		"-w", // Passwort kommt über PGPASSWORD
	)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+cfg.DBPassword)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	data, err := compress(stdout)
	if err != nil {
		_ = cmd.Wait()
		return nil, err
	}
	if err := cmd.Wait(); err != nil {
		return nil, eris.Wrapf(err, "pg_dump: %s", stderr.String())
	}
	return data, nil
}

func compress(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := io.Copy(zw, r); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

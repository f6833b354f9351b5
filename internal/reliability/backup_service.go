// Package reliability covers operational concerns around the database:
// consistent backups with retention and optional object-store upload, and
// system status reporting.
package reliability

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aristath/purser/internal/database"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

const backupPrefix = "purser-backup-"

// BackupConfig controls where backups land and how many are kept.
type BackupConfig struct {
	Dir       string
	Retention int // backups to keep locally; 0 keeps everything

	S3Bucket          string // empty disables upload
	S3Endpoint        string // custom endpoint for R2-compatible stores
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// BackupService produces consistent snapshots with VACUUM INTO, writes a
// sha256 sidecar per snapshot, prunes old local files, and optionally
// uploads to an S3-compatible bucket.
type BackupService struct {
	db  *database.DB
	cfg BackupConfig
	log zerolog.Logger
}

// NewBackupService creates a new backup service.
func NewBackupService(db *database.DB, cfg BackupConfig, log zerolog.Logger) *BackupService {
	if cfg.Dir == "" {
		cfg.Dir = "backups"
	}
	if cfg.S3Region == "" {
		cfg.S3Region = "auto"
	}
	return &BackupService{
		db:  db,
		cfg: cfg,
		log: log.With().Str("service", "backup").Logger(),
	}
}

// BackupResult reports one backup run.
type BackupResult struct {
	Path      string        `json:"path"`
	Checksum  string        `json:"checksum"`
	SizeBytes int64         `json:"size_bytes"`
	Pruned    int           `json:"pruned"`
	Uploaded  bool          `json:"uploaded"`
	Duration  time.Duration `json:"duration"`
}

// Run creates one backup. With upload set and a configured bucket the
// snapshot is also pushed to object storage.
func (s *BackupService) Run(ctx context.Context, upload bool) (*BackupResult, error) {
	start := time.Now()

	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	filename := backupPrefix + time.Now().UTC().Format("20060102-150405") + ".db"
	path := filepath.Join(s.cfg.Dir, filename)

	if err := s.db.VacuumInto(path); err != nil {
		return nil, fmt.Errorf("failed to snapshot database: %w", err)
	}

	checksum, err := s.writeChecksum(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat backup: %w", err)
	}

	result := &BackupResult{
		Path:      path,
		Checksum:  checksum,
		SizeBytes: info.Size(),
	}

	pruned, err := s.prune()
	if err != nil {
		s.log.Warn().Err(err).Msg("Backup pruning failed")
	}
	result.Pruned = pruned

	if upload && s.cfg.S3Bucket != "" {
		if err := s.uploadToS3(ctx, path, filename); err != nil {
			return nil, fmt.Errorf("backup created but upload failed: %w", err)
		}
		result.Uploaded = true
	}

	result.Duration = time.Since(start)
	s.log.Info().
		Str("path", path).
		Int64("size_bytes", result.SizeBytes).
		Int("pruned", result.Pruned).
		Bool("uploaded", result.Uploaded).
		Dur("duration", result.Duration).
		Msg("Backup completed")

	return result, nil
}

// writeChecksum computes sha256 over the snapshot and writes it next to it
// in the conventional "hash  filename" format.
func (s *BackupService) writeChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open backup: %w", err)
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("failed to hash backup: %w", err)
	}

	checksum := fmt.Sprintf("%x", hash.Sum(nil))
	sidecar := fmt.Sprintf("%s  %s\n", checksum, filepath.Base(path))
	if err := os.WriteFile(path+".sha256", []byte(sidecar), 0o644); err != nil {
		return "", fmt.Errorf("failed to write checksum sidecar: %w", err)
	}

	return checksum, nil
}

// ListBackups returns local backup files, newest first.
func (s *BackupService) ListBackups() ([]string, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, backupPrefix) && strings.HasSuffix(name, ".db") {
			names = append(names, name)
		}
	}

	// Timestamped names sort chronologically
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// prune removes local backups beyond the retention count, sidecars included.
func (s *BackupService) prune() (int, error) {
	if s.cfg.Retention <= 0 {
		return 0, nil
	}

	names, err := s.ListBackups()
	if err != nil {
		return 0, err
	}
	if len(names) <= s.cfg.Retention {
		return 0, nil
	}

	pruned := 0
	for _, name := range names[s.cfg.Retention:] {
		path := filepath.Join(s.cfg.Dir, name)
		if err := os.Remove(path); err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("Failed to remove old backup")
			continue
		}
		_ = os.Remove(path + ".sha256")
		pruned++
	}

	return pruned, nil
}

func (s *BackupService) uploadToS3(ctx context.Context, path, key string) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(s.cfg.S3Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.cfg.S3AccessKeyID, s.cfg.S3SecretAccessKey, "")),
	)
	if err != nil {
		return fmt.Errorf("failed to build aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s.cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(s.cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open backup for upload: %w", err)
	}
	defer file.Close()

	uploader := manager.NewUploader(client)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.S3Bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}

	s.log.Info().
		Str("bucket", s.cfg.S3Bucket).
		Str("key", key).
		Msg("Backup uploaded")

	return nil
}

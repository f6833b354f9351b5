package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBackupCmd() *cobra.Command {
	var uploadS3 bool

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the database, prune old backups, optionally upload to S3",
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			if uploadS3 && a.cfg.S3BackupBucket == "" {
				return fmt.Errorf("--s3 requires S3_BACKUP_BUCKET to be configured")
			}

			result, err := a.backup().Run(cmd.Context(), uploadS3)
			if err != nil {
				return err
			}

			fmt.Printf("Backup written to %s (%d bytes, sha256 %s)\n",
				result.Path, result.SizeBytes, result.Checksum[:12])
			if result.Pruned > 0 {
				fmt.Printf("Pruned %d old backups.\n", result.Pruned)
			}
			if result.Uploaded {
				fmt.Printf("Uploaded to s3://%s\n", a.cfg.S3BackupBucket)
			}
			return nil
		}),
	}

	cmd.Flags().BoolVar(&uploadS3, "s3", false, "also upload the snapshot to the configured bucket")
	return cmd
}

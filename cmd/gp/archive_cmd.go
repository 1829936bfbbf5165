package main

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gatepass/internal/archive"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Export settled check-ins as JSONL",
	Long: `Exports every confirmed and rejected check-in as JSONL for audit
retention. Writes to stdout by default, to a file with --out, or to an
S3-compatible bucket with --s3-bucket.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		bucket, _ := cmd.Flags().GetString("s3-bucket")
		key, _ := cmd.Flags().GetString("s3-key")
		region, _ := cmd.Flags().GetString("s3-region")
		endpoint, _ := cmd.Flags().GetString("s3-endpoint")

		store, err := openQueue()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()

		if bucket != "" {
			dest, err := archive.NewS3Destination(ctx, bucket, key, region, endpoint)
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := archive.ExportJSONL(ctx, store, &buf); err != nil {
				return err
			}
			if err := dest.Write(ctx, buf.Bytes()); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Archived %d bytes to s3://%s/%s\n", buf.Len(), bucket, key)
			return nil
		}

		if out != "" {
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			return archive.ExportJSONL(ctx, store, f)
		}

		return archive.ExportJSONL(ctx, store, os.Stdout)
	},
}

func init() {
	archiveCmd.Flags().String("out", "", "write to a file instead of stdout")
	archiveCmd.Flags().String("s3-bucket", "", "upload to this S3 bucket")
	archiveCmd.Flags().String("s3-key", "gatepass/archive.jsonl", "S3 object key")
	archiveCmd.Flags().String("s3-region", "us-east-1", "S3 region")
	archiveCmd.Flags().String("s3-endpoint", "", "custom S3 endpoint (MinIO)")
}

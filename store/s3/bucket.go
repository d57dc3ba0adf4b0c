/*
Package s3 is the invoice bucket client.

PURPOSE:
  Every persisted artifact round-trips through one object-storage bucket:
  the month's service usage reports are fetched from it, the persisted
  ledgers (PI credits, prepay debits, aliases) live in it, and every export
  is uploaded alongside a timestamped archive copy so history is never
  overwritten.

CONFIGURATION (environment, matching the operational setup):
  S3_ENDPOINT    - endpoint URL (defaults to the Backblaze B2 endpoint)
  S3_KEY_ID      - access key id (required)
  S3_APP_KEY     - secret key (required)
  S3_BUCKET_NAME - bucket (defaults to "nerc-invoicing")

BUCKET LAYOUT:
  Invoices/{month}/Service Invoices/...   raw usage reports
  Invoices/{month}/{name} {month}.csv     exported invoices
  Invoices/{month}/Archive/...            timestamped archive copies
  PIs/PI.csv, PIs/alias.csv               persisted PI state
  Prepay/prepay_debits.csv                persisted prepay debit ledger
*/
package s3

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	defaultEndpoint = "https://s3.us-east-005.backblazeb2.com"
	defaultBucket   = "nerc-invoicing"

	PICreditKey    = "PIs/PI.csv"
	AliasKey       = "PIs/alias.csv"
	PrepayDebitKey = "Prepay/prepay_debits.csv"
)

// Bucket wraps the invoice bucket with the handful of operations the
// pipeline needs.
type Bucket struct {
	client *awss3.Client
	name   string
}

// NewBucketFromEnv builds the client from environment configuration.
func NewBucketFromEnv(ctx context.Context) (*Bucket, error) {
	keyID := os.Getenv("S3_KEY_ID")
	appKey := os.Getenv("S3_APP_KEY")
	if keyID == "" || appKey == "" {
		return nil, fmt.Errorf("S3_KEY_ID and S3_APP_KEY environment variables must be set")
	}

	endpoint := os.Getenv("S3_ENDPOINT")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	bucket := os.Getenv("S3_BUCKET_NAME")
	if bucket == "" {
		bucket = defaultBucket
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(keyID, appKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	return &Bucket{client: client, name: bucket}, nil
}

// Download fetches key into localPath.
func (b *Bucket) Download(ctx context.Context, key, localPath string) error {
	out, err := b.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download s3://%s/%s: %w", b.name, key, err)
	}
	defer out.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, out.Body); err != nil {
		return fmt.Errorf("download s3://%s/%s: %w", b.name, key, err)
	}
	return nil
}

// Upload puts localPath at key.
func (b *Bucket) Upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = b.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(b.name),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", b.name, key, err)
	}
	return nil
}

// List returns the keys under prefix.
func (b *Bucket) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := awss3.NewListObjectsV2Paginator(b.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(b.name),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", b.name, prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// DownloadPrefix fetches every object under prefix into dir, returning the
// local paths. Used to pull the month's service usage reports.
func (b *Bucket) DownloadPrefix(ctx context.Context, prefix, dir string) ([]string, error) {
	keys, err := b.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, key := range keys {
		local := path.Join(dir, path.Base(key))
		if err := b.Download(ctx, key, local); err != nil {
			return nil, err
		}
		paths = append(paths, local)
	}
	return paths, nil
}

// =============================================================================
// KEY HELPERS
// =============================================================================

// UsageReportsPrefix is where the month's raw service invoices live.
func UsageReportsPrefix(month string) string {
	return fmt.Sprintf("Invoices/%s/Service Invoices/", month)
}

// InvoiceKey is the canonical location of an exported invoice.
func InvoiceKey(name, month string) string {
	return fmt.Sprintf("Invoices/%s/%s %s.csv", month, name, month)
}

// ArchiveKey is the timestamped archive copy of an exported invoice.
func ArchiveKey(name, month string, now time.Time) string {
	return fmt.Sprintf("Invoices/%s/Archive/%s %s %s.csv", month, name, month, Timestamp(now))
}

// BackupKey is the timestamped backup taken of a persisted ledger before it
// is overwritten.
func BackupKey(key string, now time.Time) string {
	dir, file := path.Split(key)
	ext := path.Ext(file)
	stem := file[:len(file)-len(ext)]
	return fmt.Sprintf("%sArchive/%s %s%s", dir, stem, Timestamp(now), ext)
}

// Timestamp renders the compact ISO 8601 form used in archive keys.
func Timestamp(now time.Time) string {
	return now.UTC().Format("20060102T150405Z")
}

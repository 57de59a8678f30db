// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gosimple/slug"
)

var r2Client *s3.Client
var r2Bucket string

// InitR2 configures the Cloudflare R2 client used to archive raw import
// payloads. Archival is optional: with no R2 env vars the service runs
// without it and ArchiveImportPayload becomes a no-op.
func InitR2() error {
	accountID := os.Getenv("CLOUDFLARE_ACCOUNT_ID")
	accessKeyID := os.Getenv("R2_ACCESS_KEY_ID")
	accessKeySecret := os.Getenv("R2_ACCESS_KEY_SECRET")
	r2Bucket = os.Getenv("R2_BUCKET_NAME")

	if accountID == "" || accessKeyID == "" || accessKeySecret == "" || r2Bucket == "" {
		log.Println("⚠️  R2 archive not configured — import payload archival disabled")
		return nil
	}

	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID, accessKeySecret, "",
		)),
		config.WithEndpointResolver(aws.EndpointResolverFunc(
			func(service, region string) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID),
				}, nil
			}),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to load R2 config: %w", err)
	}

	r2Client = s3.NewFromConfig(cfg)
	return nil
}

// ArchiveImportPayload stores one raw import request body under a key derived
// from the upload date and slugified file name.
func ArchiveImportPayload(ctx context.Context, fileName string, body []byte) error {
	if r2Client == nil {
		return nil
	}

	key := ImportArchiveKey(fileName, time.Now().UTC())
	_, err := r2Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r2Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to archive import payload: %w", err)
	}
	return nil
}

// ImportArchiveKey builds the R2 object key for an import file.
func ImportArchiveKey(fileName string, at time.Time) string {
	name := slug.Make(fileName)
	if name == "" {
		name = "import"
	}
	return fmt.Sprintf("imports/%s/%s-%d.json", at.Format("2006-01-02"), name, at.Unix())
}

package storage

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"go.uber.org/zap"
)

// S3Backups inspects offsite backup buckets. It only lists objects; the
// backup check classifies by the newest object's age and size.
type S3Backups struct {
	client s3iface.S3API
	logger *zap.SugaredLogger
}

// BackupObject describes the most recent object under a backup prefix.
type BackupObject struct {
	Key          string
	SizeBytes    int64
	LastModified time.Time
}

// NewS3Backups builds an inspector using the default credential chain.
func NewS3Backups(region string, logger *zap.SugaredLogger) (*S3Backups, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return &S3Backups{client: s3.New(sess), logger: logger}, nil
}

// NewS3BackupsWithClient builds an inspector around an existing client;
// used by tests.
func NewS3BackupsWithClient(client s3iface.S3API, logger *zap.SugaredLogger) *S3Backups {
	return &S3Backups{client: client, logger: logger}
}

// NewestObject returns the most recently modified object under
// bucket/prefix, or ErrNoBackupObjects when the prefix is empty.
func (b *S3Backups) NewestObject(bucket, prefix string) (*BackupObject, error) {
	var newest *BackupObject

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	err := b.client.ListObjectsV2Pages(input, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			if obj.LastModified == nil {
				continue
			}
			if newest == nil || obj.LastModified.After(newest.LastModified) {
				newest = &BackupObject{
					Key:          aws.StringValue(obj.Key),
					SizeBytes:    aws.Int64Value(obj.Size),
					LastModified: *obj.LastModified,
				}
			}
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list s3://%s/%s: %w", bucket, prefix, err)
	}
	if newest == nil {
		return nil, ErrNoBackupObjects
	}
	return newest, nil
}

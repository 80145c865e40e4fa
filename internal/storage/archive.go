// Package storage archives journaled commands to S3 compatible object storage
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/birbparty/countly-nest/internal/database"
)

// DefaultPathPrefix is where journal archives are written
const DefaultPathPrefix = "journal-archives/"

const dateLayout = "2006-01-02"

// ArchiveObject describes one stored archive
type ArchiveObject struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ArchiveClient uploads and reads JSONL journal archives
type ArchiveClient struct {
	client     s3iface.S3API
	bucket     string
	pathPrefix string
	now        func() time.Time
}

// NewArchiveClient creates an S3 client for config
func NewArchiveClient(config *Config) (*ArchiveClient, error) {
	awsCfg := &aws.Config{
		Region:           aws.String(config.Region),
		S3ForcePathStyle: aws.Bool(config.ForcePathStyle),
	}
	if config.Endpoint != "" {
		awsCfg.Endpoint = aws.String(config.Endpoint)
	}
	if config.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return NewArchiveClientWithAPI(s3.New(sess), config.Bucket, config.PathPrefix), nil
}

// NewArchiveClientWithAPI wraps an existing S3 API
func NewArchiveClientWithAPI(api s3iface.S3API, bucket, pathPrefix string) *ArchiveClient {
	if pathPrefix == "" {
		pathPrefix = DefaultPathPrefix
	}
	if !strings.HasSuffix(pathPrefix, "/") {
		pathPrefix += "/"
	}
	return &ArchiveClient{
		client:     api,
		bucket:     bucket,
		pathPrefix: pathPrefix,
		now:        time.Now,
	}
}

// ArchiveKey builds <prefix><date>/<app>-<first>-<last>.jsonl
func (a *ArchiveClient) ArchiveKey(appKey string, firstID, lastID int64, at time.Time) string {
	return fmt.Sprintf("%s%s/%s-%d-%d.jsonl", a.pathPrefix, at.UTC().Format(dateLayout), appKey, firstID, lastID)
}

// EncodeJSONL writes one journal entry per line
func EncodeJSONL(entries []*database.JournalEntry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return nil, fmt.Errorf("failed to encode entry %d: %w", e.ID, err)
		}
	}
	return buf.Bytes(), nil
}

// UploadBatch stores entries of one app as a single archive and returns
// its key. Entries must be ordered by id.
func (a *ArchiveClient) UploadBatch(ctx context.Context, appKey string, entries []*database.JournalEntry) (string, error) {
	if len(entries) == 0 {
		return "", fmt.Errorf("empty archive batch for %s", appKey)
	}

	data, err := EncodeJSONL(entries)
	if err != nil {
		return "", err
	}

	first, last := entries[0].ID, entries[len(entries)-1].ID
	now := a.now()
	key := a.ArchiveKey(appKey, first, last, now)

	_, err = a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
		Metadata: map[string]*string{
			"app-key":      aws.String(appKey),
			"entry-count":  aws.String(strconv.Itoa(len(entries))),
			"archive-time": aws.String(now.UTC().Format(time.RFC3339)),
		},
		ContentType: aws.String("application/x-jsonlines"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload archive: %w", err)
	}

	return key, nil
}

// Get opens an archive for reading
func (a *ArchiveClient) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := a.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get archive: %w", err)
	}

	return result.Body, nil
}

// List returns the archives written on date
func (a *ArchiveClient) List(ctx context.Context, date time.Time) ([]ArchiveObject, error) {
	prefix := fmt.Sprintf("%s%s/", a.pathPrefix, date.UTC().Format(dateLayout))

	var out []ArchiveObject
	err := a.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			out = append(out, ArchiveObject{
				Key:          aws.StringValue(obj.Key),
				Size:         aws.Int64Value(obj.Size),
				LastModified: aws.TimeValue(obj.LastModified),
			})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}

	return out, nil
}

// Delete removes an archive
func (a *ArchiveClient) Delete(ctx context.Context, key string) error {
	_, err := a.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete archive: %w", err)
	}

	return nil
}

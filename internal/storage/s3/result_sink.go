package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
)

// ResultSink writes order sets as JSON objects to an S3 compatible bucket
type ResultSink struct {
	client *minio.Client
	bucket string
	prefix string
	logger arbor.ILogger
}

// NewResultSink creates the client and ensures the bucket exists
func NewResultSink(ctx context.Context, config *common.S3Config, logger arbor.ILogger) (*ResultSink, error) {
	if config.Endpoint == "" || config.Bucket == "" {
		return nil, fmt.Errorf("s3 endpoint and bucket are required")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize s3 client: %w", err)
	}

	return openResultSink(ctx, client, config, logger)
}

func openResultSink(ctx context.Context, client *minio.Client, config *common.S3Config, logger arbor.ILogger) (*ResultSink, error) {
	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", config.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{Region: config.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", config.Bucket, err)
		}
		logger.Info().Str("bucket", config.Bucket).Msg("Created results bucket")
	}

	return newResultSink(client, config.Bucket, config.Prefix, logger), nil
}

func newResultSink(client *minio.Client, bucket, prefix string, logger arbor.ILogger) *ResultSink {
	if prefix == "" {
		prefix = "orders"
	}
	return &ResultSink{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

func (s *ResultSink) userPrefix(userEmail string) string {
	return path.Join(s.prefix, userEmail) + "/"
}

func (s *ResultSink) objectKey(userEmail, runID string) string {
	return s.userPrefix(userEmail) + runID + ".json"
}

func (s *ResultSink) Put(ctx context.Context, userEmail, runID string, orders *models.OrderSet) (string, error) {
	if orders == nil {
		return "", fmt.Errorf("order set is nil")
	}

	key := s.objectKey(userEmail, runID)

	// Stat is a fast path only; the conditional put below is what keeps the
	// key write-once on stores that honour If-None-Match
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err == nil {
		return "", interfaces.ErrResultExists
	} else if minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return "", fmt.Errorf("failed to check object %s: %w", key, err)
	}

	record := models.StoredOrderSet{
		Key:       key,
		UserEmail: userEmail,
		RunID:     runID,
		Orders:    *orders,
		StoredAt:  time.Now().UnixNano(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to encode orders: %w", err)
	}

	opts := minio.PutObjectOptions{ContentType: "application/json"}
	opts.SetMatchETagExcept("*")

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		if minio.ToErrorResponse(err).StatusCode == http.StatusPreconditionFailed {
			return "", interfaces.ErrResultExists
		}
		return "", fmt.Errorf("failed to upload orders: %w", err)
	}

	s.logger.Info().
		Str("bucket", s.bucket).
		Str("key", key).
		Int("orders", len(orders.Orders)).
		Msg("Orders uploaded")

	return key, nil
}

func (s *ResultSink) Latest(ctx context.Context, userEmail string) (*models.StoredOrderSet, error) {
	// Stops the lister goroutine on early return
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var latest *minio.ObjectInfo
	for object := range s.client.ListObjects(listCtx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.userPrefix(userEmail),
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list orders: %w", object.Err)
		}
		if latest == nil || object.LastModified.After(latest.LastModified) {
			obj := object
			latest = &obj
		}
	}
	if latest == nil {
		return nil, interfaces.ErrResultNotFound
	}

	reader, err := s.client.GetObject(ctx, s.bucket, latest.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get orders %s: %w", latest.Key, err)
	}
	defer reader.Close()

	var record models.StoredOrderSet
	if err := json.NewDecoder(reader).Decode(&record); err != nil {
		return nil, fmt.Errorf("failed to decode orders %s: %w", latest.Key, err)
	}
	return &record, nil
}

package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/minio/minio-go/v7"

	"switchyard/api/model"
)

// AuditStore writes each attempt as its own object. Object keys start with
// the attempt's start time so a key listing is already in log order, and
// an object is never rewritten once put.
type AuditStore struct {
	client *Client
	bucket string
	app    string
}

func (c *Client) Audit(bucket, app string) *AuditStore {
	return &AuditStore{client: c, bucket: bucket, app: app}
}

func AttemptPrefix(app string) string {
	return app + "/attempts/"
}

// AttemptKey is sortable by start time: 20260301T120000.000000000Z-<id>.json
func AttemptKey(app string, a *model.DeploymentAttempt) string {
	return AttemptPrefix(app) + a.StartedAt.UTC().Format("20060102T150405.000000000Z") + "-" + a.ID + ".json"
}

func (s *AuditStore) Append(ctx context.Context, a *model.DeploymentAttempt) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	key := AttemptKey(s.app, a)
	_, err = s.client.mc.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *AuditStore) List(ctx context.Context, limit int) ([]model.DeploymentAttempt, error) {
	if limit <= 0 {
		limit = 20
	}

	prefix := AttemptPrefix(s.app)
	var keys []string
	for obj := range s.client.mc.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	if len(keys) > limit {
		keys = keys[:limit]
	}

	attempts := make([]model.DeploymentAttempt, 0, len(keys))
	for _, key := range keys {
		obj, err := s.client.mc.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", key, err)
		}
		var a model.DeploymentAttempt
		err = json.NewDecoder(obj).Decode(&a)
		obj.Close()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}

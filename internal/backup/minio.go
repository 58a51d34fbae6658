// Package backup mirrors place records to S3-compatible object storage.
// It is a best-effort secondary copy: failures are logged, never fatal.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store writes place snapshots to a bucket, one object per place.
type Store struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the bucket exists.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
	}

	s := &Store{client: client, bucket: bucket}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func objectKey(placeID string) string {
	return "places/" + placeID + ".json"
}

// SavePlace uploads the full JSON serialization of a place, overwriting
// any previous copy.
func (s *Store) SavePlace(ctx context.Context, placeID string, snapshot any) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal place %s: %w", placeID, err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, objectKey(placeID),
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("upload place %s: %w", placeID, err)
	}
	return nil
}

// DeletePlace removes the backed-up copy of a place.
func (s *Store) DeletePlace(ctx context.Context, placeID string) error {
	err := s.client.RemoveObject(ctx, s.bucket, objectKey(placeID), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("remove place %s: %w", placeID, err)
	}
	return nil
}

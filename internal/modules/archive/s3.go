package archive

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/config"
)

// objectStore is the slice of object storage the exporter needs. nil when
// archiving runs spool-only.
type objectStore interface {
	Put(ctx context.Context, key string, payload []byte, contentType string) error
	List(ctx context.Context, prefix string) ([]storedObject, error)
	Delete(ctx context.Context, key string) error
}

type storedObject struct {
	Key          string
	LastModified time.Time
}

type s3Store struct {
	client *s3.Client
	bucket string
}

func newS3Store(cfg config.ArchiveRuntimeConfig) (*s3Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	region := strings.TrimSpace(cfg.Region)
	accessKey := strings.TrimSpace(cfg.AccessKeyID)
	secretKey := strings.TrimSpace(cfg.SecretAccessKey)
	if bucket == "" || region == "" || accessKey == "" || secretKey == "" {
		return nil, errors.New("incomplete archive s3 config: bucket/region/access_key_id/secret_access_key are required")
	}

	awsCfg := aws.Config{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
				endpoint = "https://" + endpoint
			}
			o.BaseEndpoint = aws.String(strings.TrimSuffix(endpoint, "/"))
			// Custom endpoints are MinIO-style deployments; virtual-host
			// addressing breaks on them.
			o.UsePathStyle = true
		}
		if cfg.PathStyleAccess {
			o.UsePathStyle = true
		}
	})
	return &s3Store{client: client, bucket: bucket}, nil
}

func (s *s3Store) Put(ctx context.Context, key string, payload []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String(contentType),
	})
	return err
}

func (s *s3Store) List(ctx context.Context, prefix string) ([]storedObject, error) {
	var objects []storedObject
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			item := storedObject{Key: aws.ToString(obj.Key)}
			if obj.LastModified != nil {
				item.LastModified = *obj.LastModified
			}
			objects = append(objects, item)
		}
		if !aws.ToBool(out.IsTruncated) {
			return objects, nil
		}
		token = out.NextContinuationToken
	}
}

func (s *s3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}

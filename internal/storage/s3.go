// Package storage хранит изображения подтверждений оплаты в S3-совместимом хранилище.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mmeshcher/storefront-fulfillment/internal/model"
)

// MaxImageSize ограничивает размер загружаемого изображения.
const MaxImageSize = 5 << 20

var allowedContentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// objectPutter описывает часть клиента S3, нужную хранилищу.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config содержит параметры подключения к хранилищу.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // MinIO, LocalStack и т.п.
	Prefix   string
}

// S3Store сохраняет изображения в бакет и возвращает их постоянный адрес.
type S3Store struct {
	client objectPutter
	bucket string
	prefix string
	base   string
}

// NewS3Store создаёт хранилище на основе конфигурации AWS по умолчанию.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is not configured")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Store(client, cfg), nil
}

func newS3Store(client objectPutter, cfg S3Config) *S3Store {
	base := fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	if cfg.Endpoint != "" {
		base = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		base:   base,
	}
}

// Upload сохраняет изображение под ключом key и возвращает его адрес.
func (s *S3Store) Upload(ctx context.Context, key, contentType string, body []byte) (string, error) {
	ext, ok := allowedContentTypes[contentType]
	if !ok {
		return "", fmt.Errorf("%w: unsupported content type %q", model.ErrInvalidRequest, contentType)
	}
	if len(body) > MaxImageSize {
		return "", fmt.Errorf("%w: image is larger than %d bytes", model.ErrInvalidRequest, MaxImageSize)
	}
	if !strings.HasSuffix(strings.ToLower(key), ext) {
		key += ext
	}
	fullKey := s.prefix + key

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(fullKey),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put: %w", err)
	}

	return s.base + "/" + escapeKey(fullKey), nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

package media

import (
	"context"
	"fmt"
	"mime/multipart"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"qalam/internal/config"
)

// S3Store talks to any S3-compatible host (AWS, Cloudflare R2, MinIO).
type S3Store struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

func NewS3Store(ctx context.Context, cfg *config.MediaConfig) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	baseURL := strings.TrimRight(cfg.PublicBaseURL, "/")
	if baseURL == "" {
		if endpoint != "" {
			baseURL = endpoint + "/" + cfg.Bucket
		} else {
			baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}
	return &S3Store{client: client, bucket: cfg.Bucket, baseURL: baseURL}, nil
}

func (s *S3Store) Upload(ctx context.Context, folder string, files []*multipart.FileHeader) ([]string, error) {
	return uploadAll(ctx, files, func(ctx context.Context, fh *multipart.FileHeader) (string, error) {
		return s.put(ctx, folder, fh)
	}, s.remove)
}

func (s *S3Store) Delete(ctx context.Context, urls []string) error {
	return deleteAll(ctx, urls, s.remove)
}

func (s *S3Store) put(ctx context.Context, folder string, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", fh.Filename, err)
	}
	defer f.Close()

	key := objectKey(folder, fh.Filename)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(fh.Size),
		ContentType:   aws.String(fh.Header.Get("Content-Type")),
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", fh.Filename, err)
	}
	return s.baseURL + "/" + key, nil
}

// remove ignores URLs that do not belong to this bucket, such as default photos.
func (s *S3Store) remove(ctx context.Context, url string) error {
	key, ok := strings.CutPrefix(url, s.baseURL+"/")
	if !ok || key == "" {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

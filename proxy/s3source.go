package proxy

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3ClientConfig names the credentials and region an S3Source's client
// connects with. Leaving AccessKeyID empty makes NewS3Client fall back to
// the SDK's standard credential chain (environment, shared config, IMDS).
type S3ClientConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint, when set, points the client at an S3-compatible store
	// (e.g. MinIO) instead of AWS S3.
	Endpoint string
}

// NewS3Client builds an s3.Client from cfg, using static credentials when
// provided or the SDK default chain otherwise.
func NewS3Client(ctx context.Context, cfg S3ClientConfig) (*s3.Client, error) {
	var optFns []func(*config.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("proxy: loading aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// S3Source fetches chunks from a flat object in S3 (or an S3-compatible
// store), one byte-range GetObject request per chunk, mirroring the
// proxy-source contract of reading only the bytes a given chunk needs.
type S3Source struct {
	client      *s3.Client
	bucket      string
	key         string
	chunkstride int64 // bytes between one chunk's start and the next
}

// NewS3Source builds an S3Source reading chunks of chunkstride raw
// (uncompressed, row-major) bytes each, packed contiguously starting at
// object bucket/key.
func NewS3Source(client *s3.Client, bucket, key string, chunkstride int) *S3Source {
	return &S3Source{client: client, bucket: bucket, key: key, chunkstride: int64(chunkstride)}
}

// Describe returns the s3:// URI this source reads from.
func (s *S3Source) Describe() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key)
}

// FetchChunk issues a single ranged GetObject request covering exactly
// chunk nchunk's byte span.
func (s *S3Source) FetchChunk(ctx context.Context, nchunk int) ([]byte, error) {
	start := int64(nchunk) * s.chunkstride
	end := start + s.chunkstride - 1
	rng := fmt.Sprintf("bytes=%d-%d", start, end)

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  aws.String(rng),
	})
	if err != nil {
		return nil, fmt.Errorf("proxy: s3 GetObject %s range %s: %w", s.Describe(), rng, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("proxy: s3 reading body for %s range %s: %w", s.Describe(), rng, err)
	}
	return data, nil
}

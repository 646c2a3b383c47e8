package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// S3Config points the archive at an S3-compatible endpoint (MinIO in development).
type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

// Client archives execution traces as zstd-compressed JSON objects.
type Client struct {
	s3     *s3.Client
	bucket string
	log    *zap.Logger
}

func New(ctx context.Context, c S3Config, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	region := c.Region
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")),
	)
	if err != nil {
		return nil, err
	}
	endpoint := c.Endpoint
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	return &Client{s3: cli, bucket: c.Bucket, log: log}, nil
}

// PutJSON stores v under traces/<id>.json.zst and returns an s3:// reference.
func (c *Client) PutJSON(ctx context.Context, id string, v any) (string, error) {
	key := fmt.Sprintf("traces/%s.json.zst", id)
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return "", err
	}
	body := enc.EncodeAll(b, nil)
	_ = enc.Close()

	_, err = c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          &c.bucket,
		Key:             &key,
		Body:            bytes.NewReader(body),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("zstd"),
	})
	if err != nil {
		return "", err
	}
	ref := fmt.Sprintf("s3://%s/%s", c.bucket, key)
	c.log.Debug("archived object", zap.String("ref", ref), zap.Int("raw_bytes", len(b)), zap.Int("stored_bytes", len(body)))
	return ref, nil
}

func parseS3Ref(ref string) (string, string, error) {
	const p = "s3://"
	if !strings.HasPrefix(ref, p) {
		return "", "", fmt.Errorf("bad s3 ref (missing s3://): %q", ref)
	}
	s := strings.TrimPrefix(ref, p)
	slash := strings.IndexByte(s, '/')
	if slash <= 0 || slash == len(s)-1 {
		return "", "", fmt.Errorf("bad s3 ref (need bucket/key): %q", ref)
	}
	return s[:slash], s[slash+1:], nil
}

// GetJSON fetches an archived object and decodes it into v.
func (c *Client) GetJSON(ctx context.Context, ref string, v any) error {
	bucket, key, err := parseS3Ref(ref)
	if err != nil {
		return err
	}
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("get %s: %w", ref, err)
	}
	defer out.Body.Close()

	dec, err := zstd.NewReader(out.Body)
	if err != nil {
		return err
	}
	defer dec.Close()
	b, err := io.ReadAll(dec)
	if err != nil {
		return fmt.Errorf("decompress %s: %w", ref, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", ref, err)
	}
	return nil
}

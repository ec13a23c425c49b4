package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/uploadhub/backend/internal/models"
)

// S3Config configures an S3 channel.
type S3Config struct {
	Bucket    string
	Prefix    string // key prefix, joined with the file name
	Region    string
	Endpoint  string // custom endpoint for S3-compatible stores
	PathStyle bool
	AccessKey string // static credentials; default chain when empty
	SecretKey string
}

// s3API is the subset of the S3 client used here.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 uploads each file as a single PutObject.
type S3 struct {
	cfg    S3Config
	client s3API
}

// NewS3 creates an S3 channel using the default AWS configuration chain,
// overridden by whatever cfg specifies.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 channel: bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return &S3{cfg: cfg, client: client}, nil
}

// Transfer implements Channel.
func (c *S3) Transfer(ctx context.Context, file *models.File, progress ProgressFunc) (*models.Response, error) {
	if !file.HasContent() {
		return nil, errNoContent
	}
	content, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", file.Name, err)
	}
	defer content.Close()

	// PutObject needs a seekable body to sign and checksum the payload.
	rs, ok := content.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(content)
		if err != nil {
			return nil, fmt.Errorf("buffering %s: %w", file.Name, err)
		}
		rs = bytes.NewReader(data)
	}
	body := newProgressSeeker(rs, file.Size, progress)
	defer body.finish()

	key := c.key(file.Name)
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	out, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.cfg.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(file.Size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("putting s3://%s/%s: %w", c.cfg.Bucket, key, err)
	}

	header := map[string][]string{"ETag": {aws.ToString(out.ETag)}}
	if v := aws.ToString(out.VersionId); v != "" {
		header["X-Amz-Version-Id"] = []string{v}
	}
	return &models.Response{
		StatusCode: http.StatusOK,
		Header:     header,
		Location:   fmt.Sprintf("s3://%s/%s", c.cfg.Bucket, key),
	}, nil
}

func (c *S3) key(name string) string {
	if c.cfg.Prefix == "" {
		return name
	}
	return path.Join(c.cfg.Prefix, name)
}

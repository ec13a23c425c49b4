package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/uploadhub/backend/internal/models"
)

// MinIOConfig configures a MinIO channel.
type MinIOConfig struct {
	Endpoint  string // host:port, no scheme
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Region    string
	UseSSL    bool
}

type minioAPI interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinIO uploads files to a MinIO (or any S3-compatible) server with
// minio-go, which reports progress through its own hook.
type MinIO struct {
	cfg    MinIOConfig
	client minioAPI
}

// NewMinIO creates a MinIO channel.
func NewMinIO(cfg MinIOConfig) (*MinIO, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio channel: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio channel: bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}
	return &MinIO{cfg: cfg, client: client}, nil
}

// Transfer implements Channel.
func (c *MinIO) Transfer(ctx context.Context, file *models.File, progress ProgressFunc) (*models.Response, error) {
	if !file.HasContent() {
		return nil, errNoContent
	}
	content, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", file.Name, err)
	}
	defer content.Close()

	key := file.Name
	if c.cfg.Prefix != "" {
		key = path.Join(c.cfg.Prefix, file.Name)
	}
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	hook := newProgressHook(file.Size, progress)
	defer hook.finish()

	info, err := c.client.PutObject(ctx, c.cfg.Bucket, key, content, file.Size, minio.PutObjectOptions{
		ContentType: contentType,
		Progress:    hook,
	})
	if err != nil {
		return nil, fmt.Errorf("putting %s/%s: %w", c.cfg.Bucket, key, err)
	}

	location := info.Location
	if location == "" {
		location = fmt.Sprintf("%s/%s", info.Bucket, info.Key)
	}
	return &models.Response{
		StatusCode: http.StatusOK,
		Header:     map[string][]string{"ETag": {info.ETag}},
		Location:   location,
	}, nil
}

package transfer

import (
	"context"
	"fmt"

	"github.com/uploadhub/backend/internal/config"
)

// New builds the channel selected by cfg.Upload.Transport.
func New(ctx context.Context, cfg *config.AppConfig) (Channel, error) {
	up := cfg.Upload
	switch up.Transport {
	case "", "http":
		return NewMultipart(MultipartConfig{
			Action:    up.Action,
			FieldName: up.FieldName,
			Headers:   config.FieldMap(up.Headers),
			Data:      config.FieldMap(up.FormData),
		})
	case "websocket":
		return NewWebSocket(WebSocketConfig{
			URL:       up.Action,
			ChunkSize: up.ChunkSizeKB * 1024,
			Headers:   config.FieldMap(up.Headers),
		})
	case "s3":
		return NewS3(ctx, S3Config{
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
	case "minio":
		return NewMinIO(MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			Prefix:    cfg.MinIO.Prefix,
			Region:    cfg.MinIO.Region,
			UseSSL:    cfg.MinIO.UseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown transport %q", up.Transport)
	}
}

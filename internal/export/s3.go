package export

import (
	"context"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/landcover-cli/internal/apperr"
	"github.com/sells-group/landcover-cli/internal/resilience"
)

// S3Options configures the object store client.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	Region    string
}

// S3Uploader uploads files with minio-go.
type S3Uploader struct {
	client *minio.Client
	retry  resilience.RetryConfig
}

// NewS3Uploader creates an uploader for an S3-compatible endpoint.
func NewS3Uploader(opts S3Options, retry resilience.RetryConfig) (*S3Uploader, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, eris.Wrap(err, "export: create s3 client")
	}
	return &S3Uploader{client: client, retry: retry.Named("s3", "put")}, nil
}

// Upload puts a local file at bucket/object.
func (u *S3Uploader) Upload(ctx context.Context, bucket, object, localPath, contentType string) error {
	return resilience.Do(ctx, u.retry, func(ctx context.Context) error {
		info, err := u.client.FPutObject(ctx, bucket, object, localPath, minio.PutObjectOptions{ContentType: contentType})
		if err != nil {
			status := minio.ToErrorResponse(err).StatusCode
			transient := resilience.IsTransientHTTPStatus(status) || resilience.IsTransient(err)
			return apperr.NewExternal("s3", "put", transient, err)
		}
		zap.L().Debug("object uploaded",
			zap.String("bucket", bucket),
			zap.String("object", object),
			zap.Int64("size", info.Size),
		)
		return nil
	})
}

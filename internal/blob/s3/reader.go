package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/wooxbot/internal/domain"
)

// Reader implements domain.BlobReader. The archiver uses it to find months
// that are already uploaded and to list the archive.
type Reader struct {
	client *s3.Client
	bucket string
}

func NewReader(c *Client) *Reader {
	return &Reader{client: c.s3, bucket: c.bucket}
}

// Get opens the object at path. A missing object yields domain.ErrNotFound.
// The caller closes the body.
func (r *Reader) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, objectErr("get", path, err)
	}
	return out.Body, nil
}

// List returns every object under prefix.
func (r *Reader) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	pages := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(prefix),
	})
	var infos []domain.BlobInfo
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, objectErr("list", prefix, err)
		}
		for _, obj := range page.Contents {
			infos = append(infos, blobInfo(obj))
		}
	}
	return infos, nil
}

// Exists reports whether an object is stored at path.
func (r *Reader) Exists(ctx context.Context, path string) (bool, error) {
	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(path),
	})
	switch err = objectErr("exists", path, err); {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func blobInfo(obj types.Object) domain.BlobInfo {
	info := domain.BlobInfo{Path: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}
	if obj.LastModified != nil {
		info.LastModified = *obj.LastModified
	}
	return info
}

// objectErr wraps an SDK error with the operation and key. NoSuchKey,
// NotFound and bare 404s from S3-compatible stores become domain.ErrNotFound.
func objectErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var (
		nsk    *types.NoSuchKey
		nf     *types.NotFound
		status interface{ HTTPStatusCode() int }
	)
	if errors.As(err, &nsk) || errors.As(err, &nf) ||
		(errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound) {
		return fmt.Errorf("s3blob: %s %s: %w", op, path, domain.ErrNotFound)
	}
	return fmt.Errorf("s3blob: %s %s: %w", op, path, err)
}

var _ domain.BlobReader = (*Reader)(nil)

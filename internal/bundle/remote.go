package bundle

import (
	"bytes"
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/lanekessler/renderpipe/internal/log"
	"github.com/lanekessler/renderpipe/internal/xerrors"
)

// maxRemoteArtifact bounds what we will pull from the mirror. Bundles are
// concatenations of page assets; anything larger is a misconfiguration.
const maxRemoteArtifact int64 = 32 * 1024 * 1024

// S3API is the slice of the S3 client the mirror uses.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type RemoteOptions struct {
	Bucket string
	Prefix string
	Client S3API
	Logger log.Logger
}

// Remote mirrors cache artifacts to S3 so a fleet of hosts shares one
// synthesis. Artifact names are content-addressed, so objects are written
// once and never updated.
type Remote struct {
	bucket string
	prefix string
	client S3API
	logger log.Logger
}

func NewRemote(opts RemoteOptions) (*Remote, error) {
	if opts.Bucket == "" {
		return nil, xerrors.New("bucket is required")
	}
	if opts.Client == nil {
		return nil, xerrors.New("s3 client is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Remote{
		bucket: opts.Bucket,
		prefix: opts.Prefix,
		client: opts.Client,
		logger: opts.Logger,
	}, nil
}

func (r *Remote) key(name string) string {
	if r.prefix != "" {
		return r.prefix + "/" + name
	}
	return name
}

// Fetch downloads a mirrored artifact by filename.
func (r *Remote) Fetch(ctx context.Context, name string) ([]byte, error) {
	key := r.key(name)
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get s3://%s/%s", r.bucket, key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxRemoteArtifact+1))
	if err != nil {
		return nil, xerrors.Wrapf(err, "read s3://%s/%s", r.bucket, key)
	}
	if int64(len(data)) > maxRemoteArtifact {
		return nil, xerrors.Newf("remote artifact %s exceeds %d bytes", name, maxRemoteArtifact)
	}
	return data, nil
}

// Store uploads an artifact. Objects are content-addressed, so an
// overwrite by a racing host writes identical bytes.
func (r *Remote) Store(ctx context.Context, name string, data []byte) error {
	key := r.key(name)
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return xerrors.Wrapf(err, "put s3://%s/%s", r.bucket, key)
	}
	r.logger.Debug(ctx, "mirrored bundle artifact", "bucket", r.bucket, "key", key, "bytes", len(data))
	return nil
}

// Package s3 implements the artifact store on an Amazon S3 (or compatible)
// bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/console-helpers/svn-buddy-updater/internal/config"
	"github.com/console-helpers/svn-buddy-updater/internal/logging"
)

// ErrStorage wraps every bucket operation failure.
var ErrStorage = errors.New("artifact storage failed")

// DeleteObjects accepts at most 1000 keys per call.
const deleteBatchSize = 1000

type AmazonS3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	log      *logging.Logger
}

func New(ctx context.Context, cfg config.ObjectStorage, log *logging.Logger) (*AmazonS3, error) {
	if cfg.AmazonS3 == nil {
		return nil, fmt.Errorf("%w: no bucket configured", ErrStorage)
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AmazonS3.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AmazonS3.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AmazonS3.URL != "" {
			// Endpoint override for S3-compatible stores; those expect
			// path-style addressing.
			o.BaseEndpoint = aws.String(cfg.AmazonS3.URL)
			o.UsePathStyle = true
		}
	})

	return &AmazonS3{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.AmazonS3.Bucket,
		log:      log,
	}, nil
}

// Upload stores the given files under prefix, publicly readable, and returns
// their public URLs in input order.
func (s *AmazonS3) Upload(ctx context.Context, files []string, prefix string) ([]string, error) {
	urls := make([]string, 0, len(files))
	for _, file := range files {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}

		key := path.Join(prefix, filepath.Base(file))
		result, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   f,
			ACL:    types.ObjectCannedACLPublicRead,
		})
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrStorage, key, err)
		}

		s.log.Debugf("Uploaded %s to s3://%s/%s.", filepath.Base(file), s.bucket, key)
		urls = append(urls, result.Location)
	}
	return urls, nil
}

// DeleteByKeys removes the given objects. Keys that do not exist are not an
// error; S3 treats their deletion as a success.
func (s *AmazonS3) DeleteByKeys(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))

		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, key := range keys[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(key)})
		}

		output, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
		for _, derr := range output.Errors {
			return fmt.Errorf("%w: %s: %s", ErrStorage, aws.ToString(derr.Key), aws.ToString(derr.Message))
		}
	}
	return nil
}

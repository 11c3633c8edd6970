package remote

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mediback/mediback/internal/config"
	"github.com/mediback/mediback/internal/logger"
)

// S3 replicates artifacts to an object-storage bucket. A custom endpoint
// switches to path-style addressing for S3-compatible services.
type S3 struct {
	cfg    config.S3Config
	client *s3.Client
	log    logger.Logger
}

var _ Provider = (*S3)(nil)

func newS3(ctx context.Context, cfg config.S3Config, log logger.Logger) (*S3, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3{cfg: cfg, client: client, log: log}, nil
}

func (p *S3) Name() string { return "s3" }

func (p *S3) key(name string) string {
	return path.Join(p.cfg.Prefix, name)
}

func (p *S3) Upload(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer f.Close()

	key := p.key(filepath.Base(localPath))
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("%w: put s3://%s/%s: %v", ErrUpload, p.cfg.Bucket, key, err)
	}
	p.log.Info("uploaded artifact", "provider", "s3", "bucket", p.cfg.Bucket, "key", key)
	return nil
}

func (p *S3) Verify(ctx context.Context, localPath string) (VerifyResult, error) {
	local, err := os.Stat(localPath)
	if err != nil {
		return VerifyUnknown, err
	}

	key := p.key(filepath.Base(localPath))
	head, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return VerifyUnknown, fmt.Errorf("head s3://%s/%s: %w", p.cfg.Bucket, key, err)
	}
	if aws.ToInt64(head.ContentLength) != local.Size() {
		return VerifyMismatch, nil
	}
	return VerifyMatch, nil
}

func (p *S3) Cleanup(ctx context.Context, unit string, keep int) error {
	if keep <= 0 {
		return nil
	}

	var objects []types.Object
	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.cfg.Bucket),
		Prefix: aws.String(p.key(unit + "_")),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("%w: list s3://%s: %v", ErrCleanup, p.cfg.Bucket, err)
		}
		for _, obj := range page.Contents {
			if isArtifactFor(path.Base(aws.ToString(obj.Key)), unit) {
				objects = append(objects, obj)
			}
		}
	}

	sort.Slice(objects, func(i, j int) bool {
		return aws.ToTime(objects[i].LastModified).After(aws.ToTime(objects[j].LastModified))
	})

	for _, old := range objects[min(keep, len(objects)):] {
		_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(p.cfg.Bucket),
			Key:    old.Key,
		})
		if err != nil {
			return fmt.Errorf("%w: delete s3://%s/%s: %v", ErrCleanup, p.cfg.Bucket, aws.ToString(old.Key), err)
		}
		p.log.Info("removed remote artifact", "provider", "s3", "key", aws.ToString(old.Key))
	}
	return nil
}

func (p *S3) Test(ctx context.Context) error {
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(p.cfg.Bucket),
	})
	if err != nil {
		return fmt.Errorf("%w: head bucket %q: %v", ErrConnection, p.cfg.Bucket, err)
	}
	return nil
}

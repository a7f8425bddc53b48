package fs

import (
	"bytes"
	"context"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// S3Config is the configuration for an S3-compatible storage provider.
type S3Config struct {
	// Bucket to store files
	Bucket string `toml:"bucket"`
	// APIURL is an HTTP endpoint of the S3 API, empty for AWS itself
	APIURL string `toml:"api_url"`
	// Credentials
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	// CDNDomain is the public base URL of the bucket, used in rewritten feeds
	CDNDomain string `toml:"cdn_domain"`
}

// S3 implements object storage for S3-compatible providers.
type S3 struct {
	api       s3iface.S3API
	uploader  *s3manager.Uploader
	bucket    string
	cdnDomain string
}

func NewS3(c S3Config) (*S3, error) {
	if c.Bucket == "" {
		return nil, errors.New("s3 bucket can't be empty")
	}

	cdnDomain := c.CDNDomain
	if !strings.HasSuffix(cdnDomain, "/") {
		cdnDomain += "/"
	}

	cfg := aws.NewConfig().
		WithEndpoint(c.APIURL).
		WithRegion("us-east-1").
		WithS3ForcePathStyle(true).
		WithLogger(s3logger{})

	// Keys from the config file win; otherwise the SDK falls back to its
	// environment credential chain.
	if c.AccessKeyID != "" {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(c.AccessKeyID, c.SecretAccessKey, ""))
	}

	sess, err := session.NewSessionWithOptions(session.Options{Config: *cfg})
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize S3 session")
	}

	return &S3{
		api:       s3.New(sess),
		uploader:  s3manager.NewUploader(sess),
		bucket:    c.Bucket,
		cdnDomain: cdnDomain,
	}, nil
}

func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Size(ctx, key)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *S3) Size(ctx context.Context, key string) (int64, error) {
	resp, err := s.api.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		if awsErr, ok := err.(awserr.Error); ok {
			if awsErr.Code() == "NotFound" {
				return 0, os.ErrNotExist
			}
		}
		return 0, errors.Wrapf(err, "failed to head object: %s", key)
	}

	return aws.Int64Value(resp.ContentLength), nil
}

func (s *S3) PutBytes(ctx context.Context, key string, data []byte, contentType string) error {
	log.Debugf("uploading %d bytes to s3: %s", len(data), key)

	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to upload object: %s", key)
	}

	return nil
}

func (s *S3) PutFile(ctx context.Context, key string, localPath string, contentType string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "failed to open: %s", localPath)
	}
	defer file.Close()

	log.Debugf("uploading file %s to s3: %s", localPath, key)

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        file,
		ContentType: &contentType,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to upload file: %s", key)
	}

	return nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.api.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	return err
}

func (s *S3) List(ctx context.Context) ([]Object, error) {
	var objects []Object

	err := s.api.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			objects = append(objects, Object{
				Key:  aws.StringValue(obj.Key),
				Size: aws.Int64Value(obj.Size),
			})
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list bucket: %s", s.bucket)
	}

	return objects, nil
}

func (s *S3) URL(key string) string {
	return s.cdnDomain + key
}

// CheckBucket scans the bucket for keys left behind by previous bad writes:
// keys with a leading "/", keys containing "//" and zero-byte objects.
// Offending objects are deleted so they never surface as episodes.
func (s *S3) CheckBucket(ctx context.Context) error {
	log.Info("checking state of s3 bucket")

	objects, err := s.List(ctx)
	if err != nil {
		return err
	}

	if len(objects) == 0 {
		log.Info("no objects found in the bucket")
		return nil
	}

	for _, obj := range objects {
		reason := ""
		switch {
		case obj.Size == 0:
			reason = "object is empty"
		case !ValidKey(obj.Key):
			reason = "malformed key"
		}

		if reason == "" {
			continue
		}

		log.Warnf("deleting s3 object %q: %s", obj.Key, reason)
		if err := s.Delete(ctx, obj.Key); err != nil {
			log.WithError(err).Errorf("failed to delete s3 object: %s", obj.Key)
		}
	}

	return nil
}

type s3logger struct{}

func (s s3logger) Log(args ...interface{}) {
	log.Debug(args...)
}

// Package s3storage mirrors derivatives to an S3 compatible bucket.
package s3storage

import (
	"context"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/denismitr/respimg/internal/media"
	"github.com/denismitr/respimg/internal/storage"
	"github.com/pkg/errors"
	"io"
	"path"
	"regexp"
	"strings"
)

type Config struct {
	AccessKey        string
	AccessSecret     string
	AccessToken      string
	Region           string
	Endpoint         string
	Bucket           string
	S3ForcePathStyle bool
	EnableSSL        bool
}

type RemoteStorage struct {
	cfg      Config
	s3Config *aws.Config
}

func New(cfg Config) *RemoteStorage {
	s3Config := &aws.Config{
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.AccessSecret, cfg.AccessToken),
		Endpoint:         aws.String(cfg.Endpoint),
		Region:           aws.String(cfg.Region),
		DisableSSL:       aws.Bool(!cfg.EnableSSL),
		S3ForcePathStyle: aws.Bool(cfg.S3ForcePathStyle),
	}

	return &RemoteStorage{
		cfg:      cfg,
		s3Config: s3Config,
	}
}

// valid keys consist of the cache dir, an optional source dir, and a derivative name
var rxKey = regexp.MustCompile(`^` + media.CacheDirName + `/([\w ./-]+/)?[\w.-]+_\d+\.(png|jpe?g|webp)$`)

func isValidKey(key string) bool {
	return rxKey.MatchString(strings.ToLower(key)) && !strings.Contains(key, "..")
}

func (rs *RemoteStorage) Put(ctx context.Context, namespace, filename string, source io.Reader) (*storage.Item, error) {
	key := path.Join(namespace, filename)
	if !isValidKey(key) {
		return nil, errors.Wrapf(storage.ErrStorageFailed, "invalid key %s", key)
	}

	sess, err := rs.getSession()
	if err != nil {
		return nil, err
	}

	uploader := s3manager.NewUploader(sess)
	uploader.Concurrency = 1

	result, err := uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Body:        source,
		Bucket:      aws.String(rs.cfg.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType(filename)),
	})

	if err != nil {
		return nil, errors.Wrapf(
			storage.ErrStorageFailed,
			"could not upload file %s to bucket %s: %v",
			key, rs.cfg.Bucket, err,
		)
	}

	return &storage.Item{
		Path: rs.cfg.Bucket + "/" + key,
		URL:  result.Location,
	}, nil
}

func (rs *RemoteStorage) Exists(ctx context.Context, namespace, filename string) (bool, error) {
	sess, err := rs.getSession()
	if err != nil {
		return false, err
	}

	key := path.Join(namespace, filename)
	_, err = s3.New(sess).HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(rs.cfg.Bucket),
		Key:    aws.String(key),
	})

	if err != nil {
		if aErr, ok := err.(awserr.RequestFailure); ok && aErr.StatusCode() == 404 {
			return false, nil
		}

		return false, errors.Wrapf(storage.ErrStorageFailed, "could not check file %s in bucket %s: %v", key, rs.cfg.Bucket, err)
	}

	return true, nil
}

// Remove file from bucket
func (rs *RemoteStorage) Remove(ctx context.Context, namespace, filename string) error {
	sess, err := rs.getSession()
	if err != nil {
		return err
	}

	key := path.Join(namespace, filename)
	_, err = s3.New(sess).DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(rs.cfg.Bucket),
		Key:    aws.String(key),
	})

	if err != nil {
		return errors.Wrapf(storage.ErrStorageFailed, "could not remove file %s from bucket %s: %v", key, rs.cfg.Bucket, err)
	}

	return nil
}

func (rs *RemoteStorage) getSession() (*session.Session, error) {
	newSession, err := session.NewSession(rs.s3Config)
	if err != nil {
		return nil, errors.Wrapf(storage.ErrStorageFailed, "s3 session could not be created: %v", err)
	}

	return newSession, nil
}

func contentType(filename string) string {
	if m, err := media.GuessMimeFromExtension(path.Ext(filename)); err == nil {
		return m
	}

	return "application/octet-stream"
}

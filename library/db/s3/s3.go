// Package s3 backs up search snapshots as JSON objects in an S3 compatible bucket.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Laisky/tracker-search/library/search"
)

// Config of the bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Secure    bool
	// Region skips the bucket location lookup when set.
	Region string
}

// Store is a search.SnapshotStore writing one object per snapshot.
type Store struct {
	cli    *minio.Client
	bucket string
	prefix string
}

// New connects to the endpoint. It does not check that the bucket exists.
func New(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 endpoint and bucket are required")
	}

	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.Secure,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, errors.Wrap(err, "new minio client")
	}

	return &Store{
		cli:    cli,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (s *Store) objectKey(id string) string {
	return path.Join(s.prefix, id+".json")
}

// Save uploads snap as JSON.
func (s *Store) Save(ctx context.Context, snap *search.Snapshot) error {
	cnt, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}

	objkey := s.objectKey(snap.ID)
	if _, err = s.cli.PutObject(ctx,
		s.bucket,
		objkey,
		bytes.NewReader(cnt),
		int64(len(cnt)),
		minio.PutObjectOptions{
			ContentType: "application/json",
		},
	); err != nil {
		return errors.Wrapf(err, "put object %s", objkey)
	}
	return nil
}

// Load downloads a snapshot. Missing objects are search.ErrSnapshotNotFound.
func (s *Store) Load(ctx context.Context, id string) (*search.Snapshot, error) {
	objkey := s.objectKey(id)
	obj, err := s.cli.GetObject(ctx, s.bucket, objkey, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrapGetErr(err, objkey)
	}
	defer obj.Close() // nolint: errcheck

	cnt, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.wrapGetErr(err, objkey)
	}

	snap := new(search.Snapshot)
	if err = json.Unmarshal(cnt, snap); err != nil {
		return nil, errors.Wrapf(err, "unmarshal object %s", objkey)
	}
	return snap, nil
}

func (s *Store) wrapGetErr(err error, objkey string) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return errors.Wrapf(search.ErrSnapshotNotFound, "object %s", objkey)
	}
	return errors.Wrapf(err, "get object %s", objkey)
}

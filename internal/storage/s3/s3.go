// Package s3 serves an S3-compatible bucket as a RemoteStorage. Object keys are
// treated as slash separated paths and directories are synthesized from key prefixes.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dl-alexandre/pullsync/internal/storage"
	"github.com/dl-alexandre/pullsync/pkg/version"
)

// Config selects the bucket and credentials for a Storage.
type Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	Region    string
	Secure    bool
	Transport http.RoundTripper
}

// Storage is a minio-go backed RemoteStorage.
type Storage struct {
	client *minio.Client
	bucket string
	prefix string
}

// New creates a client for cfg. No request is made until the first call.
func New(cfg Config) (*Storage, error) {
	if cfg.Endpoint == "" {
		return nil, storage.Unavailable("connect", "", errors.New("s3 endpoint is required"))
	}
	if cfg.Bucket == "" {
		return nil, storage.Unavailable("connect", cfg.Endpoint, errors.New("s3 bucket is required"))
	}
	endpoint := cfg.Endpoint
	secure := cfg.Secure
	if rest, ok := strings.CutPrefix(endpoint, "https://"); ok {
		endpoint, secure = rest, true
	} else if rest, ok := strings.CutPrefix(endpoint, "http://"); ok {
		endpoint, secure = rest, false
	}
	endpoint = strings.TrimRight(endpoint, "/")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    secure,
		Region:    cfg.Region,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, storage.Unavailable("connect", cfg.Endpoint, err)
	}
	client.SetAppInfo(version.AppName, version.Version)
	return &Storage{client: client, bucket: cfg.Bucket, prefix: storage.JoinPath(cfg.Prefix)}, nil
}

func (s *Storage) key(p string) string {
	return storage.JoinPath(s.prefix, p)
}

// rel strips the configured prefix from an object key.
func (s *Storage) rel(key string) string {
	key = strings.TrimSuffix(key, "/")
	if s.prefix == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, s.prefix), "/")
}

func (s *Storage) ListRecursive(ctx context.Context, p string) ([]storage.Entry, error) {
	root := storage.JoinPath(p)
	listPrefix := s.key(root)
	if listPrefix != "" {
		listPrefix += "/"
	}

	var entries []storage.Entry
	dirs := make(map[string]struct{})
	addDirs := func(rel string) {
		for dir := path.Dir(rel); dir != "." && dir != root; dir = path.Dir(dir) {
			if _, seen := dirs[dir]; seen {
				return
			}
			dirs[dir] = struct{}{}
			entries = append(entries, storage.Entry{Path: dir, Kind: storage.KindDirectory})
		}
	}

	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    listPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, storage.Unavailable("list", p, translateError(p, obj.Err))
		}
		rel := s.rel(obj.Key)
		if rel == "" || rel == root {
			continue
		}
		addDirs(rel)
		if strings.HasSuffix(obj.Key, "/") {
			if _, seen := dirs[rel]; !seen {
				dirs[rel] = struct{}{}
				entries = append(entries, storage.Entry{Path: rel, Kind: storage.KindDirectory})
			}
			continue
		}
		entries = append(entries, storage.Entry{
			Path:       rel,
			Kind:       storage.KindFile,
			Size:       obj.Size,
			ModifiedAt: obj.LastModified.Unix(),
		})
	}
	return entries, nil
}

func (s *Storage) Exists(ctx context.Context, p string) (bool, error) {
	key := s.key(p)
	if key == "" {
		ok, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			return false, storage.Unavailable("stat", p, err)
		}
		return ok, nil
	}
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if !isNotFound(err) {
		return false, storage.Unavailable("stat", p, translateError(p, err))
	}
	return s.hasChildren(ctx, key)
}

func (s *Storage) hasChildren(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:  key + "/",
		MaxKeys: 1,
	}) {
		if obj.Err != nil {
			return false, storage.Unavailable("stat", key, obj.Err)
		}
		return true, nil
	}
	return false, nil
}

func (s *Storage) ReadStream(ctx context.Context, p string) (io.ReadCloser, error) {
	key := s.key(p)
	if key == "" {
		return nil, fmt.Errorf("%w: %q", storage.ErrNotReadable, p)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateError(p, err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the caller starts reading.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if isNotFound(err) {
			if ok, _ := s.hasChildren(ctx, key); ok {
				return nil, fmt.Errorf("%w: %q", storage.ErrNotReadable, p)
			}
		}
		return nil, translateError(p, err)
	}
	return obj, nil
}

func (s *Storage) ModifiedAt(ctx context.Context, p string) (int64, bool, error) {
	key := s.key(p)
	if key == "" {
		return 0, false, nil
	}
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			if ok, _ := s.hasChildren(ctx, key); ok {
				return 0, false, nil
			}
		}
		return 0, false, translateError(p, err)
	}
	if info.LastModified.IsZero() {
		return 0, false, nil
	}
	return info.LastModified.Unix(), true, nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || (resp.StatusCode == http.StatusNotFound && resp.Code != "NoSuchBucket")
}

func translateError(p string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchBucket":
		return storage.Unavailable("open", p, err)
	case isNotFound(err):
		return fmt.Errorf("%w: %q", storage.ErrNotFound, p)
	case resp.Code == "AccessDenied" || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %q: %w", storage.ErrPermissionDenied, p, err)
	case resp.Code == "SlowDown" || storage.IsTransientStatus(resp.StatusCode):
		return storage.Transient("read", p, err)
	default:
		return storage.Unavailable("read", p, err)
	}
}

// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package loader

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tombee/marketplace/pkg/catalog"
)

// S3Config locates catalog documents in an S3-compatible bucket.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Pattern   string `yaml:"pattern"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// objectStore is the subset of the minio client used by S3Source.
type objectStore interface {
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (*minio.Object, error)
}

// S3Source lists and decodes catalog documents from object storage.
type S3Source struct {
	store   objectStore
	cfg     S3Config
	loader  *Loader
	readAll func(ctx context.Context, key string) ([]byte, error)
}

// NewS3Source creates a source backed by a minio client.
func NewS3Source(cfg S3Config, l *Loader) (*S3Source, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 catalog source requires endpoint and bucket")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client: %w", err)
	}
	s := &S3Source{store: client, cfg: cfg, loader: l}
	s.readAll = s.getObject
	return s, nil
}

// Keys lists the object keys under the prefix that match the pattern and
// have a catalog file extension, sorted lexically.
func (s *S3Source) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	for obj := range s.store.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:    s.cfg.Prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("listing s3://%s/%s: %w", s.cfg.Bucket, s.cfg.Prefix, obj.Err)
		}
		if !isCatalogFile(obj.Key) {
			continue
		}
		if s.cfg.Pattern != "" {
			ok, err := doublestar.Match(s.cfg.Pattern, obj.Key)
			if err != nil {
				return nil, fmt.Errorf("invalid s3 key pattern %q: %w", s.cfg.Pattern, err)
			}
			if !ok {
				continue
			}
		}
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Load reads and decodes every matching object.
func (s *S3Source) Load(ctx context.Context) ([]catalog.Item, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}

	var items []catalog.Item
	for _, key := range keys {
		data, err := s.readAll(ctx, key)
		if err != nil {
			return nil, err
		}
		decoded, err := s.loader.Decode(ctx, key, data)
		if err != nil {
			return nil, err
		}
		s.loader.logger.Debug("loaded catalog object", "bucket", s.cfg.Bucket, "key", key, "items", len(decoded))
		items = append(items, decoded...)
	}
	return s.loader.validate(items)
}

func (s *S3Source) getObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.store.GetObject(ctx, s.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetching s3://%s/%s: %w", s.cfg.Bucket, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("s3 object vanished during load: s3://%s/%s", s.cfg.Bucket, key)
		}
		return nil, fmt.Errorf("reading s3://%s/%s: %w", s.cfg.Bucket, key, err)
	}
	return data, nil
}

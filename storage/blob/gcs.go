// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package blob

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/gorse-io/rftrain/config"
	"github.com/juju/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCS(ctx context.Context, cfg config.GCSConfig, bucket, prefix string) (*GCS, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
		opts = append(opts, option.WithoutAuthentication())
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return newGCS(client, bucket, prefix), nil
}

func newGCS(client *storage.Client, bucket, prefix string) *GCS {
	return &GCS{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

func (g *GCS) String() string {
	return fmt.Sprintf("gs://%s/%s", g.bucket, g.prefix)
}

func (g *GCS) Check(ctx context.Context) error {
	_, err := g.client.Bucket(g.bucket).Attrs(ctx)
	if errors.Is(err, storage.ErrBucketNotExist) {
		return errors.NewNotFound(err, g.bucket)
	}
	return errors.Trace(err)
}

func (g *GCS) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	path := objectName(g.prefix, name)
	r, err := g.client.Bucket(g.bucket).Object(path).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, errors.NewNotFound(err, path)
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	return r, nil
}

func (g *GCS) Create(ctx context.Context, name string) (Writer, error) {
	if err := g.Check(ctx); err != nil {
		return nil, err
	}
	path := objectName(g.prefix, name)
	// the object is not created if the context is cancelled before Close
	ctx, cancel := context.WithCancel(ctx)
	wc := g.client.Bucket(g.bucket).Object(path).NewWriter(ctx)
	return &gcsWriter{Writer: wc, cancel: cancel}, nil
}

type gcsWriter struct {
	*storage.Writer
	cancel context.CancelFunc
}

func (w *gcsWriter) Close() error {
	defer w.cancel()
	return errors.Trace(w.Writer.Close())
}

func (w *gcsWriter) Abort(_ error) error {
	w.cancel()
	_ = w.Writer.Close()
	return nil
}

func (g *GCS) List(ctx context.Context) ([]string, error) {
	var names []string
	query := &storage.Query{}
	if g.prefix != "" {
		query.Prefix = g.prefix + "/"
	}
	it := g.client.Bucket(g.bucket).Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, errors.Trace(err)
		}
		names = append(names, trimPrefix(g.prefix, attrs.Name))
	}
	return names, nil
}


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
	"net/url"
	"strings"

	"github.com/gorse-io/rftrain/config"
	"github.com/juju/errors"
)

// Store is a flat directory of named files.
type Store interface {
	fmt.Stringer
	// Check returns an error if the directory does not exist.
	Check(ctx context.Context) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Create returns a writer for a new file. The file becomes visible only after the
	// writer is closed successfully.
	Create(ctx context.Context, name string) (Writer, error)
	// List returns the names of committed files.
	List(ctx context.Context) ([]string, error)
}

// Writer writes a file. Close commits the file and Abort discards it.
type Writer interface {
	io.WriteCloser
	Abort(cause error) error
}

// NewStore opens the directory at location. A plain path or a file:// URL selects the
// local filesystem. s3://, gs:// and azblob:// select object storage, where the host is the
// bucket (or container) and the path is the prefix of object names.
func NewStore(ctx context.Context, location string, cfg config.StorageConfig) (Store, error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// plain paths, including Windows drive letters
		return NewPOSIX(location), nil
	}
	prefix := strings.Trim(u.Path, "/")
	switch u.Scheme {
	case "file":
		return NewPOSIX(u.Path), nil
	case "s3":
		return NewS3(cfg.S3, u.Host, prefix)
	case "gs":
		return NewGCS(ctx, cfg.GCS, u.Host, prefix)
	case "azblob":
		return NewAzureBlob(cfg.Azure, u.Host, prefix)
	default:
		return nil, errors.NotSupportedf("storage scheme %s", u.Scheme)
	}
}

// pipeWriter streams writes to an upload running in the background.
type pipeWriter struct {
	*io.PipeWriter
	done chan struct{}
	err  error
}

// newPipeWriter starts upload with the read side of a pipe.
func newPipeWriter(upload func(r io.Reader) error) *pipeWriter {
	pr, pw := io.Pipe()
	w := &pipeWriter{PipeWriter: pw, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		w.err = upload(pr)
		if w.err != nil {
			// unblock writers
			_ = pr.CloseWithError(w.err)
		} else {
			_ = pr.Close()
		}
	}()
	return w
}

func (w *pipeWriter) Close() error {
	if err := w.PipeWriter.Close(); err != nil {
		return errors.Trace(err)
	}
	<-w.done
	return errors.Trace(w.err)
}

func (w *pipeWriter) Abort(cause error) error {
	if cause == nil {
		cause = errors.New("upload aborted")
	}
	_ = w.PipeWriter.CloseWithError(cause)
	<-w.done
	return nil
}

func objectName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func trimPrefix(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return strings.TrimPrefix(strings.TrimPrefix(name, prefix), "/")
}

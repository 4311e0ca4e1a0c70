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
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorse-io/rftrain/base/log"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

const (
	tempPattern = ".tmp-*"
	// fileMode is the mode of committed files. Temp files are created owner-only.
	fileMode = 0644
)

// POSIX stores files in a local directory. The directory is never created.
type POSIX struct {
	dir string
}

func NewPOSIX(dir string) *POSIX {
	return &POSIX{dir: dir}
}

func (p *POSIX) String() string {
	return p.dir
}

func (p *POSIX) Check(_ context.Context) error {
	info, err := os.Stat(p.dir)
	if os.IsNotExist(err) {
		return errors.NewNotFound(err, p.dir)
	} else if err != nil {
		return errors.Trace(err)
	}
	if !info.IsDir() {
		return errors.NotValidf("directory %s", p.dir)
	}
	return nil
}

func (p *POSIX) Open(_ context.Context, name string) (io.ReadCloser, error) {
	fullPath := filepath.Join(p.dir, name)
	file, err := os.Open(fullPath)
	if os.IsNotExist(err) {
		return nil, errors.NewNotFound(err, fullPath)
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	return file, nil
}

func (p *POSIX) Create(ctx context.Context, name string) (Writer, error) {
	fullPath := filepath.Join(p.dir, name)
	if err := p.Check(ctx); err != nil {
		return nil, err
	}
	// write to a temp file in the same directory, then rename
	file, err := os.CreateTemp(filepath.Dir(fullPath), "."+filepath.Base(fullPath)+tempPattern)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &posixWriter{File: file, path: fullPath}, nil
}

func (p *POSIX) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

type posixWriter struct {
	*os.File
	path string
}

func (w *posixWriter) Close() error {
	if err := w.File.Chmod(fileMode); err != nil {
		_ = w.Abort(err)
		return errors.Trace(err)
	}
	if err := w.File.Sync(); err != nil {
		_ = w.Abort(err)
		return errors.Trace(err)
	}
	if err := w.File.Close(); err != nil {
		_ = os.Remove(w.File.Name())
		return errors.Trace(err)
	}
	if err := os.Rename(w.File.Name(), w.path); err != nil {
		_ = os.Remove(w.File.Name())
		return errors.Trace(err)
	}
	return nil
}

func (w *posixWriter) Abort(cause error) error {
	log.Logger().Debug("discard temp file", zap.String("file", w.File.Name()), zap.Error(cause))
	_ = w.File.Close()
	return errors.Trace(os.Remove(w.File.Name()))
}

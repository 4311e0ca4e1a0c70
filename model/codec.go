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

package model

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/gorse-io/rftrain/common/encoding"
	"github.com/gorse-io/rftrain/storage/blob"
	"github.com/juju/errors"
)

// Decoder reads the payload of a model file after its header.
type Decoder func(r io.Reader) (Classifier, error)

var (
	decodersLock sync.RWMutex
	decoders     = map[string]Decoder{}
)

// Register binds a model file header to a decoder. It panics if the header is taken.
func Register(header string, decode Decoder) {
	decodersLock.Lock()
	defer decodersLock.Unlock()
	if _, exist := decoders[header]; exist {
		panic(fmt.Sprintf("model codec %s registered twice", header))
	}
	decoders[header] = decode
}

func MarshalModel(w io.Writer, m Classifier) error {
	// write header
	if err := encoding.WriteString(w, m.Header()); err != nil {
		return errors.Trace(err)
	}
	return m.Marshal(w)
}

func UnmarshalModel(r io.Reader) (Classifier, error) {
	// read header
	header, err := encoding.ReadString(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	decodersLock.RLock()
	decode, exist := decoders[header]
	decodersLock.RUnlock()
	if !exist {
		return nil, errors.NotSupportedf("model %q", header)
	}
	m, err := decode(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return m, nil
}

// Save writes a model file into a directory. An existing file is left untouched unless
// the whole model is written.
func Save(ctx context.Context, store blob.Store, name string, m Classifier) error {
	w, err := store.Create(ctx, name)
	if err != nil {
		return errors.Annotatef(err, "failed to create %s in %s", name, store)
	}
	buf := bufio.NewWriter(w)
	if err = MarshalModel(buf, m); err == nil {
		err = buf.Flush()
	}
	if err != nil {
		_ = w.Abort(err)
		return errors.Annotatef(err, "failed to write %s", name)
	}
	if err = w.Close(); err != nil {
		return errors.Annotatef(err, "failed to commit %s", name)
	}
	return nil
}

// Load reads a model file from a directory.
func Load(ctx context.Context, store blob.Store, name string) (Classifier, error) {
	r, err := store.Open(ctx, name)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open %s in %s", name, store)
	}
	defer r.Close()
	m, err := UnmarshalModel(bufio.NewReader(r))
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read %s", name)
	}
	return m, nil
}

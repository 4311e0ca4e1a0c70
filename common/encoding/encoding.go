// Copyright 2022 gorse Project Authors
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

package encoding

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"

	"github.com/juju/errors"
)

const (
	// maxBytes bounds the payload announced by a length prefix.
	maxBytes = 1 << 30
	// chunkLength is the number of slice elements read at a time.
	chunkLength = 1 << 16
)

// Fixed is the set of element types that can be written as raw little-endian slices.
type Fixed interface {
	~int32 | ~int64 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// WriteSlice writes a length-prefixed slice to byte stream.
func WriteSlice[T Fixed](w io.Writer, s []T) error {
	if err := binary.Write(w, binary.LittleEndian, int64(len(s))); err != nil {
		return errors.Trace(err)
	}
	if len(s) == 0 {
		return nil
	}
	return errors.Trace(binary.Write(w, binary.LittleEndian, s))
}

// ReadSlice reads a length-prefixed slice from byte stream. Elements are read in chunks,
// so a stream shorter than its prefix fails before the whole slice is allocated.
func ReadSlice[T Fixed](r io.Reader) ([]T, error) {
	var zero T
	length, err := readLength(r, int64(binary.Size(zero)))
	if err != nil {
		return nil, err
	}
	s := make([]T, 0, min(length, chunkLength))
	for int64(len(s)) < length {
		chunk := make([]T, min(length-int64(len(s)), chunkLength))
		if err = binary.Read(r, binary.LittleEndian, chunk); err != nil {
			return nil, errors.Trace(err)
		}
		s = append(s, chunk...)
	}
	return s, nil
}

// WriteString writes string to byte stream.
func WriteString(w io.Writer, s string) error {
	return WriteBytes(w, []byte(s))
}

// ReadString reads string from byte stream.
func ReadString(r io.Reader) (string, error) {
	data, err := ReadBytes(r)
	return string(data), err
}

// WriteBytes writes bytes to byte stream.
func WriteBytes(w io.Writer, s []byte) error {
	err := binary.Write(w, binary.LittleEndian, int32(len(s)))
	if err != nil {
		return errors.Trace(err)
	}
	n, err := w.Write(s)
	if err != nil {
		return errors.Trace(err)
	} else if n != len(s) {
		return errors.New("fail to write bytes")
	}
	return nil
}

// ReadBytes reads bytes from byte stream.
func ReadBytes(r io.Reader) ([]byte, error) {
	var length int32
	err := binary.Read(r, binary.LittleEndian, &length)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if length < 0 || length > maxBytes {
		return nil, errors.Errorf("invalid length %d", length)
	}
	data := make([]byte, length)
	if _, err = io.ReadFull(r, data); err != nil {
		return nil, errors.Annotate(err, "fail to read bytes")
	}
	return data, nil
}

// WriteGob writes object to byte stream.
func WriteGob(w io.Writer, v interface{}) error {
	buffer := bytes.NewBuffer(nil)
	encoder := gob.NewEncoder(buffer)
	err := encoder.Encode(v)
	if err != nil {
		return errors.Trace(err)
	}
	return WriteBytes(w, buffer.Bytes())
}

// ReadGob read object from byte stream.
func ReadGob(r io.Reader, v interface{}) error {
	data, err := ReadBytes(r)
	if err != nil {
		return err
	}
	buffer := bytes.NewBuffer(data)
	decoder := gob.NewDecoder(buffer)
	return errors.Trace(decoder.Decode(v))
}

// readLength reads the element count of a slice whose elements take size bytes.
func readLength(r io.Reader, size int64) (int64, error) {
	var length int64
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return 0, errors.Trace(err)
	}
	if length < 0 || length > maxBytes/size {
		return 0, errors.Errorf("invalid length %d", length)
	}
	return length, nil
}

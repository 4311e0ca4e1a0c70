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
	"testing"

	"github.com/fsouza/fake-gcs-server/fakestorage"
	"github.com/juju/errors"
	"github.com/stretchr/testify/suite"
)

type GCSTestSuite struct {
	suite.Suite
	server *fakestorage.Server
	client *GCS
}

func (s *GCSTestSuite) SetupTest() {
	var err error
	s.server, err = fakestorage.NewServerWithOptions(fakestorage.Options{NoListener: true})
	s.NoError(err)
	s.server.CreateBucketWithOpts(fakestorage.CreateBucketOpts{Name: "rftrain-test"})
	s.client = newGCS(s.server.Client(), "rftrain-test", "models")
}

func (s *GCSTestSuite) TearDownTest() {
	s.server.Stop()
}

func (s *GCSTestSuite) TestReadWrite() {
	ctx := context.Background()
	s.NoError(s.client.Check(ctx))
	s.Equal("gs://rftrain-test/models", s.client.String())

	// create file
	w, err := s.client.Create(ctx, "test.txt")
	s.NoError(err)
	_, err = w.Write([]byte("hello"))
	s.NoError(err)
	s.NoError(w.Close())

	// list files
	names, err := s.client.List(ctx)
	s.NoError(err)
	s.Equal([]string{"test.txt"}, names)

	// read file
	r, err := s.client.Open(ctx, "test.txt")
	s.NoError(err)
	data, err := io.ReadAll(r)
	s.NoError(err)
	s.Equal("hello", string(data))
	s.NoError(r.Close())
}

func (s *GCSTestSuite) TestNotFound() {
	ctx := context.Background()
	_, err := s.client.Open(ctx, "digits.csv")
	s.True(errors.Is(err, errors.NotFound))

	missing := newGCS(s.server.Client(), "missing-bucket", "")
	s.True(errors.Is(missing.Check(ctx), errors.NotFound))
	_, err = missing.Create(ctx, "model")
	s.Error(err)
}

func TestGCS(t *testing.T) {
	suite.Run(t, new(GCSTestSuite))
}

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

package forest

import (
	"io"

	"github.com/gorse-io/rftrain/common/encoding"
	"github.com/gorse-io/rftrain/model"
	"github.com/juju/errors"
)

func init() {
	model.Register(Header, func(r io.Reader) (model.Classifier, error) {
		return Unmarshal(r)
	})
}

type forestMeta struct {
	NumFeatures int
	NumTrees    int
	OOBScore    float32
	HasOOB      bool
}

// Marshal writes hyperparameters, class names and forest metadata as gob values,
// then the node arrays of every tree.
func (f *Forest) Marshal(w io.Writer) error {
	if err := encoding.WriteGob(w, f.Params); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteGob(w, f.classes); err != nil {
		return errors.Trace(err)
	}
	meta := forestMeta{
		NumFeatures: f.numFeatures,
		NumTrees:    len(f.trees),
		OOBScore:    f.oobScore,
		HasOOB:      f.hasOOB,
	}
	if err := encoding.WriteGob(w, meta); err != nil {
		return errors.Trace(err)
	}
	for _, tree := range f.trees {
		if err := tree.marshal(w); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (t *Tree) marshal(w io.Writer) error {
	if err := encoding.WriteSlice(w, t.Feature); err != nil {
		return err
	}
	if err := encoding.WriteSlice(w, t.Threshold); err != nil {
		return err
	}
	if err := encoding.WriteSlice(w, t.Left); err != nil {
		return err
	}
	if err := encoding.WriteSlice(w, t.Right); err != nil {
		return err
	}
	return encoding.WriteSlice(w, t.Value)
}

// Unmarshal reads a forest written by Marshal, without the model file header.
func Unmarshal(r io.Reader) (*Forest, error) {
	f := &Forest{}
	if err := encoding.ReadGob(r, &f.Params); err != nil {
		return nil, errors.Trace(err)
	}
	if err := encoding.ReadGob(r, &f.classes); err != nil {
		return nil, errors.Trace(err)
	}
	var meta forestMeta
	if err := encoding.ReadGob(r, &meta); err != nil {
		return nil, errors.Trace(err)
	}
	if len(f.classes) == 0 || meta.NumFeatures < 1 || meta.NumTrees < 1 {
		return nil, errors.NotValidf("forest with %d classes, %d features and %d trees",
			len(f.classes), meta.NumFeatures, meta.NumTrees)
	}
	f.numFeatures = meta.NumFeatures
	f.oobScore, f.hasOOB = meta.OOBScore, meta.HasOOB
	f.trees = make([]*Tree, meta.NumTrees)
	for i := range f.trees {
		tree, err := unmarshalTree(r, len(f.classes), f.numFeatures)
		if err != nil {
			return nil, errors.Annotatef(err, "tree %d", i)
		}
		f.trees[i] = tree
	}
	return f, nil
}

func unmarshalTree(r io.Reader, numClasses, numFeatures int) (*Tree, error) {
	t := newTree(numClasses)
	var err error
	if t.Feature, err = encoding.ReadSlice[int32](r); err != nil {
		return nil, errors.Trace(err)
	}
	if t.Threshold, err = encoding.ReadSlice[float32](r); err != nil {
		return nil, errors.Trace(err)
	}
	if t.Left, err = encoding.ReadSlice[int32](r); err != nil {
		return nil, errors.Trace(err)
	}
	if t.Right, err = encoding.ReadSlice[int32](r); err != nil {
		return nil, errors.Trace(err)
	}
	if t.Value, err = encoding.ReadSlice[float32](r); err != nil {
		return nil, errors.Trace(err)
	}
	return t, t.check(numFeatures)
}

// check rejects node arrays that would make prediction index out of range or loop.
func (t *Tree) check(numFeatures int) error {
	n := len(t.Feature)
	if n == 0 || len(t.Threshold) != n || len(t.Left) != n || len(t.Right) != n || len(t.Value) != n*t.numClasses {
		return errors.NotValidf("tree arrays")
	}
	for node := 0; node < n; node++ {
		if t.Feature[node] == leaf {
			continue
		}
		if t.Feature[node] < 0 || int(t.Feature[node]) >= numFeatures {
			return errors.NotValidf("feature %d of node %d", t.Feature[node], node)
		}
		// children are always created after their parent
		for _, child := range []int32{t.Left[node], t.Right[node]} {
			if int(child) <= node || int(child) >= n {
				return errors.NotValidf("child %d of node %d", child, node)
			}
		}
	}
	return nil
}

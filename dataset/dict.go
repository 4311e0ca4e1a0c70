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

package dataset

import (
	"sort"
	"strconv"

	"github.com/samber/lo"
)

// FreqDict interns labels and counts how often each one occurs.
type FreqDict struct {
	si  map[string]int32
	is  []string
	cnt []int
}

func NewFreqDict() (d *FreqDict) {
	d = &FreqDict{map[string]int32{}, []string{}, []int{}}
	return
}

func (d *FreqDict) Count() int {
	return len(d.is)
}

// Id returns the id of s and counts one occurrence.
func (d *FreqDict) Id(s string) (y int32) {
	if y, ok := d.si[s]; ok {
		d.cnt[y]++
		return y
	}

	y = int32(len(d.is))
	d.si[s] = y
	d.is = append(d.is, s)
	d.cnt = append(d.cnt, 1)
	return
}

// NotCount returns the id of s without counting an occurrence.
func (d *FreqDict) NotCount(s string) (y int32) {
	if y, ok := d.si[s]; ok {
		return y
	}

	y = int32(len(d.is))
	d.si[s] = y
	d.is = append(d.is, s)
	d.cnt = append(d.cnt, 0)
	return
}

func (d *FreqDict) String(id int32) (s string, ok bool) {
	if id < 0 || int(id) >= len(d.is) {
		return "", false
	}
	return d.is[id], true
}

func (d *FreqDict) Freq(id int32) int {
	if id < 0 || int(id) >= len(d.cnt) {
		return 0
	}
	return d.cnt[id]
}

// Strings returns every label in id order.
func (d *FreqDict) Strings() []string {
	return append([]string(nil), d.is...)
}

// SortLabels sorts labels in place. Labels are compared as numbers when every
// label is numeric, so "10" follows "9". Otherwise they are compared as strings.
func SortLabels(labels []string) {
	values := make([]float64, len(labels))
	numeric := lo.EveryBy(lo.Range(len(labels)), func(i int) bool {
		v, err := strconv.ParseFloat(labels[i], 64)
		values[i] = v
		return err == nil
	})
	if !numeric {
		sort.Strings(labels)
		return
	}
	sort.Sort(numericLabels{labels: labels, values: values})
}

type numericLabels struct {
	labels []string
	values []float64
}

func (n numericLabels) Len() int {
	return len(n.labels)
}

func (n numericLabels) Less(i, j int) bool {
	if n.values[i] != n.values[j] {
		return n.values[i] < n.values[j]
	}
	return n.labels[i] < n.labels[j]
}

func (n numericLabels) Swap(i, j int) {
	n.labels[i], n.labels[j] = n.labels[j], n.labels[i]
	n.values[i], n.values[j] = n.values[j], n.values[i]
}

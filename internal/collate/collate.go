// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

// Package collate orders JSON view keys the way CouchDB does: null, false,
// true, numbers, strings (Unicode collation), arrays, then objects.
package collate

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

var (
	collatorMu = new(sync.Mutex)
	collator   = collate.New(language.Und)
)

// CompareString returns an integer comparing two strings according to the
// root Unicode collation.
func CompareString(a, b string) int {
	collatorMu.Lock()
	defer collatorMu.Unlock()
	return collator.CompareString(a, b)
}

const (
	typeNull = iota
	typeFalse
	typeTrue
	typeNumber
	typeString
	typeArray
	typeObject
)

func rank(v json.RawMessage) int {
	switch v[0] {
	case 'n':
		return typeNull
	case 'f':
		return typeFalse
	case 't':
		return typeTrue
	case '"':
		return typeString
	case '[':
		return typeArray
	case '{':
		return typeObject
	}
	return typeNumber
}

// CompareJSON returns an integer comparing two raw JSON values. A missing
// (empty) value sorts before anything else.
func CompareJSON(a, b json.RawMessage) int {
	a, b = bytes.TrimSpace(a), bytes.TrimSpace(b)
	if bytes.Equal(a, b) {
		return 0
	}
	if len(a) == 0 {
		return -1
	}
	if len(b) == 0 {
		return 1
	}
	ar, br := rank(a), rank(b)
	if ar != br {
		return ar - br
	}
	switch ar {
	case typeNumber:
		av, _ := strconv.ParseFloat(string(a), 64)
		bv, _ := strconv.ParseFloat(string(b), 64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case typeString:
		var as, bs string
		_ = json.Unmarshal(a, &as)
		_ = json.Unmarshal(b, &bs)
		return CompareString(as, bs)
	case typeArray:
		var av, bv []json.RawMessage
		_ = json.Unmarshal(a, &av)
		_ = json.Unmarshal(b, &bv)
		for i := 0; i < len(av) && i < len(bv); i++ {
			if r := CompareJSON(av[i], bv[i]); r != 0 {
				return r
			}
		}
		return len(av) - len(bv)
	case typeObject:
		av, bv := sortedObject(a), sortedObject(b)
		for i := 0; i < len(av) && i < len(bv); i++ {
			if r := CompareString(av[i].key, bv[i].key); r != 0 {
				return r
			}
			if r := CompareJSON(av[i].value, bv[i].value); r != 0 {
				return r
			}
		}
		return len(av) - len(bv)
	}
	return 0
}

type member struct {
	key   string
	value json.RawMessage
}

// sortedObject returns the members of a JSON object ordered by key. Go maps
// do not preserve the member order of the source document, so keys are
// sorted to keep the comparison stable.
func sortedObject(raw json.RawMessage) []member {
	var o map[string]json.RawMessage
	_ = json.Unmarshal(raw, &o)
	members := make([]member, 0, len(o))
	for k, v := range o {
		members = append(members, member{key: k, value: v})
	}
	sort.Slice(members, func(i, j int) bool {
		return CompareString(members[i].key, members[j].key) < 0
	})
	return members
}

// Keys is a list of JSON keys which sorts in CouchDB collation order.
type Keys []json.RawMessage

var _ sort.Interface = Keys{}

func (k Keys) Len() int           { return len(k) }
func (k Keys) Less(i, j int) bool { return CompareJSON(k[i], k[j]) < 0 }
func (k Keys) Swap(i, j int)      { k[i], k[j] = k[j], k[i] }

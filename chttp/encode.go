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

package chttp

import (
	"net/url"
	"strings"
)

// docPrefixes are the document ID prefixes whose slash is part of the path.
var docPrefixes = [...]string{"_design/", "_local/"}

// EncodeDocID encodes a document ID for use in a URL path. The slash of a
// _design/ or _local/ prefix is kept; any other slash is escaped.
func EncodeDocID(docID string) string {
	for _, prefix := range docPrefixes {
		if rest, ok := strings.CutPrefix(docID, prefix); ok {
			return prefix + EncodeSegment(rest)
		}
	}
	return EncodeSegment(docID)
}

// EncodeSegment escapes a database, design document, view or attachment
// name as a single path segment. Spaces become %20, and '/' and '+' are
// escaped.
func EncodeSegment(name string) string {
	return strings.ReplaceAll(url.QueryEscape(name), "+", "%20")
}

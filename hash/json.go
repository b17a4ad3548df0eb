// Copyright 2016 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hash

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Canonicalize renders v as compact, deterministic JSON: object keys are
// sorted in ASCII byte order at every nesting level, arrays keep their
// original order, and numbers are rendered in their shortest, unambiguous
// form with no trailing ".0" for integral values.
//
// This is the one serializer the build is frozen on (spec note in §9):
// every process computing H1 over the same row contents, on any
// architecture, must produce byte-identical output here.
func Canonicalize(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		return writeCanonicalString(buf, t)
	case json.Number:
		return writeCanonicalNumber(buf, t)
	case int:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
		return nil
	case int32:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
		return nil
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
		return nil
	case uint64:
		buf.WriteString(strconv.FormatUint(t, 10))
		return nil
	case float32:
		return writeCanonicalFloat(buf, float64(t))
	case float64:
		return writeCanonicalFloat(buf, t)
	case map[string]interface{}:
		return writeCanonicalObject(buf, t)
	case []interface{}:
		return writeCanonicalArray(buf, t)
	default:
		return fmt.Errorf("hash: canonicalize: unsupported type %T", v)
	}
}

func writeCanonicalObject(buf *bytes.Buffer, m map[string]interface{}) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys) // ASCII byte order, per spec §4.1.

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonicalString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeCanonical(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeCanonicalArray(buf *bytes.Buffer, a []interface{}) error {
	buf.WriteByte('[')
	for i, v := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonical(buf, v); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

// writeCanonicalString escapes s per RFC 8259, matching encoding/json's
// string escaping but with HTML-sensitive characters ('<', '>', '&') left
// unescaped so the output matches a plain RFC 8259 encoder byte-for-byte.
func writeCanonicalString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false) // match a bare RFC 8259 encoder, not Go's HTML-safe default.
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("hash: canonicalize string: %w", err)
	}
	// Encode appends a trailing newline; strip it.
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}

// writeCanonicalNumber re-emits a json.Number's original text, trimming a
// trailing ".0" so whole-number floats match the integer-shortest-form
// rule even when they arrived already as decoded JSON text.
func writeCanonicalNumber(buf *bytes.Buffer, n json.Number) error {
	s := n.String()
	if f, err := n.Float64(); err == nil && f == float64(int64(f)) && !bytes.ContainsAny([]byte(s), "eE") {
		if i, err := n.Int64(); err == nil {
			buf.WriteString(strconv.FormatInt(i, 10))
			return nil
		}
		if dot := strings.IndexByte(s, '.'); dot >= 0 && strings.Trim(s[dot+1:], "0") == "" {
			if i, err := strconv.ParseInt(s[:dot], 10, 64); err == nil {
				buf.WriteString(strconv.FormatInt(i, 10))
				return nil
			}
		}
	}
	buf.WriteString(s)
	return nil
}

func writeCanonicalFloat(buf *bytes.Buffer, f float64) error {
	if f == float64(int64(f)) {
		buf.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

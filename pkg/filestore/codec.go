/*
SPDX-FileCopyrightText: Copyright (c) 2026 Together Coding. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

package filestore

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// DirMark is the sentinel filename kept inside every directory so that empty
// directories survive in the file list.
const DirMark = "_"

// DirMarkContent is stored as the mark's content. The KV store rejects empty
// values, so a single space stands in for "no content".
const DirMarkContent = " "

// EncodeName encodes a filename for storage as a sorted-set member.
// The name is URL-quoted first so the base64 input is plain ASCII, then
// base64url-encoded so it is safe inside key templates. The encoding carries
// no meaning; it only has to round-trip exactly.
func EncodeName(name string) string {
	quoted := url.PathEscape(name)
	return base64.URLEncoding.EncodeToString([]byte(quoted))
}

// DecodeName reverses EncodeName.
func DecodeName(enc string) (string, error) {
	quoted, err := base64.URLEncoding.DecodeString(enc)
	if err != nil {
		return "", fmt.Errorf("decode filename %q: %w", enc, err)
	}
	name, err := url.PathUnescape(string(quoted))
	if err != nil {
		return "", fmt.Errorf("unquote filename %q: %w", enc, err)
	}
	return name, nil
}

// DecodeNames decodes a slice of encoded filenames, skipping entries that do
// not decode. Corrupt members cannot be produced by this server; tolerating
// them keeps a listing usable.
func DecodeNames(encs []string) []string {
	names := make([]string, 0, len(encs))
	for _, enc := range encs {
		name, err := DecodeName(enc)
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	return names
}

// HashedName returns the md5 hex digest of an encoded filename. Content keys
// embed the digest instead of the encoded name to keep key length bounded.
func HashedName(encName string) string {
	sum := md5.Sum([]byte(encName))
	return hex.EncodeToString(sum[:])
}

// ParentDir returns the directory part of a slash-separated filename, or ""
// for a top-level name.
func ParentDir(name string) string {
	idx := strings.LastIndex(name, "/")
	if idx < 0 {
		return ""
	}
	return name[:idx]
}

// DirMarkName returns the mark filename for dir ("a/b" -> "a/b/_").
// An empty dir yields the bare mark.
func DirMarkName(dir string) string {
	if dir == "" {
		return DirMark
	}
	return dir + "/" + DirMark
}

// IsDirMark reports whether a decoded filename is a directory mark.
func IsDirMark(name string) bool {
	return name == DirMark || strings.HasSuffix(name, "/"+DirMark)
}

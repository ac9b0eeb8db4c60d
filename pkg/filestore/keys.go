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
	"fmt"
	"strings"
)

// TemplateOwner is the pseudo participant id that owns template bulk
// objects in the object store.
const TemplateOwner int64 = 0

// Keys derives every KV and object-store key for one lesson. All realtime
// state lives under the `crs:{course}:{lesson}:` prefix; object keys live
// under `/course/{course}/{lesson}`.
type Keys struct {
	CourseID int64
	LessonID int64
}

// NewKeys returns the key derivation for (courseID, lessonID).
func NewKeys(courseID, lessonID int64) Keys {
	return Keys{CourseID: courseID, LessonID: lessonID}
}

func (k Keys) prefix() string {
	return fmt.Sprintf("crs:%d:%d:", k.CourseID, k.LessonID)
}

// TemplateList is the sorted set of encoded template filenames, scored by size.
func (k Keys) TemplateList() string {
	return k.prefix() + "template:files"
}

// TemplateContent is the content key for one template file.
func (k Keys) TemplateContent(encName string) string {
	return k.prefix() + "template:files:" + HashedName(encName)
}

// FileList is the sorted set of a participant's encoded filenames, scored by size.
func (k Keys) FileList(ptcID int64) string {
	return fmt.Sprintf("%s%d:files", k.prefix(), ptcID)
}

// FileContent is the content key for one participant file. The value is
// either the inline content or a bulk object-store key.
func (k Keys) FileContent(ptcID int64, encName string) string {
	return fmt.Sprintf("%s%d:files:%s", k.prefix(), ptcID, HashedName(encName))
}

// TotalSize is the participant's current-total-size counter.
func (k Keys) TotalSize(ptcID int64) string {
	return fmt.Sprintf("%s%d:size", k.prefix(), ptcID)
}

// CursorHash is the per-viewer hash of last cursor positions.
func (k Keys) CursorHash(ptcID int64) string {
	return fmt.Sprintf("%s%d:csr:last", k.prefix(), ptcID)
}

// CursorField is the cursor hash field for (owner, file). Filenames may
// contain dots; the field is only ever matched exactly, never parsed back.
func (k Keys) CursorField(ownerID int64, file string) string {
	return fmt.Sprintf("%d.%s", ownerID, file)
}

// MonitorEntry is the short-lived correlation entry for an inbound frame uuid.
func MonitorEntry(uuid string) string {
	return "monitor:" + uuid
}

func (k Keys) objectPrefix() string {
	return fmt.Sprintf("/course/%d/%d", k.CourseID, k.LessonID)
}

// TemplateArchive is the object key of the lesson's template archive.
func (k Keys) TemplateArchive() string {
	return k.objectPrefix() + "/template.zip"
}

// ProjectArchive is the object key of a participant's archived project.
func (k Keys) ProjectArchive(ptcID int64) string {
	return fmt.Sprintf("%s/project/%d.zip", k.objectPrefix(), ptcID)
}

// BulkFile is the object key for one oversized file's content.
func (k Keys) BulkFile(ptcID int64, encName string) string {
	return fmt.Sprintf("%s/bulk/%d/%s", k.objectPrefix(), ptcID, encName)
}

// BulkPrefix is the object key prefix of one participant's bulk files.
// Deletion only touches objects under the deleting participant's own prefix;
// template bulk objects (TemplateOwner) are shared across projects.
func (k Keys) BulkPrefix(ptcID int64) string {
	return fmt.Sprintf("%s/bulk/%d/", k.objectPrefix(), ptcID)
}

// IsBulkRef reports whether a stored content value is an object-store
// reference rather than inline content.
func (k Keys) IsBulkRef(value string) bool {
	return strings.HasPrefix(value, k.objectPrefix()+"/bulk/")
}

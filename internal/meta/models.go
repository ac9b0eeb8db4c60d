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

package meta

import "time"

// Participant roles.
const (
	RoleTeacher = "TEACHER"
	RoleStudent = "STUDENT"
)

// Participant is a user's membership in a course, the unit of
// authorization. Unique per (course, user).
type Participant struct {
	ID       int64  `json:"id"`
	CourseID int64  `json:"courseId"`
	UserID   int64  `json:"userId"`
	Role     string `json:"role"`
	Nickname string `json:"nickname"`
	Active   bool   `json:"active"`
}

// IsTeacher reports whether the participant holds the teacher role.
func (p Participant) IsTeacher() bool { return p.Role == RoleTeacher }

// Lesson is the scope of every realtime interaction. TemplateArchiveKey
// points at the lesson's template ZIP in the object store, if any.
type Lesson struct {
	ID                 int64  `json:"id"`
	CourseID           int64  `json:"courseId"`
	TemplateArchiveKey string `json:"templateArchiveKey"`
}

// Project is a participant's editable file tree within a lesson. At most
// one per (lesson, participant).
type Project struct {
	ID               int64     `json:"id"`
	LessonID         int64     `json:"lessonId"`
	ParticipantID    int64     `json:"participantId"`
	RecentActivityAt time.Time `json:"recentActivityAt"`
	Active           bool      `json:"active"`
	TemplateApplied  bool      `json:"templateApplied"`
}

// ProjectViewer is the ACL edge granting a viewer RWX bits on a project.
// Absence of the row is distinct from permission 0.
type ProjectViewer struct {
	ProjectID  int64 `json:"projectId"`
	ViewerID   int64 `json:"viewerId"`
	Permission int   `json:"permission"`
}

// ParticipantProject pairs a participant with their (possibly absent)
// project in one lesson.
type ParticipantProject struct {
	Participant Participant `json:"participant"`
	Project     *Project    `json:"project"`
}

// AccessEntry is one row of an accessible-to / accessed-by listing: the
// counterpart participant, their project, and the explicit edge if any.
type AccessEntry struct {
	Participant Participant `json:"participant"`
	Project     Project     `json:"project"`
	Permission  int         `json:"permission"`
	HasEdge     bool        `json:"hasEdge"`
}

// CodeReference anchors feedback threads to (project, file, line).
type CodeReference struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"projectId"`
	File      string `json:"file"`
	Line      string `json:"line"`
	Deleted   bool   `json:"deleted"`
}

// Feedback is one thread on a code reference.
type Feedback struct {
	ID            int64     `json:"id"`
	CodeRefID     int64     `json:"codeRefId"`
	ParticipantID int64     `json:"participantId"`
	Resolved      bool      `json:"resolved"`
	CreatedAt     time.Time `json:"createdAt"`
}

// FeedbackViewer is the feedback ACL edge. Revocation flips valid to
// false; rows are never deleted.
type FeedbackViewer struct {
	FeedbackID    int64 `json:"feedbackId"`
	ParticipantID int64 `json:"participantId"`
	Valid         bool  `json:"valid"`
}

// Comment is one entry in a feedback thread. Deletion is soft.
type Comment struct {
	ID            int64     `json:"id"`
	FeedbackID    int64     `json:"feedbackId"`
	ParticipantID int64     `json:"participantId"`
	Content       string    `json:"content"`
	Deleted       bool      `json:"deleted"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// FeedbackDetail is a feedback row joined with its reference and the
// owning project, enough to authorize and fan out a change.
type FeedbackDetail struct {
	Feedback     Feedback      `json:"feedback"`
	Ref          CodeReference `json:"ref"`
	OwnerPtcID   int64         `json:"ownerPtcId"`
	OwnerProject int64         `json:"ownerProject"`
}

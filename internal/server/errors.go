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

package server

import (
	"errors"
	"strings"

	"github.com/Together-Coding/IDE-Server/internal/meta"
	"github.com/Together-Coding/IDE-Server/pkg/filestore"
)

// Error kinds surfaced to clients. Used as the `kind` label on the
// handler-error metric.
const (
	KindMissingField        = "MISSING_FIELD"
	KindNotInLesson         = "NOT_IN_LESSON"
	KindAccessCourseFail    = "ACCESS_COURSE_FAIL"
	KindParticipantNotFound = "PARTICIPANT_NOT_FOUND"
	KindProjectNotFound     = "PROJECT_NOT_FOUND"
	KindForbiddenProject    = "FORBIDDEN_PROJECT"
	KindFileExists          = "FILE_EXISTS"
	KindFileNotFound        = "FILE_NOT_FOUND"
	KindProjectFileMissing  = "PROJECT_FILE_MISSING"
	KindTotalSizeExceeded   = "TOTAL_SIZE_EXCEEDED"
	KindFeedbackNotFound    = "FEEDBACK_NOT_FOUND"
	KindFeedbackNotAuth     = "FEEDBACK_NOT_AUTH"
	KindAuthFailed          = "AUTH_FAILED"
	KindUnknown             = "UNKNOWN"
)

// EventError is a client-visible handler failure: one or more messages
// emitted as an error frame on the originating event.
type EventError struct {
	Kind     string
	Messages []string
}

func (e *EventError) Error() string {
	return e.Kind + ": " + strings.Join(e.Messages, "; ")
}

// NewEventError creates an EventError with the given kind and messages.
func NewEventError(kind string, messages ...string) *EventError {
	return &EventError{Kind: kind, Messages: messages}
}

// Common protocol errors reused across handlers.
var (
	errNotInLesson = NewEventError(KindNotInLesson,
		"Not in a lesson. Send `INIT_LESSON` event first.")
	errForbiddenProject = NewEventError(KindForbiddenProject,
		"You are not allowed to access the project.")
	errParticipantNotFound = NewEventError(KindParticipantNotFound,
		"Participant does not exist.")
	errProjectNotFound = NewEventError(KindProjectNotFound,
		"Project does not exist.")
)

// asEventError maps any handler error to its client-visible form. Domain
// sentinels from the file store and metadata store become their protocol
// kind; anything else reports as unknown and is left for Sentry.
func asEventError(err error) *EventError {
	var ee *EventError
	if errors.As(err, &ee) {
		return ee
	}

	switch {
	case errors.Is(err, filestore.ErrFileExists):
		return NewEventError(KindFileExists, "File already exists.")
	case errors.Is(err, filestore.ErrFileNotFound):
		return NewEventError(KindFileNotFound, "File does not exist.")
	case errors.Is(err, filestore.ErrProjectFileMissing):
		return NewEventError(KindProjectFileMissing, "File content is missing from storage.")
	case errors.Is(err, filestore.ErrTotalSizeExceeded):
		return NewEventError(KindTotalSizeExceeded, "Project size limit exceeded.")
	case errors.Is(err, meta.ErrNotAuthor):
		return NewEventError(KindFeedbackNotAuth, "Only the author can modify it.")
	case errors.Is(err, meta.ErrNotInACL):
		return NewEventError(KindFeedbackNotAuth, "You are not allowed to access the feedback.")
	case errors.Is(err, meta.ErrNotFound):
		return NewEventError(KindFeedbackNotFound, "Not found.")
	}
	return nil
}

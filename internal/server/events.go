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

// Protocol event names.
const (
	EventInitLesson       = "INIT_LESSON"
	EventAllParticipant   = "ALL_PARTICIPANT"
	EventParticipantStat  = "PARTICIPANT_STATUS"
	EventActivityPing     = "ACTIVITY_PING"
	EventProjectAccess    = "PROJECT_ACCESSIBLE"
	EventProjectPerm      = "PROJECT_PERM"
	EventProjectPermMod   = "PROJECT_PERM_CHANGED"
	EventSubsList         = "SUBS_PARTICIPANT_LIST"
	EventSubsParticipant  = "SUBS_PARTICIPANT"
	EventUnsubsPtc        = "UNSUBS_PARTICIPANT"
	EventDirInfo          = "DIR_INFO"
	EventFileRead         = "FILE_READ"
	EventFileCreate       = "FILE_CREATE"
	EventFileUpdate       = "FILE_UPDATE"
	EventFileDelete       = "FILE_DELETE"
	EventFileMod          = "FILE_MOD"
	EventFileSave         = "FILE_SAVE"
	EventCursorLast       = "CURSOR_LAST"
	EventCursorMove       = "CURSOR_MOVE"
	EventFeedbackList     = "FEEDBACK_LIST"
	EventFeedbackAdd      = "FEEDBACK_ADD"
	EventFeedbackMod      = "FEEDBACK_MOD"
	EventFeedbackComment  = "FEEDBACK_COMMENT"
	EventFeedbackCmtMod   = "FEEDBACK_COMMENT_MOD"
	EventErr              = "ERROR"
	EventEcho             = "echo"
	EventMessage          = "message"
	EventWSMonitor        = "WS_MONITOR"
	EventWSMonitorEvent   = "WS_MONITOR_EVENT"
	EventTimestampAck     = "TIMESTAMP_ACK"
	EventTimeSync         = "TIME_SYNC"
	EventTimeSyncAck      = "TIME_SYNC_ACK"
)

// monitorExempt lists events that are never mirrored to the monitor room
// and never stamped with monitor timestamps.
var monitorExempt = map[string]bool{
	EventWSMonitor:      true,
	EventWSMonitorEvent: true,
	EventTimestampAck:   true,
	EventTimeSync:       true,
	EventTimeSyncAck:    true,
}

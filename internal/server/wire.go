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
	"encoding/json"
	"fmt"
)

// Frame is one protocol message in either direction. uuid, when present
// on an inbound frame, is echoed on correlated responses.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	UUID  string          `json:"uuid,omitempty"`
}

// decodeFrame parses an inbound text message.
func decodeFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if f.Event == "" {
		return nil, fmt.Errorf("malformed frame: missing event")
	}
	return &f, nil
}

// encodeFrame builds an outbound text message.
func encodeFrame(event string, data any, uuid string) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	raw, err := json.Marshal(Frame{Event: event, Data: payload, UUID: uuid})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", event, err)
	}
	return raw, nil
}

// errorPayload is the data object of an error frame.
func errorPayload(messages ...string) map[string]any {
	if len(messages) == 1 {
		return map[string]any{"error": messages[0]}
	}
	return map[string]any{"error": messages}
}

// envelope is the cross-instance fan-out message published on the emit
// channel. Room may be a lattice room name or a bare sid for direct
// delivery.
type envelope struct {
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
	UUID    string          `json:"uuid,omitempty"`
	SkipSid string          `json:"skipSid,omitempty"`
}

// emitChannel is the redis pub/sub channel carrying fan-out envelopes
// between instances.
const emitChannel = "ws:emit"

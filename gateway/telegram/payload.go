// Copyright 2025 Blink Labs Software
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

package telegram

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/blinklabs-io/tenure/membership"
)

// Telegram limits callback data to 64 bytes
const maxPayloadLength = 64

var ErrInvalidPayload = errors.New("invalid button payload")

// ChoicePayload is the callback data attached to a prompt button
type ChoicePayload struct {
	Choice   membership.Choice `json:"c"`
	MemberID int64             `json:"m"`
}

func (p ChoicePayload) Encode() (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	if len(data) > maxPayloadLength {
		return "", fmt.Errorf("%w: %d bytes", ErrInvalidPayload, len(data))
	}
	return string(data), nil
}

func DecodePayload(data string) (ChoicePayload, error) {
	var p ChoicePayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return ChoicePayload{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if err := p.validate(); err != nil {
		return ChoicePayload{}, err
	}
	return p, nil
}

func (p ChoicePayload) validate() error {
	if p.MemberID <= 0 {
		return fmt.Errorf("%w: member ID %d", ErrInvalidPayload, p.MemberID)
	}
	if _, err := p.Choice.State(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return nil
}

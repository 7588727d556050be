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

package sqlite

import (
	"time"

	"github.com/blinklabs-io/tenure/membership"
)

type Member struct {
	JoinedAt    time.Time `gorm:"not null"`
	DisplayName string
	State       string `gorm:"size:16;not null;index"`
	MemberID    int64  `gorm:"primaryKey;autoIncrement:false"`
}

func (Member) TableName() string {
	return "members"
}

func memberFromRecord(rec membership.Record) Member {
	return Member{
		MemberID:    rec.MemberID,
		DisplayName: rec.DisplayName,
		JoinedAt:    rec.JoinedAt.UTC(),
		State:       string(rec.State),
	}
}

func (m Member) Record() membership.Record {
	return membership.Record{
		MemberID:    m.MemberID,
		DisplayName: m.DisplayName,
		JoinedAt:    m.JoinedAt.UTC(),
		State:       membership.State(m.State),
	}
}

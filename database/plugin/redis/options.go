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

package redis

import (
	"log/slog"
)

type RedisOptionFunc func(*MemberStoreRedis)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) RedisOptionFunc {
	return func(m *MemberStoreRedis) {
		m.logger = logger
	}
}

// WithAddr specifies the host:port of the redis server
func WithAddr(addr string) RedisOptionFunc {
	return func(m *MemberStoreRedis) {
		m.addr = addr
	}
}

// WithPassword specifies the redis password
func WithPassword(password string) RedisOptionFunc {
	return func(m *MemberStoreRedis) {
		m.password = password
	}
}

// WithDB specifies the redis logical database number
func WithDB(db int) RedisOptionFunc {
	return func(m *MemberStoreRedis) {
		m.db = db
	}
}

// WithGroupID scopes the stored records to one managed group
func WithGroupID(groupID int64) RedisOptionFunc {
	return func(m *MemberStoreRedis) {
		m.groupID = groupID
	}
}

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
	"log/slog"
	"time"
)

type ClientOptionFunc func(*Client)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) ClientOptionFunc {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithCallTimeout bounds every API call other than update polling
func WithCallTimeout(timeout time.Duration) ClientOptionFunc {
	return func(c *Client) {
		c.callTimeout = timeout
	}
}

// WithPollTimeout sets the long-poll timeout for update polling
func WithPollTimeout(timeout time.Duration) ClientOptionFunc {
	return func(c *Client) {
		c.pollTimeout = timeout
	}
}

// WithLocation specifies the time zone used to render deadlines in prompts
func WithLocation(loc *time.Location) ClientOptionFunc {
	return func(c *Client) {
		c.location = loc
	}
}

// WithRetentionPeriod specifies the period shown on the timed choice button
func WithRetentionPeriod(period time.Duration) ClientOptionFunc {
	return func(c *Client) {
		c.retention = period
	}
}

// WithNow overrides the clock used to timestamp inbound events
func WithNow(now func() time.Time) ClientOptionFunc {
	return func(c *Client) {
		c.now = now
	}
}

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
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// BotLogger adapts the bot library's logger to slog
type BotLogger struct {
	logger *slog.Logger
}

func NewBotLogger(logger *slog.Logger) *BotLogger {
	return &BotLogger{logger: logger}
}

func (b *BotLogger) Println(v ...any) {
	b.log(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func (b *BotLogger) Printf(format string, v ...any) {
	b.log(strings.TrimSuffix(fmt.Sprintf(format, v...), "\n"))
}

func (b *BotLogger) log(msg string) {
	b.logger.Log(
		context.Background(),
		slog.LevelDebug,
		msg,
		"component", "gateway",
		"platform", "telegram",
	)
}

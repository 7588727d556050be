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

package config

import (
	"os"

	"github.com/joho/godotenv"
)

var dotEnvFiles = []string{".env.local", ".env"}

// LoadDotEnv loads .env files from the working directory, .env.local first.
// Variables already present in the environment are never overwritten, so the
// real environment wins over .env.local, which wins over .env.
// It returns the files that were loaded.
func LoadDotEnv() []string {
	var loaded []string
	for _, f := range dotEnvFiles {
		if _, err := os.Stat(f); err == nil {
			loaded = append(loaded, f)
		}
	}
	if len(loaded) > 0 {
		_ = godotenv.Load(loaded...)
	}
	return loaded
}

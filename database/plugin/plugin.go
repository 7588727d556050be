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

package plugin

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/blinklabs-io/tenure/database/types"
	"github.com/prometheus/client_golang/prometheus"
)

// Options is the set of settings passed to a storage backend constructor.
// Backends ignore the fields that do not apply to them.
type Options struct {
	Logger        *slog.Logger
	PromRegistry  prometheus.Registerer
	DataDir       string
	RedisAddr     string
	RedisPassword string
	GroupID       int64
	RedisDB       int
}

// NewFunc opens a storage backend
type NewFunc func(Options) (types.Store, error)

type PluginEntry struct {
	NewFunc     NewFunc
	Name        string
	Description string
}

var (
	pluginEntries []PluginEntry
	pluginMutex   sync.RWMutex
)

// Register adds a storage backend to the registry. Registering a name twice
// replaces the earlier entry.
func Register(entry PluginEntry) {
	pluginMutex.Lock()
	defer pluginMutex.Unlock()
	for i, p := range pluginEntries {
		if p.Name == entry.Name {
			pluginEntries[i] = entry
			return
		}
	}
	pluginEntries = append(pluginEntries, entry)
}

// GetPlugins returns all registered backends sorted by name
func GetPlugins() []PluginEntry {
	pluginMutex.RLock()
	ret := slices.Clone(pluginEntries)
	pluginMutex.RUnlock()
	slices.SortFunc(ret, func(a, b PluginEntry) int {
		return strings.Compare(a.Name, b.Name)
	})
	return ret
}

// GetPlugin returns the registered backend with the given name, if any
func GetPlugin(name string) (PluginEntry, bool) {
	pluginMutex.RLock()
	defer pluginMutex.RUnlock()
	for _, p := range pluginEntries {
		if p.Name == name {
			return p, true
		}
	}
	return PluginEntry{}, false
}

// PluginNames returns the names of all registered backends
func PluginNames() []string {
	plugins := GetPlugins()
	ret := make([]string, 0, len(plugins))
	for _, p := range plugins {
		ret = append(ret, p.Name)
	}
	return ret
}

// Open looks up a backend by name and opens it
func Open(name string, opts Options) (types.Store, error) {
	p, ok := GetPlugin(name)
	if !ok {
		return nil, fmt.Errorf(
			"storage plugin '%s' not found (available: %s)",
			name,
			strings.Join(PluginNames(), ", "),
		)
	}
	store, err := p.NewFunc(opts)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to open storage plugin '%s': %w",
			name,
			err,
		)
	}
	return store, nil
}

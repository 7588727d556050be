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

package testutil_test

import (
	"testing"

	"github.com/blinklabs-io/tenure/database/types"
	"github.com/blinklabs-io/tenure/internal/test/storetest"
	"github.com/blinklabs-io/tenure/internal/test/testutil"
)

func TestMemStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) types.Store {
		return testutil.NewMemStore()
	})
}

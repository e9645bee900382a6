/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package opts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_ParseOrDefault(t *testing.T) {
	t.Setenv("DECAF_TEST_ROUNDS", "")
	assert.Equal(t, 7, parseOrDefault("DECAF_TEST_ROUNDS", 7, 0))
	t.Setenv("DECAF_TEST_ROUNDS", "0x20")
	assert.Equal(t, 32, parseOrDefault("DECAF_TEST_ROUNDS", 7, 0))
	t.Setenv("DECAF_TEST_ROUNDS", "0")
	require.Panics(t, func() { parseOrDefault("DECAF_TEST_ROUNDS", 7, 0) })
	t.Setenv("DECAF_TEST_ROUNDS", "many")
	require.Panics(t, func() { parseOrDefault("DECAF_TEST_ROUNDS", 7, 0) })
}

/*
 * Copyright 2022 CloudWeGo Authors
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

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/decaf"
)

func TestDecompileAll_KeepsGoing(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, code ...byte) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, code, 0o644))
		return p
	}

	/* "jo" has no lowering and panics, "mov rax, 1; ret" is fine */
	bad := write("bad.bin", 0x70, 0x00, 0xc3)
	good := write("good.bin", 0x48, 0xc7, 0xc0, 0x01, 0x00, 0x00, 0x00, 0xc3)
	missing := filepath.Join(dir, "missing.bin")

	var stdout, stderr bytes.Buffer
	o := []decaf.Option{decaf.WithArch("x86_64")}
	last, failed := decompileAll(context.Background(), &stdout, &stderr, []string{bad, missing, good}, "", 0x1000, o, false)

	assert.Equal(t, 2, failed)
	require.NotNil(t, last)
	assert.Contains(t, stdout.String(), "good(")
	assert.Contains(t, stdout.String(), "return 1;")
	assert.Contains(t, stderr.String(), bad+": panic: ")
	assert.Contains(t, stderr.String(), missing+": ")
}

func TestDecompile_RecoversPanics(t *testing.T) {
	p := filepath.Join(t.TempDir(), "f.bin")
	require.NoError(t, os.WriteFile(p, []byte{0x70, 0x00, 0xc3}, 0o644))

	res, err := decompile(context.Background(), p, "", 0x1000, nil)
	assert.Nil(t, res)
	assert.ErrorContains(t, err, "panic: ")
}

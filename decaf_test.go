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

package decaf

import (
	"bytes"
	"context"
	"testing"

	"github.com/chenzhuoyu/iasm/x86_64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func maxOf() []byte {
	p := x86_64.DefaultArch.CreateProgram()
	l := x86_64.CreateLabel("keep")
	p.MOVQ(x86_64.RDI, x86_64.RAX)
	p.CMPQ(x86_64.RSI, x86_64.RDI)
	p.JGE(l)
	p.MOVQ(x86_64.RSI, x86_64.RAX)
	p.Link(l)
	p.RET()
	code := p.Assemble(0x1000)
	p.Free()
	return code
}

func TestDecompile(t *testing.T) {
	res, err := Decompile(context.Background(), Function{Name: "_max", Addr: 0x1000, Code: maxOf()}, WithArch("amd64"))
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.False(t, res.Incomplete)
	assert.Contains(t, res.Text, "max(")
	assert.Contains(t, res.Text, "if (")
	assert.Contains(t, res.IR, "; uCode for function _max")
	assert.Len(t, res.IRLines, len(bytes.Split([]byte(res.IR), []byte("\n"))))
	assert.NotEmpty(t, res.Blocks)

	var buf bytes.Buffer
	require.NoError(t, res.WriteDOT(&buf))
	assert.Contains(t, buf.String(), "digraph CFG {")
}

func TestDecompile_Errors(t *testing.T) {
	_, err := Decompile(context.Background(), Function{Name: "f", Code: []byte{0xc3}}, WithArch("mips"))
	var ae UnsupportedArchError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "mips", ae.Arch)

	_, err = Decompile(context.Background(), Function{Name: "f", Addr: 0x10})
	var de DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, uint64(0x10), de.Addr)

	_, err = Decompile(context.Background(), Function{Name: "f", Code: []byte{0xc3}}, WithSignatures("/nonexistent/decaf.h"))
	assert.Error(t, err)
}

func TestDecompile_Binary(t *testing.T) {
	bin := NewBinary("x86_64")
	bin.Functions[0x1000] = &Func{Name: "-[Foo max:]", Addr: 0x1000, Method: &Method{Class: "Foo", Selector: "max:"}}

	res, err := Decompile(context.Background(), Function{Name: "-[Foo max:]", Addr: 0x1000, Code: maxOf()}, WithBinary(bin))
	require.NoError(t, err)
	assert.Contains(t, res.Text, "@implementation Foo")
	assert.Equal(t, "Foo", res.AST.Class)
}

func TestOptions(t *testing.T) {
	assert.Panics(t, func() { WithArch("") })
	assert.Panics(t, func() { WithMaxPatternRounds(0) })
	assert.Panics(t, func() { WithMaxTransformRounds(-1) })
	assert.Panics(t, func() { WithMaxDuplications(-1) })

	o := newOptions([]Option{
		WithMaxDuplications(0),
		WithMaxTransformRounds(3),
		WithSignatures("a.h"),
		WithSignatures("b.h"),
	})

	assert.Equal(t, "x86_64", o.arch)
	assert.Equal(t, 0, o.MaxDuplications)
	assert.Equal(t, 3, o.MaxTransformRounds)
	assert.Equal(t, []string{"a.h", "b.h"}, o.Signatures)
}

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

// Package decaf decompiles machine code of single functions into C and
// Objective-C source.
package decaf

import (
	"context"
	"io"

	"github.com/cloudwego/decaf/internal/ast"
	"github.com/cloudwego/decaf/internal/image"
	"github.com/cloudwego/decaf/internal/pipeline"
	"github.com/cloudwego/decaf/internal/session"
	"github.com/cloudwego/decaf/internal/ucode"
)

type (
	// Binary is what the container reader knows about the executable.
	Binary = image.Binary

	// Func describes one function of a Binary.
	Func = image.Func

	// Method marks a Func as an Objective-C method implementation.
	Method = image.Method

	// AST is the decompiled function as a syntax tree.
	AST = ast.Function

	// Lines maps the lines of Result.Text to the statements printed there.
	Lines = ast.Lines

	// IRLine maps one line of Result.IR to a block or an instruction.
	IRLine = ucode.Line
)

// NewBinary creates empty tables for an architecture.
func NewBinary(arch string) *Binary {
	return image.New(arch)
}

// Function is one function to decompile.
type Function struct {
	Name string
	Addr uint64
	Code []byte
}

// Result is a decompiled function along with its intermediate forms.
type Result struct {
	Text       string
	Lines      Lines
	AST        *AST
	Blocks     string
	IR         string
	IRLines    []IRLine
	Patterns   []string
	Converged  bool
	Incomplete bool
	fn         *ucode.Function
}

// WriteDOT renders the micro-code control-flow graph in Graphviz format.
func (self *Result) WriteDOT(w io.Writer) error {
	return self.fn.WriteDOT(w)
}

// Decompile runs the whole pipeline over fn. When the control flow cannot
// be fully structured, the result is returned together with an
// IncompleteError.
func Decompile(ctx context.Context, fn Function, o ...Option) (*Result, error) {
	cfg := newOptions(o)
	sess, err := session.New(cfg.arch, cfg.bin, cfg.Options)
	if err != nil {
		return nil, err
	}

	res, err := pipeline.Run(ctx, sess, pipeline.Input{Name: fn.Name, Addr: fn.Addr, Code: fn.Code})
	if res == nil {
		return nil, err
	}

	ir, lines := res.UCode.Dump()
	return &Result{
		Text:       res.Text,
		Lines:      res.Lines,
		AST:        res.AST,
		Blocks:     res.Graph.String(),
		IR:         ir,
		IRLines:    lines,
		Patterns:   res.Patterns,
		Converged:  res.Converged,
		Incomplete: res.Outcome.Incomplete,
		fn:         res.UCode,
	}, err
}

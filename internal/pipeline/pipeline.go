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

// Package pipeline runs every stage of the decompiler over one function:
// decoding, block building, idiom stripping, lowering, IR passes,
// structuring, synthesis and source rewrites.
package pipeline

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/samber/lo"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/cloudwego/decaf/internal/asm"
	"github.com/cloudwego/decaf/internal/ast"
	"github.com/cloudwego/decaf/internal/bb"
	"github.com/cloudwego/decaf/internal/codegen"
	"github.com/cloudwego/decaf/internal/image"
	"github.com/cloudwego/decaf/internal/passes"
	"github.com/cloudwego/decaf/internal/rewrite"
	"github.com/cloudwego/decaf/internal/sema"
	"github.com/cloudwego/decaf/internal/session"
	"github.com/cloudwego/decaf/internal/structure"
	"github.com/cloudwego/decaf/internal/synth"
	"github.com/cloudwego/decaf/internal/ucode"
)

var (
	FnCount    uint64 = 0
	BlockCount uint64 = 0
)

// block invoke functions are decompiled inline, but never recursively
const _MaxBlockDepth = 1

// Input is one function to decompile.
type Input struct {
	Name string
	Addr uint64
	Code []byte
}

// Result holds every intermediate form of a function. All of them stay
// valid when structuring is incomplete.
type Result struct {
	Graph     *bb.Graph
	Patterns  []string
	UCode     *ucode.Function
	Converged bool
	Outcome   structure.Outcome
	AST       *ast.Function
	Text      string
	Lines     ast.Lines
}

// Run decompiles a function. An incomplete structuring still produces a
// full result, returned together with the error describing it.
func Run(ctx context.Context, sess *session.Session, in Input) (*Result, error) {
	return run(ctx, sess, in, 0, false)
}

func run(ctx context.Context, sess *session.Session, in Input, depth int, invoke bool) (res *Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "decaf: decompile", "name", in.Name, "addr", in.Addr, "size", len(in.Code))
	defer tr.Finish("err", &err)

	if len(in.Code) == 0 {
		return nil, asm.DecodeError{Addr: in.Addr, Err: errors.New("empty code range")}
	}

	atomic.AddUint64(&FnCount, 1)
	sem := sess.Sema
	res = new(Result)

	/* native blocks, without the prologue and epilogue */
	res.Graph = bb.Build(asm.DecodeAll(sem.Decoder(), in.Code, in.Addr), sem)
	res.Patterns = sema.ApplyPatterns(ctx, sem, &sema.Function{
		Name:   in.Name,
		Addr:   in.Addr,
		Size:   uint64(len(in.Code)),
		Graph:  res.Graph,
		Binary: sess.Binary,
	}, sess.Options.MaxPatternRounds)

	if n := bb.Prune(res.Graph); n != 0 && tr.If("blocks") {
		tr.Printw("pruned unreachable blocks", "func", in.Name, "blocks", n)
	}

	if err = res.Graph.Check(); err != nil {
		return nil, errors.Wrap(err, "blocks of %v", in.Name)
	}

	/* lower into micro-code */
	sig := signature(sess, in, invoke)
	fn := ucode.NewFunction(in.Name, in.Addr, sess.PointerSize())
	fn.Size = uint64(len(in.Code))
	sem.DetectStackVariables(res.Graph, fn)

	fn = sem.GenerateUCode(&codegen.Context{
		Fn:      fn,
		Conv:    sem,
		Types:   sess.Types,
		RetType: sig.ret,
	}, res.Graph)

	fn.Inputs = sig.inputs(fn, sem)

	if err = fn.Check(); err != nil {
		return nil, errors.Wrap(err, "lower %v", in.Name)
	}

	/* simplify, then structure */
	res.Converged = passes.Transform(ctx, fn, sess, sess.Options.MaxTransformRounds)
	res.UCode = fn
	res.Outcome = structure.Structure(ctx, fn, sess.Options.MaxDuplications)

	/* render as source */
	res.AST = synth.Build(ctx, fn, res.Outcome, synth.Signature{
		Name:   image.StripUnderscore(in.Name),
		Ret:    sig.ret.String(),
		Method: sig.method,
	})

	env := rewrite.Env{}
	if depth < _MaxBlockDepth {
		env = literal(ctx, sess, fn, depth)
	}

	rewrite.Run(ctx, res.AST, env)
	res.Text, res.Lines = ast.Print(res.AST)

	if tr.If("pipeline") {
		tr.Printw("function decompiled", "func", in.Name, "patterns", res.Patterns, "converged", res.Converged, "incomplete", res.Outcome.Incomplete)
	}

	return res, res.Outcome.Err(in.Name)
}

// literal looks for a block literal built in a frame variable and
// decompiles its invoke function, when the binary holds its code.
func literal(ctx context.Context, sess *session.Session, fn *ucode.Function, depth int) rewrite.Env {
	objs, fnptr := blockLiterals(fn, int64(sess.PointerSize()+8))

	for _, obj := range objs {
		f := sess.Binary.FuncAt(fnptr[obj])
		if f == nil || len(f.Code) == 0 {
			continue
		}

		res, err := run(ctx, sess, Input{Name: f.Name, Addr: f.Addr, Code: f.Code}, depth+1, true)
		if res == nil {
			tlog.SpanFromContext(ctx).Printw("block invoke skipped", "func", fn.Name, "invoke", f.Name, "err", err)
			continue
		}

		atomic.AddUint64(&BlockCount, 1)

		return rewrite.Env{Literal: obj.Name, Invoke: res.AST}
	}

	return rewrite.Env{}
}

// blockLiterals lists the locals a stack block is built in, in the order
// their isa slots are written, with the invoke address stored in each.
func blockLiterals(fn *ucode.Function, slot int64) ([]*ucode.Register, map[*ucode.Register]uint64) {
	var objs []*ucode.Register
	fnptr := make(map[*ucode.Register]uint64)

	for _, ins := range fn.Instrs() {
		v, ok := ins.(*ucode.SetMember)
		if !ok {
			continue
		}

		obj, ok := v.Obj.(*ucode.Register)
		if !ok {
			continue
		}

		k, ok := v.S.(*ucode.Constant)
		if !ok {
			continue
		}

		switch {
		case v.Off == 0 && strings.HasSuffix(k.Symbol, "NSConcreteStackBlock"):
			if !lo.Contains(objs, obj) {
				objs = append(objs, obj)
			}
		case v.Off == slot:
			fnptr[obj] = uint64(k.Value)
		}
	}

	return objs, fnptr
}

/*
 * Copyright 2022 ByteDance Inc.
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

package codegen

import (
    `github.com/cloudwego/decaf/internal/asm`
    `github.com/cloudwego/decaf/internal/bb`
    `github.com/cloudwego/decaf/internal/types`
    `github.com/cloudwego/decaf/internal/ucode`
)

// Conventions is the part of an architecture description needed for
// lowering.
type Conventions interface {
    PointerSize() int
    SPRegister() string
    BaseRegister() string
    PCRegister() string
    RetvalLocation(t *types.Type) ucode.Location
}

// Arch lowers one native instruction at a time.
type Arch interface {
    Lower(ctx *Context, ins *asm.Instr)
}

// Context carries the state of lowering one function.
type Context struct {
    Fn      *ucode.Function
    Block   *ucode.Block
    Conv    Conventions
    Types   *types.Manager
    Tables  map[uint64][]uint64
    RetType *types.Type
    addr    uint64
}

// Emit appends an instruction to the current block.
func (self *Context) Emit(ins ucode.Instr) ucode.Instr {
    return self.Fn.Append(self.Block, ins, self.addr)
}

// Temp creates a fresh temporary.
func (self *Context) Temp(size int) *ucode.Register {
    return self.Fn.Temp(size)
}

func (self *Context) PtrSize() int {
    return self.Conv.PointerSize()
}

// Const creates a pointer-sized constant.
func (self *Context) Const(v int64) *ucode.Constant {
    return ucode.Const(self.PtrSize(), v)
}

// BranchCondition is the synthetic register holding the outcome of a
// condition formula.
func (self *Context) BranchCondition() *ucode.Register {
    return self.Fn.CustomReg("branch_condition", 1)
}

// Retval returns the register receiving a call result of the given type.
func (self *Context) Retval(t *types.Type) *ucode.Register {
    loc := self.Conv.RetvalLocation(t)
    if loc.None || loc.Stack {
        return nil
    } else {
        return self.Fn.Native(loc.Reg, self.PtrSize())
    }
}

// Opaque emits the native instruction as is.
func (self *Context) Opaque(ins *asm.Instr) {
    self.Emit(&ucode.Asm { Native: ins })
}

// Fit converts a value to the given width with an explicit truncate or extend.
func (self *Context) Fit(v ucode.Value, size int, signed bool) ucode.Value {
    w := v.Width()
    switch {
        case w == size || size == 0: {
            return v
        }
        case isConst(v): {
            c := v.(*ucode.Constant)
            if signed || w > size {
                return ucode.Symbol(size, c.Value, c.Symbol)
            } else {
                return ucode.Symbol(size, int64(c.Unsigned()), c.Symbol)
            }
        }
        case w > size: {
            t := self.Temp(size)
            self.Emit(&ucode.Trunc { Size: size, S: v, D: t })
            return t
        }
        default: {
            t := self.Temp(size)
            self.Emit(&ucode.Extend { Size: size, S: v, D: t, Signed: signed })
            return t
        }
    }
}

func isConst(v ucode.Value) bool {
    _, ok := v.(*ucode.Constant)
    return ok
}

// Flags emits the full set of condition-code updates for "s1 op s2".
func (self *Context) Flags(s1 ucode.Value, s2 ucode.Value, op ucode.FlagOp, names [6]string) {
    kinds := [6]ucode.FlagType {
        ucode.FlagZero,
        ucode.FlagOverflow,
        ucode.FlagCarry,
        ucode.FlagSign,
        ucode.FlagAdjust,
        ucode.FlagParity,
    }
    for i, name := range names {
        if name != "" {
            self.Emit(&ucode.SetFlag { Flag: self.Fn.FlagReg(name), Type: kinds[i], Op: op, S1: s1, S2: s2 })
        }
    }
}

// Generate lowers every block of a native block graph into a micro-code
// function with the same block numbering and edges.
func Generate(ctx *Context, g *bb.Graph, arch Arch) *ucode.Function {
    fn := ctx.Fn
    fn.SP = ctx.Conv.SPRegister()
    fn.Base = ctx.Conv.BaseRegister()
    fn.PC = ctx.Conv.PCRegister()
    fn.Entry = g.Entry

    /* one micro-code block per native block slot */
    for _, b := range g.Blocks {
        if b == nil {
            fn.AddBlock(0)
        } else {
            fn.AddBlock(b.Addr)
        }
    }

    /* lower the instructions and copy the edges */
    for _, b := range g.Live() {
        ctx.Block = fn.Blocks[b.ID]
        ctx.Block.Entry = b.Entry
        ctx.Block.Exit = b.Exit
        for _, ins := range b.Instrs {
            ctx.addr = ins.Addr
            arch.Lower(ctx, ins)
        }
        for _, s := range b.Succ {
            fn.Link(b.ID, s)
        }
    }

    /* drop the slots of removed blocks */
    for i, b := range g.Blocks {
        if b == nil {
            fn.Blocks[i] = nil
        }
    }
    return fn
}

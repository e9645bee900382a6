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

package sema

import (
    `fmt`
    `sort`

    `github.com/cloudwego/decaf/internal/asm`
    `github.com/cloudwego/decaf/internal/bb`
    `github.com/cloudwego/decaf/internal/codegen`
    `github.com/cloudwego/decaf/internal/image`
    `github.com/cloudwego/decaf/internal/types`
    `github.com/cloudwego/decaf/internal/ucode`
    `github.com/cloudwego/decaf/internal/utils`
)

// Semantics is everything the pipeline needs to know about one
// architecture. Operations an architecture does not implement panic.
type Semantics interface {
    bb.Oracle
    codegen.Conventions

    Name() string
    Decoder() asm.Decoder
    IsNop(ins *asm.Instr) bool
    CallDestination(ins *asm.Instr) (uint64, bool)
    JumpTable(ins *asm.Instr) ([]uint64, bool)

    CallArgLocations(ts []*types.Type) []ucode.Location
    InputArgLocations(ts []*types.Type) []ucode.Location
    GuessCallPrototype(writes []string, stack []int64) []string

    DetectStackVariables(g *bb.Graph, fn *ucode.Function)
    DetectPattern(fn *Function) *Pattern
    RemovePattern(fn *Function, p *Pattern)
    GenerateUCode(ctx *codegen.Context, g *bb.Graph) *ucode.Function
}

// Function is a native function while its prologue and epilogue are
// being stripped.
type Function struct {
    Name   string
    Addr   uint64
    Size   uint64
    Graph  *bb.Graph
    Binary *image.Binary
}

// Contains reports whether addr lies inside the function body.
func (self *Function) Contains(addr uint64) bool {
    return addr >= self.Addr && addr < self.Addr + self.Size
}

// New selects the semantics for an architecture name.
func New(arch string, bin *image.Binary) (Semantics, error) {
    switch arch {
        case "x86", "i386"      : return X86(32, bin), nil
        case "x86_64", "amd64"  : return X86(64, bin), nil
        case "aarch64", "arm64" : return ARM64(bin), nil
        case "armv7", "arm"     : return ARMv7(bin), nil
        default                 : return nil, utils.EArch(arch)
    }
}

type _Base struct {
    bin *image.Binary
}

func (self _Base) JumpTable(ins *asm.Instr) ([]uint64, bool) {
    if self.bin == nil {
        return nil, false
    }
    tab, ok := self.bin.JumpTables[ins.Addr]
    return tab, ok
}

func (self _Base) tables() map[uint64][]uint64 {
    if self.bin == nil {
        return nil
    } else {
        return self.bin.JumpTables
    }
}

func (self _Base) stub(addr uint64) string {
    if self.bin == nil {
        return ""
    } else {
        return self.bin.Stubs[addr]
    }
}

// lastImm returns the trailing immediate operand, which is where every
// supported architecture puts the branch target.
func lastImm(ins *asm.Instr) (uint64, bool) {
    if n := len(ins.Operands); n == 0 || ins.Operands[n - 1].Kind != asm.OpImm {
        return 0, false
    } else {
        return uint64(ins.Operands[n - 1].Imm), true
    }
}

/** Stack Frame **/

// detectFrame creates one frame item per distinct frame-relative offset.
// Items below the frame base are sized by the gap to their upper
// neighbour, items above the stack pointer are one pointer wide.
func detectFrame(g *bb.Graph, fn *ucode.Function, base string, sp string, access func(*asm.Instr) []asm.Memory) {
    seen := map[int64]bool{}
    offs := []int64(nil)

    /* collect the offsets */
    for _, b := range g.Live() {
        for _, ins := range b.Instrs {
            for _, m := range access(ins) {
                if m.Index != "" || m.PreIndex || m.PostIndex || seen[m.Disp] {
                    continue
                }
                if (m.Base == base && m.Disp < 0) || (m.Base == sp && m.Disp >= 0) {
                    seen[m.Disp] = true
                    offs = append(offs, m.Disp)
                }
            }
        }
    }

    /* walk downwards from the highest offset */
    sort.Slice(offs, func(i int, j int) bool { return offs[i] > offs[j] })
    prev := int64(0)

    /* synthesize the items */
    for _, off := range offs {
        if off >= 0 {
            fn.AddFrameItem(fmt.Sprintf("var_sp_%x", off), off, fn.PtrSize, false)
        } else {
            fn.AddFrameItem(fmt.Sprintf("var_%x", -off), off, int(-off - prev), true)
            prev = -off
        }
    }
}

func memOperands(ins *asm.Instr) []asm.Memory {
    var ret []asm.Memory
    for _, op := range ins.Operands {
        if op.Kind == asm.OpMem {
            ret = append(ret, op.Mem)
        }
    }
    return ret
}

/** ABI helpers **/

// intLike reports the types passed in general purpose registers.
func intLike(t *types.Type) bool {
    return t != nil && (t.Kind == types.Integer || t.IsPointerLike())
}

func argSize(t *types.Type, ptr int) int {
    if t == nil || t.Size == 0 {
        return ptr
    } else {
        return t.Size
    }
}

func guessRegs(pool []string, writes []string) []string {
    var ret []string
    set := make(map[string]bool, len(writes))

    /* one pointer-sized integer per written argument register */
    for _, w := range writes {
        set[w] = true
    }
    for _, r := range pool {
        if set[r] {
            ret = append(ret, "long")
        }
    }
    return ret
}

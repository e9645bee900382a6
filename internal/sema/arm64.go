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
    `strings`

    `github.com/cloudwego/decaf/internal/asm`
    `github.com/cloudwego/decaf/internal/bb`
    `github.com/cloudwego/decaf/internal/codegen`
    `github.com/cloudwego/decaf/internal/image`
    `github.com/cloudwego/decaf/internal/types`
    `github.com/cloudwego/decaf/internal/ucode`
)

type _ARM64 struct {
    _Base
}

// ARM64 returns the semantics of AArch64.
func ARM64(bin *image.Binary) Semantics {
    return &_ARM64 { _Base { bin } }
}

var _ARM64Slots = []string { "x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7" }

func (self *_ARM64) Name() string           { return "aarch64" }
func (self *_ARM64) Decoder() asm.Decoder   { return asm.ARM64() }
func (self *_ARM64) PointerSize() int       { return 8 }
func (self *_ARM64) SPRegister() string     { return "sp" }
func (self *_ARM64) BaseRegister() string   { return "x29" }
func (self *_ARM64) PCRegister() string     { return "pc" }

func (self *_ARM64) IsCall(ins *asm.Instr) bool   { return ins.Mnemonic == "bl" || ins.Mnemonic == "blr" }
func (self *_ARM64) IsReturn(ins *asm.Instr) bool { return ins.Mnemonic == "ret" }
func (self *_ARM64) IsNop(ins *asm.Instr) bool    { return ins.Mnemonic == "nop" }

func (self *_ARM64) IsUnconditionalJump(ins *asm.Instr) bool {
    return ins.Mnemonic == "b" || ins.Mnemonic == "br"
}

func (self *_ARM64) IsConditionalJump(ins *asm.Instr) bool {
    switch ins.Mnemonic {
        case "cbz", "cbnz", "tbz", "tbnz" : return true
        default                           : return strings.HasPrefix(ins.Mnemonic, "b.")
    }
}

func (self *_ARM64) CallDestination(ins *asm.Instr) (uint64, bool) {
    if ins.Mnemonic != "bl" {
        return 0, false
    } else {
        return lastImm(ins)
    }
}

func (self *_ARM64) JumpDestination(ins *asm.Instr) (uint64, bool) {
    if self.IsUnconditionalJump(ins) || self.IsConditionalJump(ins) {
        return lastImm(ins)
    } else {
        return 0, false
    }
}

func (self *_ARM64) RetvalLocation(t *types.Type) ucode.Location {
    if t != nil && t.Kind == types.Void {
        return ucode.Location { None: true }
    } else {
        return ucode.Location { Reg: "x0", Size: argSize(t, 8) }
    }
}

// locations hands out x0 to x7 in order. A variadic marker empties the
// pool, so every variadic argument goes on the stack.
func (self *_ARM64) locations(ts []*types.Type) []ucode.Location {
    ret := make([]ucode.Location, 0, len(ts))
    pool := _ARM64Slots
    stack := int64(0)

    /* assign every argument */
    for _, t := range ts {
        switch {
            case t.IsVariadic(): {
                pool = nil
                ret = append(ret, ucode.Location { None: true })
            }
            case intLike(t) && len(pool) != 0: {
                ret = append(ret, ucode.Location { Reg: pool[0], Size: argSize(t, 8) })
                pool = pool[1:]
            }
            default: {
                ret = append(ret, ucode.Location { Stack: true, Offset: stack, Size: argSize(t, 8) })
                stack += 8
            }
        }
    }
    return ret
}

func (self *_ARM64) CallArgLocations(ts []*types.Type) []ucode.Location  { return self.locations(ts) }
func (self *_ARM64) InputArgLocations(ts []*types.Type) []ucode.Location { return self.locations(ts) }

func (self *_ARM64) GuessCallPrototype(writes []string, _ []int64) []string {
    return guessRegs(_ARM64Slots, writes)
}

// loads and stores carry their address in the last operand
func arm64Access(ins *asm.Instr) []asm.Memory {
    mn := ins.Mnemonic
    if !strings.HasPrefix(mn, "ld") && !strings.HasPrefix(mn, "st") {
        return nil
    } else {
        return memOperands(ins)
    }
}

func (self *_ARM64) DetectStackVariables(g *bb.Graph, fn *ucode.Function) {
    detectFrame(g, fn, self.BaseRegister(), self.SPRegister(), arm64Access)
}

func (self *_ARM64) GenerateUCode(ctx *codegen.Context, g *bb.Graph) *ucode.Function {
    if ctx.Tables == nil {
        ctx.Tables = self.tables()
    }
    return codegen.Generate(ctx, g, codegen.ARM64())
}

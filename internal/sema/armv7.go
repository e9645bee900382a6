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

type _ARMv7 struct {
    _Base
}

// ARMv7 returns the semantics of 32-bit ARM. It is enough to build block
// graphs and assign ABI slots, lowering is not implemented.
func ARMv7(bin *image.Binary) Semantics {
    return &_ARMv7 { _Base { bin } }
}

var (
    _ARMv7Slots = []string { "r0", "r1", "r2", "r3" }
    _ARMv7Conds = map[string]bool {
        "eq": true, "ne": true, "cs": true, "hs": true, "cc": true, "lo": true, "mi": true, "pl": true,
        "vs": true, "vc": true, "hi": true, "ls": true, "ge": true, "lt": true, "gt": true, "le": true,
    }
)

func (self *_ARMv7) Name() string           { return "armv7" }
func (self *_ARMv7) Decoder() asm.Decoder   { return asm.ARM() }
func (self *_ARMv7) PointerSize() int       { return 4 }
func (self *_ARMv7) SPRegister() string     { return "sp" }
func (self *_ARMv7) BaseRegister() string   { return "r7" }
func (self *_ARMv7) PCRegister() string     { return "pc" }

func mnemonic(ins *asm.Instr) string {
    return strings.ReplaceAll(ins.Mnemonic, ".", "")
}

func (self *_ARMv7) IsCall(ins *asm.Instr) bool {
    mn := mnemonic(ins)
    return mn == "bl" || mn == "blx"
}

func (self *_ARMv7) IsNop(ins *asm.Instr) bool {
    return mnemonic(ins) == "nop"
}

// IsReturn accepts "bx lr" and pops loading the program counter.
func (self *_ARMv7) IsReturn(ins *asm.Instr) bool {
    switch mnemonic(ins) {
        case "bx": {
            return match(ins, "bx", reg("lr"))
        }
        case "pop", "ldm", "ldmia": {
            for _, op := range ins.Operands {
                for _, r := range op.Regs {
                    if r == "pc" {
                        return true
                    }
                }
            }
            return false
        }
        default: {
            return false
        }
    }
}

func (self *_ARMv7) IsUnconditionalJump(ins *asm.Instr) bool {
    mn := mnemonic(ins)
    return mn == "b" || (mn == "bx" && !self.IsReturn(ins))
}

func (self *_ARMv7) IsConditionalJump(ins *asm.Instr) bool {
    mn := mnemonic(ins)
    return len(mn) == 3 && mn[0] == 'b' && _ARMv7Conds[mn[1:]]
}

func (self *_ARMv7) CallDestination(ins *asm.Instr) (uint64, bool) {
    if !self.IsCall(ins) {
        return 0, false
    } else {
        return lastImm(ins)
    }
}

func (self *_ARMv7) JumpDestination(ins *asm.Instr) (uint64, bool) {
    if self.IsUnconditionalJump(ins) || self.IsConditionalJump(ins) {
        return lastImm(ins)
    } else {
        return 0, false
    }
}

func (self *_ARMv7) RetvalLocation(t *types.Type) ucode.Location {
    if t != nil && t.Kind == types.Void {
        return ucode.Location { None: true }
    } else {
        return ucode.Location { Reg: "r0", Size: 4 }
    }
}

// locations is positional: the first four arguments take r0 to r3 and
// the rest go on the stack.
func (self *_ARMv7) locations(ts []*types.Type) []ucode.Location {
    ret := make([]ucode.Location, 0, len(ts))
    for i, t := range ts {
        switch {
            case t.IsVariadic()        : ret = append(ret, ucode.Location { None: true })
            case i < len(_ARMv7Slots)  : ret = append(ret, ucode.Location { Reg: _ARMv7Slots[i], Size: argSize(t, 4) })
            default                    : ret = append(ret, ucode.Location { Stack: true, Offset: int64(i - len(_ARMv7Slots)) * 4, Size: argSize(t, 4) })
        }
    }
    return ret
}

func (self *_ARMv7) CallArgLocations(ts []*types.Type) []ucode.Location  { return self.locations(ts) }
func (self *_ARMv7) InputArgLocations(ts []*types.Type) []ucode.Location { return self.locations(ts) }

func (self *_ARMv7) GuessCallPrototype(writes []string, _ []int64) []string {
    return guessRegs(_ARMv7Slots, writes)
}

// ARMv7 frames are not recovered.
func (self *_ARMv7) DetectStackVariables(*bb.Graph, *ucode.Function) {}

func (self *_ARMv7) DetectPattern(*Function) *Pattern {
    return nil
}

func (self *_ARMv7) RemovePattern(*Function, *Pattern) {
    panic("sema: armv7 has no patterns to remove")
}

func (self *_ARMv7) GenerateUCode(*codegen.Context, *bb.Graph) *ucode.Function {
    panic("sema: armv7 lowering is not implemented")
}

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
    `bytes`
    `strconv`

    `github.com/cloudwego/decaf/internal/asm`
    `github.com/cloudwego/decaf/internal/bb`
    `github.com/cloudwego/decaf/internal/codegen`
    `github.com/cloudwego/decaf/internal/image`
    `github.com/cloudwego/decaf/internal/types`
    `github.com/cloudwego/decaf/internal/ucode`
)

type _X86 struct {
    _Base
    bits int
}

// X86 returns the semantics of 32-bit or 64-bit x86.
func X86(bits int, bin *image.Binary) Semantics {
    if bits != 32 && bits != 64 {
        panic("sema: invalid x86 mode: " + strconv.Itoa(bits))
    } else {
        return &_X86 { _Base: _Base { bin }, bits: bits }
    }
}

var _X86CondJumps = map[string]bool {
    "ja"  : true, "jae" : true, "jb"  : true, "jbe"   : true,
    "je"  : true, "jne" : true, "jg"  : true, "jge"   : true,
    "jl"  : true, "jle" : true, "jo"  : true, "jno"   : true,
    "jp"  : true, "jnp" : true, "js"  : true, "jns"   : true,
    "jcxz": true, "jecxz": true, "jrcxz": true,
}

// the "call next; pop r" idiom reads the program counter, it never returns
var _X86CallNext = []byte { 0xe8, 0x00, 0x00, 0x00, 0x00 }

func (self *_X86) Name() string {
    if self.bits == 32 {
        return "x86"
    } else {
        return "x86_64"
    }
}

func (self *_X86) Decoder() asm.Decoder {
    return asm.X86(self.bits)
}

func (self *_X86) PointerSize() int {
    return self.bits / 8
}

func (self *_X86) IsCall(ins *asm.Instr) bool {
    return ins.Mnemonic == "call" && !bytes.Equal(ins.Bytes, _X86CallNext)
}

func (self *_X86) CallDestination(ins *asm.Instr) (uint64, bool) {
    if !self.IsCall(ins) || len(ins.Operands) != 1 {
        return 0, false
    } else {
        return lastImm(ins)
    }
}

func (self *_X86) IsReturn(ins *asm.Instr) bool            { return ins.Mnemonic == "ret" }
func (self *_X86) IsNop(ins *asm.Instr) bool               { return ins.Mnemonic == "nop" }
func (self *_X86) IsUnconditionalJump(ins *asm.Instr) bool { return ins.Mnemonic == "jmp" }
func (self *_X86) IsConditionalJump(ins *asm.Instr) bool   { return _X86CondJumps[ins.Mnemonic] }

func (self *_X86) JumpDestination(ins *asm.Instr) (uint64, bool) {
    if self.IsUnconditionalJump(ins) || self.IsConditionalJump(ins) {
        return lastImm(ins)
    } else {
        return 0, false
    }
}

func (self *_X86) SPRegister() string {
    if self.bits == 32 {
        return "esp"
    } else {
        return "rsp"
    }
}

func (self *_X86) BaseRegister() string {
    if self.bits == 32 {
        return "ebp"
    } else {
        return "rbp"
    }
}

func (self *_X86) PCRegister() string {
    if self.bits == 32 {
        return "eip"
    } else {
        return "rip"
    }
}

func (self *_X86) RetvalLocation(t *types.Type) ucode.Location {
    switch {
        case t != nil && t.Kind == types.Void : return ucode.Location { None: true }
        case self.bits == 32                  : return ucode.Location { Reg: "eax", Size: 4 }
        case t.IsFloat()                      : return ucode.Location { Reg: "xmm0", Size: t.Size }
        default                               : return ucode.Location { Reg: "rax", Size: argSize(t, 8) }
    }
}

var (
    _X86IntSlots   = []string { "rdi", "rsi", "rdx", "rcx", "r8", "r9" }
    _X86FloatSlots = []string { "xmm0", "xmm1", "xmm2", "xmm3", "xmm4", "xmm5", "xmm6", "xmm7" }
)

func (self *_X86) locations(ts []*types.Type, stack int64) []ucode.Location {
    ret := make([]ucode.Location, 0, len(ts))

    /* cdecl, everything goes on the stack */
    if self.bits == 32 {
        for _, t := range ts {
            if t.IsVariadic() {
                ret = append(ret, ucode.Location { None: true })
            } else {
                ret = append(ret, ucode.Location { Stack: true, Offset: stack, Size: argSize(t, 4) })
                stack += 4
            }
        }
        return ret
    }

    /* System V, two register pools and the stack */
    ni, nf := 0, 0
    for _, t := range ts {
        switch {
            case t.IsVariadic(): {
                ret = append(ret, ucode.Location { None: true })
            }
            case intLike(t) && ni < len(_X86IntSlots): {
                ret = append(ret, ucode.Location { Reg: _X86IntSlots[ni], Size: argSize(t, 8) })
                ni++
            }
            case t.IsFloat() && nf < len(_X86FloatSlots): {
                ret = append(ret, ucode.Location { Reg: _X86FloatSlots[nf], Size: t.Size })
                nf++
            }
            default: {
                ret = append(ret, ucode.Location { Stack: true, Offset: stack, Size: argSize(t, 8) })
                stack += 8
            }
        }
    }
    return ret
}

func (self *_X86) CallArgLocations(ts []*types.Type) []ucode.Location {
    return self.locations(ts, 0)
}

// InputArgLocations skips the return address and the saved frame pointer.
func (self *_X86) InputArgLocations(ts []*types.Type) []ucode.Location {
    return self.locations(ts, int64(self.bits / 4))
}

func (self *_X86) GuessCallPrototype(writes []string, stack []int64) []string {
    if self.bits == 64 {
        return guessRegs(_X86IntSlots[:4], writes)
    }

    /* one argument per pushed slot */
    ret := make([]string, 0, len(stack))
    for range stack {
        ret = append(ret, "long")
    }
    return ret
}

func (self *_X86) DetectStackVariables(g *bb.Graph, fn *ucode.Function) {
    detectFrame(g, fn, self.BaseRegister(), self.SPRegister(), memOperands)
}

func (self *_X86) GenerateUCode(ctx *codegen.Context, g *bb.Graph) *ucode.Function {
    if ctx.Tables == nil {
        ctx.Tables = self.tables()
    }
    return codegen.Generate(ctx, g, codegen.X86(self.bits))
}

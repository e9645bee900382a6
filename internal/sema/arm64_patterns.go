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
)

type _ARM64Frame struct {
    name     string
    setup    func(*asm.Instr) bool
    teardown func(*asm.Instr) bool
}

func xreg(op asm.Operand) bool {
    return op.Kind == asm.OpReg && strings.HasPrefix(op.Reg, "x")
}

var _ARM64Frames = []_ARM64Frame {
    {
        name     : "Make space for local variables",
        setup    : func(v *asm.Instr) bool { return match(v, "sub", reg("sp"), reg("sp"), anyImm) },
        teardown : func(v *asm.Instr) bool { return match(v, "add", reg("sp"), reg("sp"), anyImm) },
    },
    {
        name     : "Save SP and LR",
        setup    : func(v *asm.Instr) bool { return match(v, "stp", reg("x29"), reg("x30"), memBase("sp")) },
        teardown : func(v *asm.Instr) bool { return match(v, "ldp", reg("x29"), reg("x30"), memBase("")) },
    },
    {
        name     : "Setup FP",
        setup    : func(v *asm.Instr) bool { return match(v, "mov", reg("x29"), reg("sp")) },
        teardown : func(v *asm.Instr) bool { return match(v, "mov", reg("sp"), reg("x29")) },
    },
    {
        name     : "Make space for local variables",
        setup    : func(v *asm.Instr) bool { return match(v, "sub", reg("sp"), reg("sp"), anyImm) },
    },
    {
        name     : "Save preserved registers",
        setup    : func(v *asm.Instr) bool { return match(v, "stp", xreg, xreg, memBase("sp")) },
        teardown : func(v *asm.Instr) bool { return match(v, "ldp", xreg, xreg, memBase("sp")) },
    },
    {
        name     : "Setup FP",
        setup    : func(v *asm.Instr) bool { return match(v, "add", reg("x29"), reg("sp"), anyImm) },
        teardown : func(v *asm.Instr) bool { return match(v, "sub", reg("sp"), reg("x29"), anyImm) },
    },
}

// lasts returns the instruction undoing the prologue in every exit block:
// the last one, or the one before a trailing return or branch.
func (self *_ARM64) lasts(fn *Function) []*asm.Instr {
    var ret []*asm.Instr
    for _, b := range fn.Graph.Exits() {
        n := len(b.Instrs)
        if n == 0 {
            continue
        }
        if last := b.Instrs[n - 1]; n >= 2 && (last.Mnemonic == "ret" || last.Mnemonic == "b") {
            ret = append(ret, b.Instrs[n - 2])
        } else {
            ret = append(ret, last)
        }
    }
    return ret
}

func (self *_ARM64) DetectPattern(fn *Function) *Pattern {
    if ins := head(fn.Graph, 1); ins != nil {
        lasts := self.lasts(fn)

        /* frame setup in the entry, teardown everywhere else */
        for _, f := range _ARM64Frames {
            if !f.setup(ins[0]) {
                continue
            }
            if f.teardown == nil {
                return &Pattern { Name: f.name, Matched: ins }
            }
            if all(lasts, f.teardown) {
                return &Pattern { Name: f.name, Matched: concat(ins, lasts) }
            }
        }
    }

    /* branches leaving the function */
    for _, b := range fn.Graph.Exits() {
        ins := b.Last()
        if ins == nil || !match(ins, "b", anyImm) || fn.Contains(uint64(ins.Operands[0].Imm)) {
            continue
        }
        return &Pattern {
            Name    : "Tail call",
            Matched : []*asm.Instr { ins },
            Insert  : []*asm.Instr {
                asm.Synthesize(ins.Addr, "bl", asm.ImmOp(ins.Operands[0].Imm, 8)),
                asm.Synthesize(ins.Addr, "ret"),
            },
        }
    }
    return nil
}

func (self *_ARM64) RemovePattern(fn *Function, p *Pattern) {
    removePattern(fn.Graph, p)
}

func all(ins []*asm.Instr, pred func(*asm.Instr) bool) bool {
    for _, v := range ins {
        if !pred(v) {
            return false
        }
    }
    return true
}

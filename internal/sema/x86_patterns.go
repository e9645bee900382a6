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
    `github.com/cloudwego/decaf/internal/asm`
)

const (
    _StackCheckFail = "___stack_chk_fail"
)

func (self *_X86) DetectPattern(fn *Function) *Pattern {
    for _, detect := range []func(*Function) *Pattern {
        self.framePointer,
        self.picBase,
        self.pushPop,
        self.stackFrame,
        self.stackCheck,
        self.tailCall,
    } {
        if p := detect(fn); p != nil {
            return p
        }
    }
    return nil
}

func (self *_X86) RemovePattern(fn *Function, p *Pattern) {
    removePattern(fn.Graph, p)
}

// "push rbp; mov rbp, rsp" with "pop rbp" or "leave" before every return
func (self *_X86) framePointer(fn *Function) *Pattern {
    sp, bp := self.SPRegister(), self.BaseRegister()
    ins := head(fn.Graph, 2)

    /* match the prologue */
    if ins == nil || !match(ins[0], "push", reg(bp)) || !match(ins[1], "mov", reg(bp), reg(sp)) {
        return nil
    }

    /* and the epilogue of every exit */
    tail, ok := epilogue(fn.Graph, 2, func(v *asm.Instr) bool {
        return match(v, "pop", reg(bp)) || match(v, "leave")
    })
    if !ok {
        return nil
    }
    return &Pattern {
        Name    : "Stack frame pointer setup",
        Matched : concat(ins, tail),
    }
}

// "call next; pop r" loads the program counter, 32-bit only
func (self *_X86) picBase(fn *Function) *Pattern {
    if self.bits != 32 {
        return nil
    }

    /* the two instruction form */
    if ins := head(fn.Graph, 2); ins != nil {
        if match(ins[0], "call", imm(int64(ins[1].Addr))) && match(ins[1], "pop", anyReg) {
            r := ins[1].Operands[0]
            return &Pattern {
                Name    : "PIC base retrieval",
                Matched : ins,
                Insert  : []*asm.Instr { asm.Synthesize(ins[0].Addr, "mov", r, asm.ImmOp(int64(ins[1].Addr), 4)) },
            }
        }
    }

    /* "push eax; call next; pop eax", undone by "add esp, 4" at the end */
    ins := head(fn.Graph, 3)
    if ins == nil || !match(ins[0], "push", reg("eax")) || !match(ins[1], "call", imm(int64(ins[2].Addr))) || !match(ins[2], "pop", reg("eax")) {
        return nil
    }
    tail, ok := epilogue(fn.Graph, 1, func(v *asm.Instr) bool {
        return match(v, "add", reg("esp"), imm(4))
    })
    if !ok {
        return nil
    }
    return &Pattern {
        Name    : "PIC base retrieval",
        Matched : concat(ins, tail),
        Insert  : []*asm.Instr { asm.Synthesize(ins[0].Addr, "mov", asm.RegOp("eax", 4), asm.ImmOp(int64(ins[2].Addr), 4)) },
    }
}

// "push r" with "pop r", or a plain stack pointer adjustment, before every return
func (self *_X86) pushPop(fn *Function) *Pattern {
    ins := head(fn.Graph, 1)
    if ins == nil || !match(ins[0], "push", anyReg) {
        return nil
    }

    /* restored by popping the same register */
    r := ins[0].Operands[0].Reg
    tail, ok := epilogue(fn.Graph, 2, func(v *asm.Instr) bool { return match(v, "pop", reg(r)) })

    /* or simply discarded */
    if !ok {
        tail, ok = epilogue(fn.Graph, 2, func(v *asm.Instr) bool {
            return match(v, "add", reg(self.SPRegister()), imm(int64(self.bits / 8)))
        })
    }
    if !ok {
        return nil
    }
    return &Pattern {
        Name    : "Saving non-scratch registers",
        Matched : concat(ins, tail),
    }
}

// "sub rsp, N" with "add rsp, N" before every return
func (self *_X86) stackFrame(fn *Function) *Pattern {
    sp := self.SPRegister()
    ins := head(fn.Graph, 1)
    if ins == nil || !match(ins[0], "sub", reg(sp), anyImm) {
        return nil
    }

    /* the same amount must be released everywhere */
    n := ins[0].Operands[1].Imm
    tail, ok := epilogue(fn.Graph, 2, func(v *asm.Instr) bool { return match(v, "add", reg(sp), imm(n)) })
    if !ok {
        return nil
    }
    return &Pattern {
        Name    : "Setup stack variables",
        Matched : concat(ins, tail),
    }
}

// a lone call to the canary failure stub, guarded by a conditional jump
func (self *_X86) stackCheck(fn *Function) *Pattern {
    for _, b := range fn.Graph.Exits() {
        if len(b.Instrs) != 1 || len(b.Pred) != 1 {
            continue
        }

        /* the failure block */
        ins := b.Instrs[0]
        if !match(ins, "call", anyImm) || self.stub(uint64(ins.Operands[0].Imm)) != _StackCheckFail {
            continue
        }

        /* and the check guarding it */
        guard := fn.Graph.Block(b.Pred.Only())
        if last := guard.Last(); last == nil || !self.IsConditionalJump(last) {
            continue
        }
        return &Pattern {
            Name    : "Stack overflow check",
            Matched : []*asm.Instr { ins, guard.Last() },
            Failed  : b,
            Guard   : guard,
        }
    }
    return nil
}

// a jump leaving the function, directly or through a pointer slot
func (self *_X86) tailCall(fn *Function) *Pattern {
    for _, b := range fn.Graph.Exits() {
        ins := b.Last()
        if ins == nil || ins.Mnemonic != "jmp" || len(ins.Operands) != 1 {
            continue
        }

        var call *asm.Instr
        op := ins.Operands[0]
        ptr := self.bits / 8

        /* pick the form */
        switch {
            case op.Kind == asm.OpImm && !fn.Contains(uint64(op.Imm)): {
                call = asm.Synthesize(ins.Addr, "call", asm.ImmOp(op.Imm, ptr))
            }
            case op.Kind == asm.OpMem && op.Mem.Base == self.PCRegister() && op.Mem.Index == "": {
                if slot := int64(ins.End()) + op.Mem.Disp; !fn.Contains(uint64(slot)) {
                    call = asm.Synthesize(ins.Addr, "call", asm.MemOp(asm.Memory { Disp: slot }, ptr))
                }
            }
        }

        /* rewrite into call and return */
        if call != nil {
            return &Pattern {
                Name    : "Tail call",
                Matched : []*asm.Instr { ins },
                Insert  : []*asm.Instr { call, asm.Synthesize(ins.Addr, "ret") },
            }
        }
    }
    return nil
}

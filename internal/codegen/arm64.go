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
    `strings`

    `github.com/cloudwego/decaf/internal/asm`
    `github.com/cloudwego/decaf/internal/ucode`
)

type arm64 struct{}

// ARM64 returns the lowering for AArch64.
func ARM64() Arch {
    return arm64{}
}

var _ARM64Flags = [6]string { "zf", "of", "cf", "sf", "", "" }

type _ARM64Arith struct {
    op   ucode.BinaryOp
    flag ucode.FlagOp
    sets bool
}

var _ARM64Ariths = map[string]_ARM64Arith {
    "add"  : { ucode.OpAdd, ucode.FlagAdd , false },
    "adds" : { ucode.OpAdd, ucode.FlagAdd , true  },
    "sub"  : { ucode.OpSub, ucode.FlagSub , false },
    "subs" : { ucode.OpSub, ucode.FlagSub , true  },
    "and"  : { ucode.OpAnd, ucode.FlagAnd , false },
    "ands" : { ucode.OpAnd, ucode.FlagAnd , true  },
    "orr"  : { ucode.OpOr , ucode.FlagOr  , false },
    "eor"  : { ucode.OpXor, ucode.FlagXor , false },
    "mul"  : { ucode.OpMul, ucode.FlagNone, false },
    "lsl"  : { ucode.OpShl, ucode.FlagNone, false },
    "lsr"  : { ucode.OpShr, ucode.FlagNone, false },
    "asr"  : { ucode.OpSar, ucode.FlagNone, false },
    "sdiv" : { ucode.OpDiv, ucode.FlagNone, false },
    "udiv" : { ucode.OpDiv, ucode.FlagNone, false },
}

var _ARM64Compares = map[string]ucode.FlagOp {
    "cmp" : ucode.FlagSub,
    "cmn" : ucode.FlagAdd,
    "tst" : ucode.FlagAnd,
}

// ARM64Parent maps a w register onto the x register containing it.
func ARM64Parent(name string) string {
    switch {
        case name == "wsp"                                : return "sp"
        case name == "wzr"                                : return "xzr"
        case len(name) > 1 && name[0] == 'w'              : return "x" + name[1:]
        case len(name) > 1 && strings.IndexByte("bhsdq", name[0]) >= 0 && name[1] >= '0' && name[1] <= '9' : return "v" + name[1:]
        default                                           : return name
    }
}

func (arm64) loadReg(ctx *Context, op asm.Operand) ucode.Value {
    name := ARM64Parent(op.Reg)
    size := op.Size

    /* the zero register */
    if name == "xzr" {
        return ucode.Const(size, 0)
    }

    /* w registers are the low half of x registers */
    p := ctx.Fn.Native(name, 8)
    if size >= 8 {
        return p
    }
    t := ctx.Temp(size)
    ctx.Emit(&ucode.Trunc { Size: size, S: p, D: t })
    return t
}

func (arm64) storeReg(ctx *Context, op asm.Operand, v ucode.Value) {
    name := ARM64Parent(op.Reg)
    if name == "xzr" {
        return
    }

    /* writes to w registers clear the upper half */
    p := ctx.Fn.Native(name, 8)
    v = ctx.Fit(v, op.Size, false)
    if op.Size >= 8 {
        ctx.Emit(&ucode.Mov { Size: 8, S: v, D: p })
    } else {
        ctx.Emit(&ucode.Extend { Size: 8, S: v, D: p })
    }
}

func (self arm64) value(ctx *Context, op asm.Operand, size int) ucode.Value {
    switch op.Kind {
        case asm.OpReg : return ctx.Fit(self.loadReg(ctx, op), size, false)
        case asm.OpImm : return ucode.Const(size, op.Imm)
        default        : panic("codegen: cannot read operand " + op.String())
    }
}

// address computes the effective address of a memory operand and returns
// the write-back to perform after the access, if any.
func (self arm64) address(ctx *Context, mem asm.Memory) (ucode.Value, func()) {
    base := self.loadReg(ctx, asm.RegOp(mem.Base, 8))

    /* register index, possibly scaled */
    if mem.Index != "" {
        idx := ctx.Fit(self.loadReg(ctx, asm.RegOp(mem.Index, asm.ARM64RegSize(mem.Index))), 8, true)
        if mem.Scale > 1 {
            t := ctx.Temp(8)
            ctx.Emit(&ucode.Binary { Op: ucode.OpMul, Size: 8, S1: idx, S2: ucode.Const(8, int64(mem.Scale)), D: t })
            idx = t
        }
        t := ctx.Temp(8)
        ctx.Emit(&ucode.Binary { Op: ucode.OpAdd, Size: 8, S1: base, S2: idx, D: t })
        return t, nil
    }

    /* plain base */
    if mem.Disp == 0 {
        return base, nil
    }

    /* post-index: access at base, then base += disp */
    if mem.PostIndex {
        reg := base
        wb := func() {
            t := ctx.Temp(8)
            ctx.Emit(&ucode.Binary { Op: ucode.OpAdd, Size: 8, S1: reg, S2: ucode.Const(8, mem.Disp), D: t })
            self.storeReg(ctx, asm.RegOp(mem.Base, 8), t)
        }
        return base, wb
    }

    /* base + disp */
    t := ctx.Temp(8)
    ctx.Emit(&ucode.Binary { Op: ucode.OpAdd, Size: 8, S1: base, S2: ucode.Const(8, mem.Disp), D: t })
    if !mem.PreIndex {
        return t, nil
    }

    /* pre-index: base := base + disp before the access */
    return t, func() {
        self.storeReg(ctx, asm.RegOp(mem.Base, 8), t)
    }
}

func (self arm64) Lower(ctx *Context, ins *asm.Instr) {
    ops := ins.Operands
    mn := ins.Mnemonic

    /* shifted or extended register operands are not modeled */
    for _, op := range ops {
        if op.Kind == asm.OpOther {
            ctx.Opaque(ins)
            return
        }
    }

    /* three-operand arithmetic */
    if v, ok := _ARM64Ariths[mn]; ok && len(ops) == 3 {
        size := ops[0].Size
        s1 := self.value(ctx, ops[1], size)
        s2 := self.value(ctx, ops[2], size)
        t := ctx.Temp(size)
        ctx.Emit(&ucode.Binary { Op: v.op, Size: size, S1: s1, S2: s2, D: t })
        if v.sets {
            ctx.Flags(s1, s2, v.flag, _ARM64Flags)
        }
        self.storeReg(ctx, ops[0], t)
        return
    }

    /* comparisons */
    if op, ok := _ARM64Compares[mn]; ok && len(ops) == 2 {
        size := ops[0].Size
        ctx.Flags(self.value(ctx, ops[0], size), self.value(ctx, ops[1], size), op, _ARM64Flags)
        return
    }

    /* conditional branches */
    if strings.HasPrefix(mn, "b.") {
        self.bcc(ctx, ins, mn[2:])
        return
    }

    switch mn {
        case "nop", "hint", "bti", "pacibsp", "autibsp", "paciasp", "autiasp": {
            break
        }

        /* register moves and immediates */
        case "mov", "movz", "movn", "mvn", "neg": {
            size := ops[0].Size
            v := self.value(ctx, ops[1], size)
            switch mn {
                case "movn", "mvn": {
                    t := ctx.Temp(size)
                    ctx.Emit(&ucode.Unary { Op: ucode.OpNot, Size: size, S: v, D: t })
                    v = t
                }
                case "neg": {
                    t := ctx.Temp(size)
                    ctx.Emit(&ucode.Unary { Op: ucode.OpNeg, Size: size, S: v, D: t })
                    v = t
                }
            }
            self.storeReg(ctx, ops[0], v)
        }

        /* sign and zero extension */
        case "sxtw", "sxth", "sxtb", "uxtw", "uxth", "uxtb": {
            width := map[byte]int { 'w': 4, 'h': 2, 'b': 1 }[mn[3]]
            v := ctx.Fit(self.loadReg(ctx, ops[1]), width, false)
            self.storeReg(ctx, ops[0], ctx.Fit(v, ops[0].Size, mn[0] == 's'))
        }

        /* pc-relative addresses */
        case "adr", "adrp": {
            self.storeReg(ctx, ops[0], ctx.Const(ops[1].Imm))
        }

        /* memory */
        case "ldr", "ldur", "ldrb", "ldurb", "ldrh", "ldurh", "ldrsw", "ldursw", "ldrsb", "ldrsh": {
            self.load(ctx, ins)
        }
        case "str", "stur", "strb", "sturb", "strh", "sturh": {
            self.store(ctx, ins)
        }
        case "ldp", "stp": {
            self.pair(ctx, ins)
        }

        /* compare and branch */
        case "cbz", "cbnz": {
            bc := ctx.BranchCondition()
            v := self.loadReg(ctx, ops[0])
            if mn == "cbz" {
                ctx.Emit(&ucode.Binary { Op: ucode.OpEquals, Size: 1, S1: v, S2: ucode.Const(ops[0].Size, 0), D: bc })
            } else {
                t := ctx.Temp(1)
                ctx.Emit(&ucode.Binary { Op: ucode.OpEquals, Size: 1, S1: v, S2: ucode.Const(ops[0].Size, 0), D: t })
                ctx.Emit(&ucode.Unary { Op: ucode.OpLNot, Size: 1, S: t, D: bc })
            }
            ctx.Emit(&ucode.Branch { Cond: bc, Target: ctx.Const(ops[1].Imm) })
        }

        /* test bit and branch */
        case "tbz", "tbnz": {
            bc := ctx.BranchCondition()
            size := ops[0].Size
            v := self.loadReg(ctx, ops[0])
            t1, t2 := ctx.Temp(size), ctx.Temp(size)
            ctx.Emit(&ucode.Binary { Op: ucode.OpShr, Size: size, S1: v, S2: ucode.Const(size, ops[1].Imm), D: t1 })
            ctx.Emit(&ucode.Binary { Op: ucode.OpAnd, Size: size, S1: t1, S2: ucode.Const(size, 1), D: t2 })
            bit := ctx.Fit(t2, 1, false)
            if mn == "tbnz" {
                ctx.Emit(&ucode.Mov { Size: 1, S: bit, D: bc })
            } else {
                ctx.Emit(&ucode.Unary { Op: ucode.OpLNot, Size: 1, S: bit, D: bc })
            }
            ctx.Emit(&ucode.Branch { Cond: bc, Target: ctx.Const(ops[2].Imm) })
        }

        /* control flow */
        case "b": {
            break
        }
        case "bl", "blr": {
            ctx.Emit(&ucode.Call {
                Callee  : self.value(ctx, ops[0], 8),
                D       : ctx.Retval(ctx.Types.Long()),
                Unknown : true,
                RetType : ctx.Types.Long(),
            })
        }
        case "br": {
            v := self.value(ctx, ops[0], 8)
            if tab, ok := ctx.Tables[ins.Addr]; ok {
                ctx.Emit(&ucode.Switch { Value: v, Targets: tab })
            } else {
                ctx.Emit(&ucode.Call { Callee: v, D: ctx.Retval(ctx.Types.Long()), Unknown: true, RetType: ctx.Types.Long() })
                self.ret(ctx)
            }
        }
        case "ret": {
            self.ret(ctx)
        }

        default: {
            ctx.Opaque(ins)
        }
    }
}

func (arm64) ret(ctx *Context) {
    if r := ctx.Retval(ctx.RetType); r == nil {
        ctx.Emit(&ucode.Ret{})
    } else {
        ctx.Emit(&ucode.Ret { Values: []ucode.Value { r } })
    }
}

func accessSize(mn string, reg asm.Operand) (int, bool) {
    mn = strings.Replace(mn, "ldur", "ldr", 1)
    mn = strings.Replace(mn, "stur", "str", 1)
    switch mn {
        case "ldrb", "strb" : return 1, false
        case "ldrh", "strh" : return 2, false
        case "ldrsb"        : return 1, true
        case "ldrsh"        : return 2, true
        case "ldrsw"        : return 4, true
        default             : return reg.Size, false
    }
}

func (self arm64) load(ctx *Context, ins *asm.Instr) {
    dst := ins.Operands[0]
    size, signed := accessSize(ins.Mnemonic, dst)
    addr, wb := self.address(ctx, ins.Operands[1].Mem)

    /* load and widen into the destination */
    t := ctx.Temp(size)
    ctx.Emit(&ucode.Load { Size: size, Addr: addr, D: t })
    self.storeReg(ctx, dst, ctx.Fit(t, dst.Size, signed))

    /* base register update */
    if wb != nil {
        wb()
    }
}

func (self arm64) store(ctx *Context, ins *asm.Instr) {
    src := ins.Operands[0]
    size, _ := accessSize(ins.Mnemonic, src)
    v := ctx.Fit(self.loadReg(ctx, src), size, false)
    addr, wb := self.address(ctx, ins.Operands[1].Mem)
    ctx.Emit(&ucode.Store { Size: size, S: v, Addr: addr })

    /* base register update */
    if wb != nil {
        wb()
    }
}

func (self arm64) pair(ctx *Context, ins *asm.Instr) {
    r1, r2 := ins.Operands[0], ins.Operands[1]
    size := r1.Size
    addr, wb := self.address(ctx, ins.Operands[2].Mem)

    /* second slot */
    hi := ctx.Temp(8)
    ctx.Emit(&ucode.Binary { Op: ucode.OpAdd, Size: 8, S1: addr, S2: ucode.Const(8, int64(size)), D: hi })

    /* the pair is accessed as two consecutive slots */
    if ins.Mnemonic == "stp" {
        v1 := self.loadReg(ctx, r1)
        v2 := self.loadReg(ctx, r2)
        ctx.Emit(&ucode.Store { Size: size, S: v1, Addr: addr })
        ctx.Emit(&ucode.Store { Size: size, S: v2, Addr: hi })
    } else {
        t1, t2 := ctx.Temp(size), ctx.Temp(size)
        ctx.Emit(&ucode.Load { Size: size, Addr: addr, D: t1 })
        ctx.Emit(&ucode.Load { Size: size, Addr: hi, D: t2 })
        self.storeReg(ctx, r1, t1)
        self.storeReg(ctx, r2, t2)
    }

    /* base register update */
    if wb != nil {
        wb()
    }
}

func (self arm64) bcc(ctx *Context, ins *asm.Instr, cc string) {
    dst, ok := ins.Target()
    if !ok {
        ctx.Opaque(ins)
        return
    }
    cond := ARM64Condition(ctx, cc)
    ctx.Emit(&ucode.Branch { Cond: cond, Target: ctx.Const(int64(dst)) })
}

// ARM64Condition lowers an AArch64 condition code. Carry follows the
// borrow convention used for x86, so "hs" is the negated carry flag.
func ARM64Condition(ctx *Context, cc string) *ucode.Register {
    switch cc {
        case "eq"       : return X86Condition(ctx, "e")
        case "ne"       : return X86Condition(ctx, "ne")
        case "hs", "cs" : return X86Condition(ctx, "ae")
        case "lo", "cc" : return X86Condition(ctx, "b")
        case "mi"       : return X86Condition(ctx, "s")
        case "pl"       : return X86Condition(ctx, "ns")
        case "hi"       : return X86Condition(ctx, "a")
        case "ls"       : return X86Condition(ctx, "be")
        case "ge"       : return X86Condition(ctx, "ge")
        case "lt"       : return X86Condition(ctx, "l")
        case "gt"       : return X86Condition(ctx, "g")
        case "le"       : return X86Condition(ctx, "le")
    }

    /* overflow flag tests */
    bc := ctx.BranchCondition()
    of := ctx.Fn.FlagReg("of")
    switch cc {
        case "vs" : ctx.Emit(&ucode.Mov { Size: 1, S: of, D: bc })
        case "vc" : ctx.Emit(&ucode.Unary { Op: ucode.OpLNot, Size: 1, S: of, D: bc })
        default   : panic("codegen: unsupported arm64 condition code: " + cc)
    }
    return bc
}

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

type x86 struct {
    bits int
}

// X86 returns the lowering for 32-bit or 64-bit x86.
func X86(bits int) Arch {
    return &x86 { bits: bits }
}

var _X86Flags = [6]string { "zf", "of", "cf", "sf", "af", "pf" }

type _SubReg struct {
    parent64 string
    parent32 string
    high     bool
}

var _X86SubRegs = map[string]_SubReg {}

func init() {
    for _, r := range []string { "a", "b", "c", "d" } {
        q, d := "r" + r + "x", "e" + r + "x"
        _X86SubRegs[d]       = _SubReg { q, d, false }
        _X86SubRegs[r + "x"] = _SubReg { q, d, false }
        _X86SubRegs[r + "l"] = _SubReg { q, d, false }
        _X86SubRegs[r + "h"] = _SubReg { q, d, true }
        _X86SubRegs[q]       = _SubReg { q, d, false }
    }
    for _, r := range []string { "si", "di", "bp", "sp" } {
        q, d := "r" + r, "e" + r
        _X86SubRegs[d]       = _SubReg { q, d, false }
        _X86SubRegs[r]       = _SubReg { q, d, false }
        _X86SubRegs[r + "l"] = _SubReg { q, d, false }
        _X86SubRegs[q]       = _SubReg { q, d, false }
    }
    for _, r := range []string { "8", "9", "10", "11", "12", "13", "14", "15" } {
        q := "r" + r
        _X86SubRegs[q]       = _SubReg { q, q + "d", false }
        _X86SubRegs[q + "d"] = _SubReg { q, q + "d", false }
        _X86SubRegs[q + "w"] = _SubReg { q, q + "d", false }
        _X86SubRegs[q + "b"] = _SubReg { q, q + "d", false }
    }
    _X86SubRegs["rip"] = _SubReg { "rip", "eip", false }
    _X86SubRegs["eip"] = _SubReg { "rip", "eip", false }
}

// X86Parent returns the full-width register containing a named register.
func X86Parent(name string, bits int) (string, bool) {
    sub, ok := _X86SubRegs[name]
    switch {
        case !ok      : return name, false
        case bits == 64 : return sub.parent64, sub.high
        default       : return sub.parent32, sub.high
    }
}

func (self *x86) parent(ctx *Context, name string) (*ucode.Register, bool) {
    p, high := X86Parent(name, self.bits)
    if strings.HasPrefix(p, "xmm") {
        return ctx.Fn.Native(p, 8), false
    } else {
        return ctx.Fn.Native(p, self.bits / 8), high
    }
}

/** Registers **/

func (self *x86) loadReg(ctx *Context, name string, size int) ucode.Value {
    p, high := self.parent(ctx, name)

    /* full-width access */
    if size >= p.Size {
        return p
    }

    /* ah, bh, ch, dh */
    if high {
        t := ctx.Temp(p.Size)
        ctx.Emit(&ucode.Binary { Op: ucode.OpShr, Size: p.Size, S1: p, S2: ucode.Const(p.Size, 8), D: t })
        return ctx.Fit(t, 1, false)
    }

    /* low part of the parent */
    t := ctx.Temp(size)
    ctx.Emit(&ucode.Trunc { Size: size, S: p, D: t })
    return t
}

func (self *x86) storeReg(ctx *Context, name string, size int, v ucode.Value) {
    p, high := self.parent(ctx, name)
    v = ctx.Fit(v, size, false)

    /* full-width write */
    if size >= p.Size {
        ctx.Emit(&ucode.Mov { Size: p.Size, S: v, D: p })
        return
    }

    /* 32-bit writes clear the upper half */
    if size == 4 {
        ctx.Emit(&ucode.Extend { Size: p.Size, S: v, D: p })
        return
    }

    /* 8/16-bit writes preserve the rest of the register */
    mask, shift := int64(-1) << (uint(size) * 8), int64(0)
    if high {
        mask, shift = ^int64(0xff00), 8
    }

    /* (parent & mask) | (zext(value) << shift) */
    t1 := ctx.Temp(p.Size)
    t2 := ctx.Temp(p.Size)
    ctx.Emit(&ucode.Binary { Op: ucode.OpAnd, Size: p.Size, S1: p, S2: ucode.Const(p.Size, mask), D: t1 })
    ctx.Emit(&ucode.Extend { Size: p.Size, S: v, D: t2 })
    if shift != 0 {
        t3 := ctx.Temp(p.Size)
        ctx.Emit(&ucode.Binary { Op: ucode.OpShl, Size: p.Size, S1: t2, S2: ucode.Const(p.Size, shift), D: t3 })
        t2 = t3
    }
    ctx.Emit(&ucode.Binary { Op: ucode.OpOr, Size: p.Size, S1: t1, S2: t2, D: p })
}

/** Operands **/

func (self *x86) address(ctx *Context, ins *asm.Instr, mem asm.Memory) ucode.Value {
    ps := ctx.PtrSize()

    /* rip-relative references are absolute constants */
    if mem.Base == "rip" || mem.Base == "eip" {
        return ctx.Const(int64(ins.End()) + mem.Disp)
    }

    /* absolute addresses */
    if mem.Base == "" && mem.Index == "" {
        return ctx.Const(mem.Disp)
    }

    /* index * scale */
    var acc ucode.Value
    if mem.Index != "" {
        acc = self.loadReg(ctx, mem.Index, ps)
        if mem.Scale > 1 {
            t := ctx.Temp(ps)
            ctx.Emit(&ucode.Binary { Op: ucode.OpMul, Size: ps, S1: acc, S2: ctx.Const(int64(mem.Scale)), D: t })
            acc = t
        }
    }

    /* + base */
    if mem.Base != "" {
        base := self.loadReg(ctx, mem.Base, ps)
        if acc == nil {
            acc = base
        } else {
            t := ctx.Temp(ps)
            ctx.Emit(&ucode.Binary { Op: ucode.OpAdd, Size: ps, S1: base, S2: acc, D: t })
            acc = t
        }
    }

    /* + displacement */
    if mem.Disp != 0 {
        t := ctx.Temp(ps)
        ctx.Emit(&ucode.Binary { Op: ucode.OpAdd, Size: ps, S1: acc, S2: ctx.Const(mem.Disp), D: t })
        acc = t
    }
    return acc
}

func (self *x86) load(ctx *Context, ins *asm.Instr, op asm.Operand) ucode.Value {
    switch op.Kind {
        case asm.OpReg : return self.loadReg(ctx, op.Reg, op.Size)
        case asm.OpImm : return ucode.Const(op.Size, op.Imm)
        case asm.OpMem : {
            addr := self.address(ctx, ins, op.Mem)
            t := ctx.Temp(op.Size)
            ctx.Emit(&ucode.Load { Size: op.Size, Addr: addr, D: t })
            return t
        }
        default: {
            panic("codegen: cannot load operand " + op.String() + " of " + ins.Text)
        }
    }
}

func (self *x86) store(ctx *Context, ins *asm.Instr, op asm.Operand, v ucode.Value) {
    switch op.Kind {
        case asm.OpReg : self.storeReg(ctx, op.Reg, op.Size, v)
        case asm.OpMem : {
            addr := self.address(ctx, ins, op.Mem)
            ctx.Emit(&ucode.Store { Size: op.Size, S: ctx.Fit(v, op.Size, false), Addr: addr })
        }
        default: {
            panic("codegen: cannot store to operand " + op.String() + " of " + ins.Text)
        }
    }
}

/** Instructions **/

var _X86Moves = map[string]bool {
    "mov"       : true, "movabs"    : true, "movzx"     : true, "movsx"     : true, "movsxd"    : true,
    "movaps"    : true, "movapd"    : true, "movups"    : true, "movupd"    : true, "movsd_xmm" : true,
    "movss"     : true, "movq"      : true, "movd"      : true, "cvtsi2sd"  : true, "cvtsi2ss"  : true,
    "cvtsd2ss"  : true, "cvtss2sd"  : true, "cvttsd2si" : true, "cvttss2si" : true, "cvtsd2si"  : true,
    "cvtss2si"  : true, "cvtdq2pd"  : true, "cvtdq2ps"  : true, "cvtpd2ps"  : true, "cvtps2pd"  : true,
}

type _TwoOp struct {
    op   ucode.BinaryOp
    flag ucode.FlagOp
    sets bool
}

var _X86TwoOps = map[string]_TwoOp {
    "add"   : { ucode.OpAdd, ucode.FlagAdd, true  },
    "sub"   : { ucode.OpSub, ucode.FlagSub, true  },
    "and"   : { ucode.OpAnd, ucode.FlagAnd, true  },
    "or"    : { ucode.OpOr , ucode.FlagOr , true  },
    "xor"   : { ucode.OpXor, ucode.FlagXor, true  },
    "imul"  : { ucode.OpMul, ucode.FlagNone, false },
    "shl"   : { ucode.OpShl, ucode.FlagNone, false },
    "sal"   : { ucode.OpShl, ucode.FlagNone, false },
    "shr"   : { ucode.OpShr, ucode.FlagNone, false },
    "sar"   : { ucode.OpSar, ucode.FlagNone, false },
    "addsd" : { ucode.OpAdd, ucode.FlagNone, false },
    "subsd" : { ucode.OpSub, ucode.FlagNone, false },
    "mulsd" : { ucode.OpMul, ucode.FlagNone, false },
    "divsd" : { ucode.OpDiv, ucode.FlagNone, false },
    "addss" : { ucode.OpAdd, ucode.FlagNone, false },
    "subss" : { ucode.OpSub, ucode.FlagNone, false },
    "mulss" : { ucode.OpMul, ucode.FlagNone, false },
    "divss" : { ucode.OpDiv, ucode.FlagNone, false },
}

var _X86Nops = map[string]bool {
    "nop"    : true,
    "endbr64": true,
    "endbr32": true,
    "pause"  : true,
}

func (self *x86) Lower(ctx *Context, ins *asm.Instr) {
    ops := ins.Operands
    mn := ins.Mnemonic

    /* plain data movement */
    if _X86Moves[mn] && len(ops) == 2 {
        signed := mn == "movsx" || mn == "movsxd"
        self.store(ctx, ins, ops[0], ctx.Fit(self.load(ctx, ins, ops[1]), ops[0].Size, signed))
        return
    }

    /* xor r, r clears the register */
    if (mn == "xor" || mn == "xorps" || mn == "pxor") && len(ops) == 2 && ops[0].Kind == asm.OpReg && ops[1].Kind == asm.OpReg && ops[0].Reg == ops[1].Reg {
        self.store(ctx, ins, ops[0], ucode.Const(ops[0].Size, 0))
        return
    }

    /* two-operand arithmetic */
    if v, ok := _X86TwoOps[mn]; ok && len(ops) == 2 {
        s1 := self.load(ctx, ins, ops[0])
        s2 := ctx.Fit(self.load(ctx, ins, ops[1]), ops[0].Size, true)
        self.arith(ctx, ins, v.op, v.flag, v.sets, s1, s2)
        return
    }

    /* everything else */
    switch mn {
        case "lea": {
            self.store(ctx, ins, ops[0], ctx.Fit(self.address(ctx, ins, ops[1].Mem), ops[0].Size, false))
        }

        /* inc / dec */
        case "inc", "dec": {
            op, flag := ucode.OpAdd, ucode.FlagAdd
            if mn == "dec" {
                op, flag = ucode.OpSub, ucode.FlagSub
            }
            s1 := self.load(ctx, ins, ops[0])
            self.arith(ctx, ins, op, flag, true, s1, ucode.Const(ops[0].Size, 1))
        }

        /* unary arithmetic */
        case "neg", "not": {
            op := ucode.OpNeg
            if mn == "not" {
                op = ucode.OpNot
            }
            s := self.load(ctx, ins, ops[0])
            t := ctx.Temp(ops[0].Size)
            ctx.Emit(&ucode.Unary { Op: op, Size: ops[0].Size, S: s, D: t })
            self.store(ctx, ins, ops[0], t)
        }

        /* imul with implicit operands, or the three-operand form */
        case "imul": {
            self.imul(ctx, ins)
        }

        /* division: rdx := rax % src, rax := rax / src */
        case "idiv", "div": {
            size := ops[0].Size
            ax, dx := self.acc(size)
            src := self.load(ctx, ins, ops[0])
            a := self.loadReg(ctx, ax, size)
            q, r := ctx.Temp(size), ctx.Temp(size)
            ctx.Emit(&ucode.Binary { Op: ucode.OpMod, Size: size, S1: a, S2: src, D: r })
            ctx.Emit(&ucode.Binary { Op: ucode.OpDiv, Size: size, S1: a, S2: src, D: q })
            self.storeReg(ctx, dx, size, r)
            self.storeReg(ctx, ax, size, q)
        }

        /* sign extension into rdx:rax, approximated as clearing rdx */
        case "cqo" : self.storeReg(ctx, "rdx", 8, ucode.Const(8, 0))
        case "cdq" : self.storeReg(ctx, "edx", 4, ucode.Const(4, 0))

        /* comparisons only set flags */
        case "cmp", "test": {
            op := ucode.FlagSub
            if mn == "test" {
                op = ucode.FlagAnd
            }
            s1 := self.load(ctx, ins, ops[0])
            s2 := ctx.Fit(self.load(ctx, ins, ops[1]), ops[0].Size, true)
            ctx.Flags(s1, s2, op, _X86Flags)
        }

        /* stack manipulation */
        case "push" : self.push(ctx, ins)
        case "pop"  : self.pop(ctx, ins)
        case "leave": self.leave(ctx)

        /* control flow */
        case "call" : self.call(ctx, ins)
        case "ret"  : self.ret(ctx)
        case "jmp"  : self.jmp(ctx, ins)

        default: {
            switch {
                case _X86Nops[mn]                                  : break
                case strings.HasSuffix(mn, "cxz")                  : ctx.Opaque(ins)
                case strings.HasPrefix(mn, "j") && len(ops) == 1   : self.jcc(ctx, ins)
                case strings.HasPrefix(mn, "set") && len(ops) == 1 : self.store(ctx, ins, ops[0], X86Condition(ctx, mn[3:]))
                default                                            : ctx.Opaque(ins)
            }
        }
    }
}

func (self *x86) acc(size int) (string, string) {
    if size == 8 {
        return "rax", "rdx"
    } else {
        return "eax", "edx"
    }
}

func (self *x86) arith(ctx *Context, ins *asm.Instr, op ucode.BinaryOp, flag ucode.FlagOp, sets bool, s1 ucode.Value, s2 ucode.Value) {
    size := ins.Operands[0].Size
    t := ctx.Temp(size)
    ctx.Emit(&ucode.Binary { Op: op, Size: size, S1: s1, S2: s2, D: t })
    if sets {
        ctx.Flags(s1, s2, flag, _X86Flags)
    }
    self.store(ctx, ins, ins.Operands[0], t)
}

func (self *x86) imul(ctx *Context, ins *asm.Instr) {
    ops := ins.Operands
    switch len(ops) {
        case 1: {
            size := ops[0].Size
            ax, _ := self.acc(size)
            src := self.load(ctx, ins, ops[0])
            a := self.loadReg(ctx, ax, size)
            t := ctx.Temp(size)
            ctx.Emit(&ucode.Binary { Op: ucode.OpMul, Size: size, S1: a, S2: src, D: t })
            self.storeReg(ctx, ax, size, t)
        }
        case 3: {
            size := ops[0].Size
            s1 := self.load(ctx, ins, ops[1])
            s2 := ctx.Fit(self.load(ctx, ins, ops[2]), size, true)
            t := ctx.Temp(size)
            ctx.Emit(&ucode.Binary { Op: ucode.OpMul, Size: size, S1: s1, S2: s2, D: t })
            self.store(ctx, ins, ops[0], t)
        }
        default: {
            ctx.Opaque(ins)
        }
    }
}

func (self *x86) sp(ctx *Context) *ucode.Register {
    return ctx.Fn.Native(ctx.Conv.SPRegister(), ctx.PtrSize())
}

func (self *x86) push(ctx *Context, ins *asm.Instr) {
    ps := ctx.PtrSize()
    sp := self.sp(ctx)
    v := ctx.Fit(self.load(ctx, ins, ins.Operands[0]), ps, true)
    ctx.Emit(&ucode.Binary { Op: ucode.OpSub, Size: ps, S1: sp, S2: ctx.Const(int64(ps)), D: sp })
    ctx.Emit(&ucode.Store { Size: ps, S: v, Addr: sp })
}

func (self *x86) pop(ctx *Context, ins *asm.Instr) {
    ps := ctx.PtrSize()
    sp := self.sp(ctx)
    t := ctx.Temp(ps)
    ctx.Emit(&ucode.Load { Size: ps, Addr: sp, D: t })
    ctx.Emit(&ucode.Binary { Op: ucode.OpAdd, Size: ps, S1: sp, S2: ctx.Const(int64(ps)), D: sp })
    self.store(ctx, ins, ins.Operands[0], t)
}

func (self *x86) leave(ctx *Context) {
    ps := ctx.PtrSize()
    sp := self.sp(ctx)
    bp := ctx.Fn.Native(ctx.Conv.BaseRegister(), ps)
    ctx.Emit(&ucode.Mov { Size: ps, S: bp, D: sp })
    ctx.Emit(&ucode.Load { Size: ps, Addr: sp, D: bp })
    ctx.Emit(&ucode.Binary { Op: ucode.OpAdd, Size: ps, S1: sp, S2: ctx.Const(int64(ps)), D: sp })
}

func (self *x86) target(ctx *Context, ins *asm.Instr) ucode.Value {
    op := ins.Operands[0]
    if op.Kind == asm.OpImm {
        return ctx.Const(op.Imm)
    } else {
        return ctx.Fit(self.load(ctx, ins, op), ctx.PtrSize(), false)
    }
}

func (self *x86) call(ctx *Context, ins *asm.Instr) {
    ctx.Emit(&ucode.Call {
        Callee  : self.target(ctx, ins),
        D       : ctx.Retval(ctx.Types.Long()),
        Unknown : true,
        RetType : ctx.Types.Long(),
    })
}

func (self *x86) ret(ctx *Context) {
    if r := ctx.Retval(ctx.RetType); r == nil {
        ctx.Emit(&ucode.Ret{})
    } else {
        ctx.Emit(&ucode.Ret { Values: []ucode.Value { r } })
    }
}

func (self *x86) jmp(ctx *Context, ins *asm.Instr) {
    if ins.Operands[0].Kind == asm.OpImm {
        return
    }

    /* computed jumps through a known table */
    v := self.target(ctx, ins)
    if tab, ok := ctx.Tables[ins.Addr]; ok {
        ctx.Emit(&ucode.Switch { Value: v, Targets: tab })
        return
    }

    /* anything else leaves the function */
    ctx.Emit(&ucode.Call { Callee: v, D: ctx.Retval(ctx.Types.Long()), Unknown: true, RetType: ctx.Types.Long() })
    self.ret(ctx)
}

func (self *x86) jcc(ctx *Context, ins *asm.Instr) {
    dst, ok := ins.Target()
    if !ok {
        ctx.Opaque(ins)
        return
    }
    cond := X86Condition(ctx, ins.Mnemonic[1:])
    ctx.Emit(&ucode.Branch { Cond: cond, Target: ctx.Const(int64(dst)) })
}

// X86Condition lowers a condition code into a boolean formula over the
// flag registers, written to the branch condition register.
func X86Condition(ctx *Context, cc string) *ucode.Register {
    fn := ctx.Fn
    bc := ctx.BranchCondition()
    zf, of, sf, cf := fn.FlagReg("zf"), fn.FlagReg("of"), fn.FlagReg("sf"), fn.FlagReg("cf")

    not := func(s ucode.Value, d *ucode.Register) {
        ctx.Emit(&ucode.Unary { Op: ucode.OpLNot, Size: 1, S: s, D: d })
    }
    bin := func(op ucode.BinaryOp, a ucode.Value, b ucode.Value, d *ucode.Register) {
        ctx.Emit(&ucode.Binary { Op: op, Size: 1, S1: a, S2: b, D: d })
    }

    switch cc {
        case "a", "nbe": {
            t1, t2 := ctx.Temp(1), ctx.Temp(1)
            not(cf, t1)
            not(zf, t2)
            bin(ucode.OpAnd, t1, t2, bc)
        }
        case "ae", "nb", "nc" : not(cf, bc)
        case "e", "z"         : ctx.Emit(&ucode.Mov { Size: 1, S: zf, D: bc })
        case "ne", "nz"       : not(zf, bc)
        case "g", "nle": {
            t1, t2 := ctx.Temp(1), ctx.Temp(1)
            not(zf, t1)
            bin(ucode.OpEquals, sf, of, t2)
            bin(ucode.OpAnd, t1, t2, bc)
        }
        case "ge", "nl": bin(ucode.OpEquals, sf, of, bc)
        case "l", "nge": {
            t := ctx.Temp(1)
            bin(ucode.OpEquals, sf, of, t)
            not(t, bc)
        }
        case "le", "ng": {
            t1, t2 := ctx.Temp(1), ctx.Temp(1)
            bin(ucode.OpEquals, sf, of, t1)
            not(t1, t2)
            bin(ucode.OpOr, zf, t2, bc)
        }
        case "b", "nae", "c" : ctx.Emit(&ucode.Mov { Size: 1, S: cf, D: bc })
        case "be", "na"      : bin(ucode.OpOr, cf, zf, bc)
        case "s"             : ctx.Emit(&ucode.Mov { Size: 1, S: sf, D: bc })
        case "ns"            : not(sf, bc)
        default              : panic("codegen: unsupported x86 condition code: " + cc)
    }
    return bc
}

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

package ucode

import (
    `fmt`
    `strings`

    `github.com/cloudwego/decaf/internal/asm`
    `github.com/cloudwego/decaf/internal/types`
)

// Meta is the bookkeeping attached to every instruction. Defs and Users are
// derived by Function.Analyze and are stale after any mutation.
type Meta struct {
    Block *Block
    Addr  uint64
    Defs  [][]Instr
    Users []Instr
}

type node struct {
    meta Meta
}

func (self *node) Meta() *Meta { return &self.meta }
func (*node) irnode() {}

// Instr is the closed set of micro-code instructions.
type Instr interface {
    fmt.Stringer
    Meta() *Meta
    Usages() []*Value
    Dest() *Register
    SideEffects() bool
    irnode()
}

func format(mnem string, size int, ops string) string {
    if size != 0 {
        mnem = fmt.Sprintf("%s.%d", mnem, size)
    }
    return fmt.Sprintf("%-12s %s", mnem, ops)
}

type Nop struct {
    node
}

func (*Nop) String() string       { return "uNOP" }
func (*Nop) Usages() []*Value     { return nil }
func (*Nop) Dest() *Register      { return nil }
func (*Nop) SideEffects() bool    { return false }

// Asm wraps a native instruction that could not be lowered.
type Asm struct {
    node
    Native *asm.Instr
}

func (self *Asm) String() string    { return format("uASM", 0, "__asm { " + self.Native.Text + " }") }
func (*Asm) Usages() []*Value       { return nil }
func (*Asm) Dest() *Register        { return nil }
func (*Asm) SideEffects() bool      { return true }

type Mov struct {
    node
    Size int
    S    Value
    D    *Register
}

func (self *Mov) String() string      { return format("uMOV", self.Size, fmt.Sprintf("%s := %s", self.D, self.S)) }
func (self *Mov) Usages() []*Value    { return []*Value { &self.S } }
func (self *Mov) Dest() *Register     { return self.D }
func (*Mov) SideEffects() bool        { return false }

type Load struct {
    node
    Size int
    Addr Value
    D    *Register
}

func (self *Load) String() string     { return format("uLOAD", self.Size, fmt.Sprintf("%s := *(%s)", self.D, self.Addr)) }
func (self *Load) Usages() []*Value   { return []*Value { &self.Addr } }
func (self *Load) Dest() *Register    { return self.D }
func (*Load) SideEffects() bool       { return false }

type Store struct {
    node
    Size int
    S    Value
    Addr Value
}

func (self *Store) String() string    { return format("uSTORE", self.Size, fmt.Sprintf("*(%s) := %s", self.Addr, self.S)) }
func (self *Store) Usages() []*Value  { return []*Value { &self.S, &self.Addr } }
func (*Store) Dest() *Register        { return nil }
func (*Store) SideEffects() bool      { return true }

// AddressOf takes the address of a local. The source is not a use of its
// value, only of its storage.
type AddressOf struct {
    node
    Size int
    S    *Register
    D    *Register
}

func (self *AddressOf) String() string   { return format("uADDRESSOF", self.Size, fmt.Sprintf("%s := &(%s)", self.D, self.S)) }
func (*AddressOf) Usages() []*Value      { return nil }
func (self *AddressOf) Dest() *Register  { return self.D }
func (*AddressOf) SideEffects() bool     { return false }

type GetMember struct {
    node
    Size int
    Obj  Value
    Off  int64
    D    *Register
}

func (self *GetMember) String() string {
    return format("uGETMEMBER", self.Size, fmt.Sprintf("%s := %s[0x%x]", self.D, self.Obj, self.Off))
}

func (self *GetMember) Usages() []*Value  { return []*Value { &self.Obj } }
func (self *GetMember) Dest() *Register   { return self.D }
func (*GetMember) SideEffects() bool      { return false }

// SetMember writes part of a local. Obj always holds D itself: the write
// preserves every other byte, so the previous value is read.
type SetMember struct {
    node
    Size int
    D    *Register
    Obj  Value
    Off  int64
    S    Value
}

func NewSetMember(size int, d *Register, off int64, s Value) *SetMember {
    return &SetMember { Size: size, D: d, Obj: d, Off: off, S: s }
}

func (self *SetMember) String() string {
    return format("uSETMEMBER", self.Size, fmt.Sprintf("%s[0x%x] := %s", self.D, self.Off, self.S))
}

func (self *SetMember) Usages() []*Value  { return []*Value { &self.Obj, &self.S } }
func (self *SetMember) Dest() *Register   { return self.D }
func (*SetMember) SideEffects() bool      { return false }

// Fixed reports usage slots that name storage rather than a value, and
// therefore must never be substituted.
func Fixed(ins Instr, slot *Value) bool {
    if sm, ok := ins.(*SetMember); ok {
        return slot == &sm.Obj
    } else {
        return false
    }
}

type Trunc struct {
    node
    Size int
    S    Value
    D    *Register
}

func (self *Trunc) String() string    { return format("uTRUNC", self.Size, fmt.Sprintf("%s := %s", self.D, self.S)) }
func (self *Trunc) Usages() []*Value  { return []*Value { &self.S } }
func (self *Trunc) Dest() *Register   { return self.D }
func (*Trunc) SideEffects() bool      { return false }

type Extend struct {
    node
    Size   int
    S      Value
    D      *Register
    Signed bool
}

func (self *Extend) String() string   { return format("uEXTEND", self.Size, fmt.Sprintf("%s := %s", self.D, self.S)) }
func (self *Extend) Usages() []*Value { return []*Value { &self.S } }
func (self *Extend) Dest() *Register  { return self.D }
func (*Extend) SideEffects() bool     { return false }

type BinaryOp uint8

const (
    OpAdd BinaryOp = iota
    OpSub
    OpMul
    OpDiv
    OpMod
    OpAnd
    OpOr
    OpXor
    OpShl
    OpShr
    OpSar
    OpEquals
)

var _BinaryOps = [...]struct { mnem string; sym string } {
    OpAdd    : { "uADD"   , "+"  },
    OpSub    : { "uSUB"   , "-"  },
    OpMul    : { "uMUL"   , "*"  },
    OpDiv    : { "uDIV"   , "/"  },
    OpMod    : { "uMOD"   , "%"  },
    OpAnd    : { "uAND"   , "&"  },
    OpOr     : { "uOR"    , "|"  },
    OpXor    : { "uXOR"   , "^"  },
    OpShl    : { "uSHL"   , "<<" },
    OpShr    : { "uSHR"   , ">>" },
    OpSar    : { "uSAR"   , ">>" },
    OpEquals : { "uEQUALS", "==" },
}

func (self BinaryOp) String() string {
    return _BinaryOps[self].sym
}

// Commutative reports whether operands may be swapped.
func (self BinaryOp) Commutative() bool {
    switch self {
        case OpAdd, OpMul, OpAnd, OpOr, OpXor, OpEquals : return true
        default                                        : return false
    }
}

type Binary struct {
    node
    Op   BinaryOp
    Size int
    S1   Value
    S2   Value
    D    *Register
}

func (self *Binary) String() string {
    return format(_BinaryOps[self.Op].mnem, self.Size, fmt.Sprintf("%s := %s %s %s", self.D, self.S1, self.Op, self.S2))
}

func (self *Binary) Usages() []*Value  { return []*Value { &self.S1, &self.S2 } }
func (self *Binary) Dest() *Register   { return self.D }
func (*Binary) SideEffects() bool      { return false }

type UnaryOp uint8

const (
    OpNeg UnaryOp = iota
    OpNot
    OpLNot
)

var _UnaryOps = [...]struct { mnem string; sym string } {
    OpNeg  : { "uNEG" , "-" },
    OpNot  : { "uNOT" , "~" },
    OpLNot : { "uLNOT", "!" },
}

func (self UnaryOp) String() string {
    return _UnaryOps[self].sym
}

type Unary struct {
    node
    Op   UnaryOp
    Size int
    S    Value
    D    *Register
}

func (self *Unary) String() string {
    return format(_UnaryOps[self.Op].mnem, self.Size, fmt.Sprintf("%s := %s%s", self.D, self.Op, self.S))
}

func (self *Unary) Usages() []*Value  { return []*Value { &self.S } }
func (self *Unary) Dest() *Register   { return self.D }
func (*Unary) SideEffects() bool      { return false }

type FlagType uint8

const (
    FlagCarry FlagType = iota
    FlagParity
    FlagAdjust
    FlagZero
    FlagSign
    FlagOverflow
)

var _FlagTypes = [...]string {
    FlagCarry    : "CARRY",
    FlagParity   : "PARITY",
    FlagAdjust   : "ADJUST",
    FlagZero     : "ZERO",
    FlagSign     : "SIGN",
    FlagOverflow : "OVERFLOW",
}

func (self FlagType) String() string {
    return _FlagTypes[self]
}

type FlagOp uint8

const (
    FlagNone FlagOp = iota
    FlagAdd
    FlagSub
    FlagAnd
    FlagXor
    FlagOr
)

var _FlagOps = [...]string {
    FlagNone : "",
    FlagAdd  : "+",
    FlagSub  : "-",
    FlagAnd  : "&",
    FlagXor  : "^",
    FlagOr   : "|",
}

func (self FlagOp) String() string {
    return _FlagOps[self]
}

// SetFlag computes one condition-code bit of "S1 op S2".
type SetFlag struct {
    node
    Flag *Register
    Type FlagType
    Op   FlagOp
    S1   Value
    S2   Value
}

func (self *SetFlag) String() string {
    expr := self.S1.String()
    if self.Op != FlagNone {
        expr = fmt.Sprintf("%s %s %s", self.S1, self.Op, self.S2)
    }
    return format("uFLAG", 1, fmt.Sprintf("%s := %s(%s)", self.Flag, self.Type, expr))
}

func (self *SetFlag) Usages() []*Value {
    if self.Op == FlagNone {
        return []*Value { &self.S1 }
    } else {
        return []*Value { &self.S1, &self.S2 }
    }
}

func (self *SetFlag) Dest() *Register   { return self.Flag }
func (*SetFlag) SideEffects() bool      { return false }

// Branch transfers control to Target when Cond is non-zero, otherwise
// execution falls through.
type Branch struct {
    node
    Cond   Value
    Target *Constant
}

func (self *Branch) String() string    { return format("uBRANCH", 0, fmt.Sprintf("%s, %s", self.Cond, self.Target)) }
func (self *Branch) Usages() []*Value  { return []*Value { &self.Cond } }
func (*Branch) Dest() *Register        { return nil }
func (self *Branch) Addr() uint64      { return self.Target.Unsigned() }
func (*Branch) SideEffects() bool      { return true }

type Switch struct {
    node
    Value   Value
    Targets []uint64
}

func (self *Switch) String() string {
    buf := make([]string, 0, len(self.Targets))
    for _, v := range self.Targets {
        buf = append(buf, fmt.Sprintf("0x%x", v))
    }
    return format("uSWITCH", 0, fmt.Sprintf("%s in [%s]", self.Value, strings.Join(buf, ", ")))
}

func (self *Switch) Usages() []*Value  { return []*Value { &self.Value } }
func (*Switch) Dest() *Register        { return nil }
func (*Switch) SideEffects() bool      { return true }

// Call invokes Callee. Unknown is set while the parameter list is only a
// guess, or open-ended for variadic callees.
type Call struct {
    node
    Callee     Value
    D          *Register
    Params     []Value
    Unknown    bool
    ParamTypes []*types.Type
    RetType    *types.Type
}

func (self *Call) String() string {
    buf := make([]string, 0, len(self.Params))
    for _, p := range self.Params {
        buf = append(buf, p.String())
    }
    if self.Unknown {
        buf = append(buf, "...")
    }
    call := fmt.Sprintf("%s(%s)", self.Callee, strings.Join(buf, ", "))
    if self.D != nil {
        call = fmt.Sprintf("%s := %s", self.D, call)
    }
    return format("uCALL", 0, call)
}

func (self *Call) Usages() []*Value {
    ret := make([]*Value, 0, len(self.Params) + 1)
    ret = append(ret, &self.Callee)
    for i := range self.Params {
        ret = append(ret, &self.Params[i])
    }
    return ret
}

func (self *Call) Dest() *Register   { return self.D }
func (*Call) SideEffects() bool      { return true }

// CalleeName returns the symbolic callee name, if resolved.
func (self *Call) CalleeName() string {
    if c, ok := self.Callee.(*Constant); ok {
        return c.Symbol
    } else {
        return ""
    }
}

type Ret struct {
    node
    Values []Value
}

func (self *Ret) String() string {
    buf := make([]string, 0, len(self.Values))
    for _, v := range self.Values {
        buf = append(buf, v.String())
    }
    return format("uRET", 0, strings.Join(buf, ", "))
}

func (self *Ret) Usages() []*Value {
    ret := make([]*Value, 0, len(self.Values))
    for i := range self.Values {
        ret = append(ret, &self.Values[i])
    }
    return ret
}

func (*Ret) Dest() *Register    { return nil }
func (*Ret) SideEffects() bool  { return true }

// Registers returns every register read by an instruction.
func Registers(ins Instr) []*Register {
    var ret []*Register
    for _, p := range ins.Usages() {
        if r, ok := (*p).(*Register); ok {
            ret = append(ret, r)
        }
    }
    return ret
}

// Reads reports whether an instruction reads a register.
func Reads(ins Instr, reg *Register) bool {
    for _, r := range Registers(ins) {
        if r == reg {
            return true
        }
    }
    return false
}

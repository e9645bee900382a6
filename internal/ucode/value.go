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
)

type RegKind uint8

const (
    Native RegKind = iota
    Extra
    Flag
    Temp
    Custom
)

func (self RegKind) String() string {
    switch self {
        case Native : return "native"
        case Extra  : return "extra"
        case Flag   : return "flag"
        case Temp   : return "temp"
        case Custom : return "custom"
        default     : return "invalid"
    }
}

// Value is an operand of a micro-code instruction, either a *Register or
// a *Constant.
type Value interface {
    fmt.Stringer
    Width() int
    value()
}

func (*Register) value() {}
func (*Constant) value() {}

// Register is interned per function: the same (name, kind) pair always
// yields the same pointer.
type Register struct {
    Name   string
    Size   int
    Kind   RegKind
    Parent *Register
}

func (self *Register) Width() int {
    return self.Size
}

func (self *Register) String() string {
    return fmt.Sprintf("%s.%d", self.Name, self.Size)
}

// Constant is an immediate value. Symbol is display decoration only.
type Constant struct {
    Size   int
    Value  int64
    Symbol string
}

func Const(size int, v int64) *Constant {
    return &Constant { Size: size, Value: Normalize(v, size) }
}

func Symbol(size int, v int64, sym string) *Constant {
    return &Constant { Size: size, Value: Normalize(v, size), Symbol: sym }
}

func (self *Constant) Width() int {
    return self.Size
}

func (self *Constant) String() string {
    if self.Symbol != "" {
        return self.Symbol
    } else if self.Value >= 0 {
        return fmt.Sprintf("0x%x", self.Value)
    } else {
        return fmt.Sprintf("-0x%x", -self.Value)
    }
}

// Unsigned returns the constant value zero-extended from its width.
func (self *Constant) Unsigned() uint64 {
    if self.Size >= 8 || self.Size <= 0 {
        return uint64(self.Value)
    } else {
        return uint64(self.Value) & (1 << (uint(self.Size) * 8) - 1)
    }
}

// Normalize sign-extends the low size bytes of v.
func Normalize(v int64, size int) int64 {
    if size >= 8 || size <= 0 {
        return v
    } else {
        s := 64 - uint(size) * 8
        return (v << s) >> s
    }
}

// Equal compares two values: registers by name and kind, constants by
// width and value.
func Equal(a Value, b Value) bool {
    switch x := a.(type) {
        case *Register: {
            y, ok := b.(*Register)
            return ok && x.Name == y.Name && x.Kind == y.Kind
        }
        case *Constant: {
            y, ok := b.(*Constant)
            return ok && x.Size == y.Size && x.Value == y.Value
        }
        default: {
            return a == nil && b == nil
        }
    }
}

func AsConst(v Value) (*Constant, bool) {
    c, ok := v.(*Constant)
    return c, ok
}

func AsReg(v Value) (*Register, bool) {
    r, ok := v.(*Register)
    return r, ok
}

// Location is where an ABI places an argument or a return value.
type Location struct {
    Reg    string
    Size   int
    Stack  bool
    Offset int64
    None   bool
}

func (self Location) String() string {
    switch {
        case self.None  : return "<none>"
        case self.Stack : return fmt.Sprintf("[sp+0x%x]", self.Offset)
        default         : return self.Reg
    }
}

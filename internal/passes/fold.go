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

package passes

import (
    `github.com/cloudwego/decaf/internal/ucode`
)

// Evaluate computes "a op b" at the given width. Division and remainder by
// zero are not folded.
func Evaluate(op ucode.BinaryOp, size int, a int64, b int64) (int64, bool) {
    var v int64
    ua := ucode.Const(size, a).Unsigned()
    sh := uint64(b) & uint64(size * 8 - 1)

    /* compute at full width, then wrap */
    switch op {
        case ucode.OpAdd : v = a + b
        case ucode.OpSub : v = a - b
        case ucode.OpMul : v = a * b
        case ucode.OpAnd : v = a & b
        case ucode.OpOr  : v = a | b
        case ucode.OpXor : v = a ^ b
        case ucode.OpShl : v = a << sh
        case ucode.OpShr : v = int64(ua >> sh)
        case ucode.OpSar : v = ucode.Normalize(a, size) >> sh
        case ucode.OpEquals : {
            if ucode.Normalize(a, size) == ucode.Normalize(b, size) {
                v = 1
            }
        }
        case ucode.OpDiv : {
            if b == 0 {
                return 0, false
            }
            v = a / b
        }
        case ucode.OpMod : {
            if b == 0 {
                return 0, false
            }
            v = a % b
        }
        default: {
            return 0, false
        }
    }
    return ucode.Normalize(v, size), true
}

// EvaluateUnary computes "op a" at the given width.
func EvaluateUnary(op ucode.UnaryOp, size int, a int64) int64 {
    switch op {
        case ucode.OpNeg  : return ucode.Normalize(-a, size)
        case ucode.OpNot  : return ucode.Normalize(^a, size)
        case ucode.OpLNot : if a == 0 { return 1 } else { return 0 }
        default           : panic("passes: invalid unary operator")
    }
}

// identity returns the value "x op c" reduces to without computing it.
func identity(v *ucode.Binary) (ucode.Value, bool) {
    c, ok := constOf(v.S2)
    if !ok {
        return nil, false
    }

    /* absorbing and neutral constants */
    switch {
        case c == 0 && (v.Op == ucode.OpAdd || v.Op == ucode.OpSub || v.Op == ucode.OpOr || v.Op == ucode.OpXor) : return v.S1, true
        case c == 0 && (v.Op == ucode.OpShl || v.Op == ucode.OpShr || v.Op == ucode.OpSar)                   : return v.S1, true
        case c == 0 && (v.Op == ucode.OpMul || v.Op == ucode.OpAnd)                                          : return ucode.Const(v.Size, 0), true
        case c == 1 && (v.Op == ucode.OpMul || v.Op == ucode.OpDiv)                                          : return v.S1, true
        case c == -1 && v.Op == ucode.OpAnd                                                                 : return v.S1, true
        case c == -1 && v.Op == ucode.OpOr                                                                  : return ucode.Const(v.Size, -1), true
        default                                                                                             : return nil, false
    }
}

// fold reduces one instruction whose value is known. The result always
// writes the same destination.
func fold(ins ucode.Instr) (ucode.Instr, bool) {
    switch v := ins.(type) {
        case *ucode.Binary: {
            a, aok := constOf(v.S1)
            b, bok := constOf(v.S2)

            /* "x ^ x" and "x - x" */
            if r, ok := v.S1.(*ucode.Register); ok && v.S2 == ucode.Value(r) && (v.Op == ucode.OpXor || v.Op == ucode.OpSub) {
                return &ucode.Mov { Size: v.Size, S: ucode.Const(v.Size, 0), D: v.D }, true
            }

            /* both operands known */
            if aok && bok {
                if r, ok := Evaluate(v.Op, v.Size, a, b); ok {
                    return &ucode.Mov { Size: v.Size, S: ucode.Symbol(v.Size, r, symbolOf(v.Op, v.S1, b)), D: v.D }, true
                }
                return nil, false
            }

            /* one operand known */
            if s, ok := identity(v); ok {
                return &ucode.Mov { Size: v.Size, S: s, D: v.D }, true
            }
            return nil, false
        }
        case *ucode.Unary: {
            if a, ok := constOf(v.S); ok {
                return &ucode.Mov { Size: v.Size, S: ucode.Const(v.Size, EvaluateUnary(v.Op, v.Size, a)), D: v.D }, true
            }
            return nil, false
        }
        case *ucode.Trunc: {
            if k, ok := v.S.(*ucode.Constant); ok {
                return &ucode.Mov { Size: v.Size, S: ucode.Symbol(v.Size, k.Value, k.Symbol), D: v.D }, true
            }
            return nil, false
        }
        case *ucode.Extend: {
            if k, ok := v.S.(*ucode.Constant); !ok {
                return nil, false
            } else if v.Signed {
                return &ucode.Mov { Size: v.Size, S: ucode.Symbol(v.Size, k.Value, k.Symbol), D: v.D }, true
            } else {
                return &ucode.Mov { Size: v.Size, S: ucode.Symbol(v.Size, int64(k.Unsigned()), k.Symbol), D: v.D }, true
            }
        }
        default: {
            return nil, false
        }
    }
}

// symbolOf keeps the name of a symbol the operation leaves unchanged.
func symbolOf(op ucode.BinaryOp, v ucode.Value, b int64) string {
    if op == ucode.OpMul || op == ucode.OpAnd || op == ucode.OpDiv || op == ucode.OpMod || op == ucode.OpEquals {
        return ""
    } else if k, ok := v.(*ucode.Constant); ok && b == 0 {
        return k.Symbol
    } else {
        return ""
    }
}

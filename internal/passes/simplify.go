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

// Simplify performs local rewrites that never need more than the reaching
// definitions of one operand.
type Simplify struct{}

func (self Simplify) Apply(c *Context) bool {
    ok := false
    ok = self.pc(c) || ok
    ok = self.constants(c) || ok
    ok = self.moves(c) || ok
    ok = self.chains(c) || ok
    ok = self.results(c) || ok
    ok = self.normalize(c) || ok
    return ok
}

// pc replaces reads of the program counter with the address of the reading
// instruction.
func (self Simplify) pc(c *Context) bool {
    ret := false
    for _, ins := range c.Fn.Instrs() {
        for _, p := range ins.Usages() {
            if r, ok := (*p).(*ucode.Register); ok && r.Kind == ucode.Native && r.Name == c.Fn.PC {
                *p = ucode.Const(c.ptr(), int64(ins.Meta().Addr))
                ret = true
            }
        }
    }
    return ret
}

func (self Simplify) constants(c *Context) bool {
    ret := false
    for _, ins := range c.Fn.Instrs() {
        if v, ok := fold(ins); ok {
            c.Fn.ReplaceWith(ins, v)
            ret = true
        }
    }
    return ret
}

// moves drops copies of a register onto itself.
func (self Simplify) moves(c *Context) bool {
    ret := false
    for _, ins := range c.Fn.Instrs() {
        if v, ok := ins.(*ucode.Mov); ok && v.S == ucode.Value(v.D) {
            c.Fn.Nopify(ins)
            ret = true
        }
    }
    return ret
}

// offsetOf returns the signed displacement of "x + c" and "x - c".
func offsetOf(v *ucode.Binary) (int64, bool) {
    c, ok := constOf(v.S2)
    switch {
        case !ok                 : return 0, false
        case v.Op == ucode.OpAdd : return c, true
        case v.Op == ucode.OpSub : return -c, true
        default                  : return 0, false
    }
}

// chains merges "t = x + a; y = t + b" into "y = x + (a + b)" when x is
// unchanged in between.
func (self Simplify) chains(c *Context) bool {
    ret := false
    c.Fn.Analyze()

    /* every displacement of a displaced value */
    for _, ins := range c.Fn.Instrs() {
        v, ok := ins.(*ucode.Binary)
        if !ok {
            continue
        }
        b, ok := offsetOf(v)
        if !ok {
            continue
        }

        /* the first link of the chain */
        def, ok := single(v, &v.S1)
        if !ok {
            continue
        }
        p, ok := def.(*ucode.Binary)
        if !ok || p.Size != v.Size {
            continue
        }
        a, ok := offsetOf(p)
        if !ok || p.S1 == ucode.Value(p.D) || !stable(p.S1, p, v) {
            continue
        }

        /* merge the displacements */
        v.Op = ucode.OpAdd
        v.S1 = p.S1
        v.S2 = ucode.Const(v.Size, a + b)
        ret = true
    }
    return ret
}

// results drops call results nobody reads.
func (self Simplify) results(c *Context) bool {
    ret := false
    c.Fn.Analyze()
    alias := aliased(c.Fn)

    /* the call still happens, only the assignment goes */
    for _, cl := range c.Fn.Calls() {
        if cl.D != nil && len(cl.Meta().Users) == 0 && !alias[cl.D] {
            cl.D = nil
            ret = true
        }
    }
    return ret
}

// normalize puts constants on the right and turns negative displacements
// into the opposite operation.
func (self Simplify) normalize(c *Context) bool {
    ret := false
    for _, ins := range c.Fn.Instrs() {
        v, ok := ins.(*ucode.Binary)
        if !ok {
            continue
        }

        /* constant left operands */
        if _, ok := v.S1.(*ucode.Constant); ok && v.Op.Commutative() {
            if _, ok := v.S2.(*ucode.Register); ok {
                v.S1, v.S2 = v.S2, v.S1
                ret = true
            }
        }

        /* "x - (-c)" and "x + (-c)" */
        if k, ok := constOf(v.S2); ok && k < 0 && (v.Op == ucode.OpAdd || v.Op == ucode.OpSub) {
            if n := ucode.Normalize(-k, v.Size); n > 0 {
                if v.Op == ucode.OpAdd {
                    v.Op = ucode.OpSub
                } else {
                    v.Op = ucode.OpAdd
                }
                v.S2 = ucode.Const(v.Size, n)
                ret = true
            }
        }
    }
    return ret
}

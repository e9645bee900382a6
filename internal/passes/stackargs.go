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
    `strings`

    `github.com/cloudwego/decaf/internal/ucode`
)

// StackArgs turns outgoing arguments stored in stack slots into direct call
// arguments, then drops the stack pointer adjustments that only existed to
// make room for them.
type StackArgs struct{}

func (self StackArgs) Apply(c *Context) bool {
    ok := false
    ok = self.arguments(c) || ok
    ok = self.adjustments(c) || ok
    return ok
}

func isSPSlot(r *ucode.Register) bool {
    return r.Kind == ucode.Custom && strings.HasPrefix(r.Name, "var_sp_")
}

func (self StackArgs) arguments(c *Context) bool {
    ret := false
    alias := aliased(c.Fn)

    /* outgoing arguments of every resolved call */
    for _, cl := range c.Fn.Calls() {
        for i, p := range cl.Params {
            r, ok := p.(*ucode.Register)
            if !ok || !isSPSlot(r) || alias[r] {
                continue
            }
            if v, ok := self.stored(cl, r); ok {
                cl.Params[i] = v
                ret = true
            }
        }
    }
    return ret
}

// stored finds the value last copied into a slot before a call of the same
// block, if it is still intact at the call.
func (self StackArgs) stored(cl *ucode.Call, r *ucode.Register) (ucode.Value, bool) {
    b := cl.Meta().Block
    for i := ucode.Index(cl) - 1; i >= 0; i-- {
        ins := b.Instrs[i]

        /* the slot is read before the call, leave it alone */
        if ucode.Reads(ins, r) {
            return nil, false
        }

        /* found the write */
        if ins.Dest() == r {
            if mv, ok := ins.(*ucode.Mov); ok && stable(mv.S, mv, cl) {
                return mv.S, true
            } else {
                return nil, false
            }
        }
    }
    return nil, false
}

// adjustments removes "sp = sp +/- c" when nothing but other adjustments
// reads the stack pointer.
func (self StackArgs) adjustments(c *Context) bool {
    sp := c.Fn.Lookup(c.Fn.SP)
    if sp == nil {
        return false
    }

    /* every reader must be an adjustment */
    var adj []ucode.Instr
    for _, ins := range c.Fn.Instrs() {
        _, isadj := spDelta(ins, sp)
        switch {
            case isadj                  : adj = append(adj, ins)
            case ucode.Reads(ins, sp)   : return false
            case ins.Dest() == sp       : return false
        }
    }

    /* and then none of them matters */
    for _, ins := range adj {
        c.Fn.Delete(ins)
    }
    return len(adj) != 0
}

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

// Eliminate removes instructions whose result is never read.
//
// Writes to machine registers and frame variables are kept when a call
// with an incomplete parameter list follows in the same block before the
// register is written again, since such a call may still turn out to read
// it.
type Eliminate struct{}

func (self Eliminate) Apply(c *Context) bool {
    fn := c.Fn
    fn.Analyze()

    /* collect first, the users are stale after the first removal */
    ret := false
    alias := aliased(fn)
    dead := []ucode.Instr(nil)

    /* side-effect free and unread */
    for _, ins := range fn.Instrs() {
        d := ins.Dest()
        if d == nil || ins.SideEffects() || alias[d] || len(ins.Meta().Users) != 0 {
            continue
        }
        if d.Kind != ucode.Temp && self.pending(ins, d) {
            continue
        }
        dead = append(dead, ins)
    }

    /* remove them all */
    for _, ins := range dead {
        fn.Delete(ins)
        ret = true
    }
    return ret
}

// pending reports whether an unknown call may read d after ins.
func (self Eliminate) pending(ins ucode.Instr, d *ucode.Register) bool {
    b := ins.Meta().Block
    for _, v := range b.Instrs[ucode.Index(ins) + 1:] {
        if cl, ok := v.(*ucode.Call); ok && cl.Unknown {
            return true
        }
        if v.Dest() == d {
            return false
        }
    }
    return false
}

// StripNops deletes every no-op.
type StripNops struct{}

func (self StripNops) Apply(c *Context) bool {
    ret := false
    for _, ins := range c.Fn.Instrs() {
        if _, ok := ins.(*ucode.Nop); ok {
            c.Fn.Delete(ins)
            ret = true
        }
    }
    return ret
}

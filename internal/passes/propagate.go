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
    `github.com/cloudwego/decaf/internal/graph`
    `github.com/cloudwego/decaf/internal/ucode`
)

// Propagate replaces reads of a copied register with the copy source.
//
// A read of r is rewritten to s when "r = s" is the only definition of r
// reaching the read, neither r nor s has its address taken, and s provably
// holds the same value at the read: s is a constant, or the copy precedes
// the read in the same block with no write to s in between, or the copy
// dominates the read and s is never written at all.
type Propagate struct{}

func (self Propagate) Apply(c *Context) bool {
    fn := c.Fn
    fn.Analyze()

    /* facts that do not change while propagating */
    ret := false
    alias := aliased(fn)
    count := writers(fn)
    idom := fn.Dominators()

    /* check every usage slot */
    for _, ins := range fn.Instrs() {
        for _, p := range ins.Usages() {
            r, ok := (*p).(*ucode.Register)
            if !ok || alias[r] || ucode.Fixed(ins, p) {
                continue
            }

            /* the only definition must be a copy of r */
            def, ok := single(ins, p)
            if !ok {
                continue
            }
            mv, ok := def.(*ucode.Mov)
            if !ok || mv.D != r || mv.S == nil || mv.S.Width() != r.Size {
                continue
            }

            /* and the source must still hold */
            if self.valid(mv, ins, alias, count, idom) {
                *p = mv.S
                ret = true
            }
        }
    }
    return ret
}

func (self Propagate) valid(mv *ucode.Mov, use ucode.Instr, alias map[*ucode.Register]bool, count map[*ucode.Register]int, idom map[int]int) bool {
    src, isreg := mv.S.(*ucode.Register)
    from, to := mv.Meta().Block, use.Meta().Block

    /* never move an aliased value around */
    if isreg && (alias[src] || src == mv.D) {
        return false
    }

    /* same block, the copy must come first */
    if from == to {
        return stable(mv.S, mv, use)
    }

    /* otherwise every path to the use passes through the copy */
    if !graph.Dominates(idom, from.ID, to.ID) {
        return false
    }
    return !isreg || count[src] == 0
}

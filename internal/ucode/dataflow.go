/*
 * Copyright 2024 CloudWeGo Authors
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

type defmap map[*Register][]Instr

func (self defmap) clone() defmap {
    ret := make(defmap, len(self))
    for k, v := range self {
        ret[k] = append([]Instr(nil), v...)
    }
    return ret
}

func (self defmap) merge(other defmap) {
    for k, v := range other {
        for _, ins := range v {
            if !contains(self[k], ins) {
                self[k] = append(self[k], ins)
            }
        }
    }
}

func (self defmap) equal(other defmap) bool {
    if len(self) != len(other) {
        return false
    }
    for k, v := range self {
        w, ok := other[k]
        if !ok || len(w) != len(v) {
            return false
        }
        for _, ins := range v {
            if !contains(w, ins) {
                return false
            }
        }
    }
    return true
}

func contains(v []Instr, ins Instr) bool {
    for _, x := range v {
        if x == ins {
            return true
        }
    }
    return false
}

// transfer runs a block forward from its in-map. When link is set, the
// def-use links of every instruction are recorded on the way.
func (self *Block) transfer(link bool) defmap {
    cur := self.in.clone()
    for _, ins := range self.Instrs {
        m := ins.Meta()

        /* resolve every usage against the current definitions */
        if link {
            uses := ins.Usages()
            m.Defs = make([][]Instr, len(uses))
            for i, p := range uses {
                r, ok := (*p).(*Register)
                if !ok {
                    continue
                }
                m.Defs[i] = append([]Instr(nil), cur[r]...)
                for _, d := range m.Defs[i] {
                    if dm := d.Meta(); !contains(dm.Users, ins) {
                        dm.Users = append(dm.Users, ins)
                    }
                }
            }
        }

        /* a write shadows all earlier writers */
        if d := ins.Dest(); d != nil {
            cur[d] = []Instr { ins }
        }
    }
    return cur
}

// Analyze computes reaching definitions to a fixpoint and rebuilds the
// def-use links of every instruction.
func (self *Function) Analyze() {
    blocks := self.Live()
    for _, b := range blocks {
        b.in = defmap{}
        b.out = defmap{}
        for _, ins := range b.Instrs {
            ins.Meta().Defs = nil
            ins.Meta().Users = nil
        }
    }

    /* iterate until no block changes */
    for changed := true; changed; {
        changed = false
        for _, b := range blocks {
            in := defmap{}
            for _, p := range b.Pred {
                in.merge(self.Blocks[p].out)
            }
            b.in = in
            out := b.transfer(false)
            if !out.equal(b.out) {
                b.out = out
                changed = true
            }
        }
    }

    /* final pass records the links */
    for _, b := range blocks {
        b.transfer(true)
    }
}

// Defs returns the reaching definitions of a usage slot. The function must
// have been analyzed since the last mutation.
func Defs(ins Instr, slot *Value) []Instr {
    for i, p := range ins.Usages() {
        if p == slot {
            if m := ins.Meta(); i < len(m.Defs) {
                return m.Defs[i]
            } else {
                return nil
            }
        }
    }
    return nil
}

// DefsOf returns the reaching definitions of a register read by ins.
func DefsOf(ins Instr, reg *Register) []Instr {
    var ret []Instr
    for i, p := range ins.Usages() {
        if r, ok := (*p).(*Register); ok && r == reg {
            if m := ins.Meta(); i < len(m.Defs) {
                for _, d := range m.Defs[i] {
                    if !contains(ret, d) {
                        ret = append(ret, d)
                    }
                }
            }
        }
    }
    return ret
}

// DefsAtEnd returns the definitions of reg reaching the end of a block.
func DefsAtEnd(b *Block, reg *Register) []Instr {
    return b.out[reg]
}

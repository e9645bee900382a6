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

package bb

import (
    `sort`

    `github.com/cloudwego/decaf/internal/asm`
    `github.com/cloudwego/decaf/internal/graph`
)

// Oracle answers control-flow questions about native instructions.
type Oracle interface {
    IsCall(ins *asm.Instr) bool
    IsReturn(ins *asm.Instr) bool
    IsUnconditionalJump(ins *asm.Instr) bool
    IsConditionalJump(ins *asm.Instr) bool
    JumpDestination(ins *asm.Instr) (uint64, bool)
}

// TableOracle is implemented by oracles that know the targets of computed
// jumps through jump tables.
type TableOracle interface {
    JumpTable(ins *asm.Instr) ([]uint64, bool)
}

func jumpTable(o Oracle, ins *asm.Instr) ([]uint64, bool) {
    if t, ok := o.(TableOracle); ok {
        return t.JumpTable(ins)
    } else {
        return nil, false
    }
}

type _Builder struct {
    oracle Oracle
    instrs []*asm.Instr
    pins   map[uint64]bool
}

func isTransfer(o Oracle, ins *asm.Instr) bool {
    return o.IsCall(ins) || o.IsReturn(ins) || o.IsUnconditionalJump(ins) || o.IsConditionalJump(ins)
}

func isJump(o Oracle, ins *asm.Instr) bool {
    return o.IsUnconditionalJump(ins) || o.IsConditionalJump(ins)
}

// Build partitions a linear instruction stream into basic blocks.
func Build(instrs []*asm.Instr, oracle Oracle) *Graph {
    b := &_Builder {
        oracle : oracle,
        instrs : instrs,
        pins   : make(map[uint64]bool),
    }
    return b.build()
}

func (self *_Builder) scan() {
    if len(self.instrs) != 0 {
        self.pins[self.instrs[0].Addr] = true
    }

    /* entry, branch targets and the instruction after every transfer */
    for i, ins := range self.instrs {
        if !isTransfer(self.oracle, ins) {
            continue
        }
        if i + 1 < len(self.instrs) {
            self.pins[self.instrs[i + 1].Addr] = true
        }
        if isJump(self.oracle, ins) {
            if dst, ok := self.oracle.JumpDestination(ins); ok {
                self.pins[dst] = true
            }
            if tab, ok := jumpTable(self.oracle, ins); ok {
                for _, dst := range tab {
                    self.pins[dst] = true
                }
            }
        }
    }
}

func (self *_Builder) slice() *Graph {
    g := new(Graph)
    var cur *Block

    /* cut the stream at every leader */
    for _, ins := range self.instrs {
        if cur == nil || self.pins[ins.Addr] {
            cur = &Block { ID: len(g.Blocks), Addr: ins.Addr }
            g.Blocks = append(g.Blocks, cur)
        }
        cur.Instrs = append(cur.Instrs, ins)
    }
    return g
}

func (self *_Builder) link(g *Graph) {
    addrs := make(map[uint64]int, len(g.Blocks))
    for _, b := range g.Blocks {
        addrs[b.Addr] = b.ID
    }

    /* fallthrough and branch edges */
    for i, b := range g.Blocks {
        last := b.Last()
        term := self.oracle.IsUnconditionalJump(last) || self.oracle.IsReturn(last)

        /* fallthrough to the next block */
        if !term && i + 1 < len(g.Blocks) {
            g.Link(b.ID, g.Blocks[i + 1].ID)
        }

        /* statically known jump targets, missing targets stay unknown */
        if isJump(self.oracle, last) {
            if dst, ok := self.oracle.JumpDestination(last); ok {
                if id, ok := addrs[dst]; ok {
                    g.Link(b.ID, id)
                }
            }
            if tab, ok := jumpTable(self.oracle, last); ok {
                for _, dst := range tab {
                    if id, ok := addrs[dst]; ok {
                        g.Link(b.ID, id)
                    }
                }
            }
        }
    }
}

func (self *_Builder) build() *Graph {
    self.scan()
    g := self.slice()
    self.link(g)

    /* flags */
    for _, b := range g.Blocks {
        b.Exit = len(b.Succ) == 0
    }
    if len(g.Blocks) != 0 {
        g.Blocks[0].Entry = true
    }
    return g
}

// Leaders returns the sorted block start addresses, mostly useful for diagnostics.
func Leaders(g *Graph) []uint64 {
    var ret []uint64
    for _, b := range g.Live() {
        ret = append(ret, b.Addr)
    }
    sort.Slice(ret, func(i int, j int) bool { return ret[i] < ret[j] })
    return ret
}

// Prune removes the blocks unreachable from the entry block.
func Prune(g *Graph) int {
    n := 0
    live := graph.NewSet(graph.Reachable(g.Entry, func(id int) []int { return g.Blocks[id].Succ })...)

    /* drop everything not visited */
    for _, b := range g.Live() {
        if !live.Has(b.ID) {
            g.Remove(b.ID)
            n++
        }
    }
    return n
}

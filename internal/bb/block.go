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
    `fmt`
    `strings`

    `github.com/cloudwego/decaf/internal/asm`
    `github.com/cloudwego/decaf/internal/graph`
)

type Block struct {
    ID     int
    Addr   uint64
    Instrs []*asm.Instr
    Succ   graph.Set
    Pred   graph.Set
    Entry  bool
    Exit   bool
}

func (self *Block) Last() *asm.Instr {
    if len(self.Instrs) == 0 {
        return nil
    } else {
        return self.Instrs[len(self.Instrs) - 1]
    }
}

// End is the address just past the last instruction.
func (self *Block) End() uint64 {
    if ins := self.Last(); ins == nil {
        return self.Addr
    } else {
        return ins.End()
    }
}

func (self *Block) String() string {
    buf := []string { fmt.Sprintf("bb_%d (0x%x) -> %s", self.ID, self.Addr, self.Succ) }
    for _, ins := range self.Instrs {
        buf = append(buf, fmt.Sprintf("    0x%x: %s", ins.Addr, ins.Text))
    }
    return strings.Join(buf, "\n")
}

// Graph is an arena of blocks indexed by block ID.
type Graph struct {
    Blocks []*Block
    Entry  int
}

func (self *Graph) Block(id int) *Block {
    if id < 0 || id >= len(self.Blocks) {
        return nil
    } else {
        return self.Blocks[id]
    }
}

// Live returns all blocks that have not been removed, in ID order.
func (self *Graph) Live() []*Block {
    ret := make([]*Block, 0, len(self.Blocks))
    for _, b := range self.Blocks {
        if b != nil {
            ret = append(ret, b)
        }
    }
    return ret
}

func (self *Graph) Exits() []*Block {
    var ret []*Block
    for _, b := range self.Live() {
        if b.Exit {
            ret = append(ret, b)
        }
    }
    return ret
}

// Link adds the mutual edge from -> to.
func (self *Graph) Link(from int, to int) {
    self.Blocks[from].Succ.Add(to)
    self.Blocks[to].Pred.Add(from)
}

func (self *Graph) Unlink(from int, to int) {
    self.Blocks[from].Succ.Remove(to)
    self.Blocks[to].Pred.Remove(from)
}

// Remove unlinks a block from all neighbours and frees its slot.
func (self *Graph) Remove(id int) {
    b := self.Blocks[id]
    for _, s := range b.Succ.Clone() {
        self.Unlink(id, s)
    }
    for _, p := range b.Pred.Clone() {
        self.Unlink(p, id)
    }
    self.Blocks[id] = nil
}

// BlockAt finds the block starting at addr.
func (self *Graph) BlockAt(addr uint64) *Block {
    for _, b := range self.Live() {
        if b.Addr == addr {
            return b
        }
    }
    return nil
}

// Check verifies that every edge is recorded on both ends.
func (self *Graph) Check() error {
    for _, b := range self.Live() {
        for _, s := range b.Succ {
            if v := self.Block(s); v == nil || !v.Pred.Has(b.ID) {
                return fmt.Errorf("bb: edge bb_%d -> bb_%d is not mutual", b.ID, s)
            }
        }
        for _, p := range b.Pred {
            if v := self.Block(p); v == nil || !v.Succ.Has(b.ID) {
                return fmt.Errorf("bb: edge bb_%d <- bb_%d is not mutual", b.ID, p)
            }
        }
    }
    return nil
}

func (self *Graph) String() string {
    buf := make([]string, 0, len(self.Blocks))
    for _, b := range self.Live() {
        buf = append(buf, b.String())
    }
    return strings.Join(buf, "\n\n")
}

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
    `sort`

    `github.com/cloudwego/decaf/internal/graph`
    `github.com/cloudwego/decaf/internal/types`
)

type Block struct {
    ID     int
    Addr   uint64
    Instrs []Instr
    Succ   graph.Set
    Pred   graph.Set
    Entry  bool
    Exit   bool
    in     defmap
    out    defmap
}

func (self *Block) Last() Instr {
    if len(self.Instrs) == 0 {
        return nil
    } else {
        return self.Instrs[len(self.Instrs) - 1]
    }
}

func (self *Block) String() string {
    return fmt.Sprintf("BB#%d", self.ID)
}

// StackItem is one slot of the recovered stack frame. Base items are
// relative to the frame base register, the others to the stack pointer.
type StackItem struct {
    Name   string
    Offset int64
    Base   bool
    Size   int
    Reg    *Register
}

func (self *StackItem) Contains(off int64) bool {
    return off >= self.Offset && off < self.Offset + int64(self.Size)
}

// Param is an incoming parameter of the function.
type Param struct {
    Name string
    Reg  *Register
    Loc  Location
    Type *types.Type
}

type regKey struct {
    name string
    kind RegKind
}

type Function struct {
    Name    string
    Addr    uint64
    Size    uint64
    PtrSize int
    Blocks  []*Block
    Entry   int
    Frame   []*StackItem
    Inputs  []Param
    SP      string
    Base    string
    PC      string
    regs    map[regKey]*Register
    temps   int
}

func NewFunction(name string, addr uint64, ptrSize int) *Function {
    return &Function {
        Name    : name,
        Addr    : addr,
        PtrSize : ptrSize,
        regs    : make(map[regKey]*Register),
    }
}

/** Registers **/

// Register returns the interned register for (name, kind), creating it
// with the given size on first use.
func (self *Function) Register(name string, size int, kind RegKind) *Register {
    key := regKey { name, kind }
    if r, ok := self.regs[key]; ok {
        return r
    }
    r := &Register { Name: name, Size: size, Kind: kind }
    self.regs[key] = r
    return r
}

func (self *Function) Native(name string, size int) *Register {
    return self.Register(name, size, Native)
}

func (self *Function) FlagReg(name string) *Register {
    return self.Register(name, 1, Flag)
}

func (self *Function) CustomReg(name string, size int) *Register {
    return self.Register(name, size, Custom)
}

// Temp creates a fresh temporary. Names are never reused within a function.
func (self *Function) Temp(size int) *Register {
    for {
        name := fmt.Sprintf("temp_%d", self.temps)
        self.temps++
        if _, ok := self.regs[regKey { name, Temp }]; !ok {
            return self.Register(name, size, Temp)
        }
    }
}

// Lookup finds an existing register by name, whatever its kind.
func (self *Function) Lookup(name string) *Register {
    for _, k := range []RegKind { Native, Extra, Flag, Temp, Custom } {
        if r, ok := self.regs[regKey { name, k }]; ok {
            return r
        }
    }
    return nil
}

// Registers returns all the interned registers sorted by name.
func (self *Function) Registers() []*Register {
    ret := make([]*Register, 0, len(self.regs))
    for _, r := range self.regs {
        ret = append(ret, r)
    }
    sort.Slice(ret, func(i int, j int) bool {
        if ret[i].Name != ret[j].Name {
            return ret[i].Name < ret[j].Name
        } else {
            return ret[i].Kind < ret[j].Kind
        }
    })
    return ret
}

/** Stack Frame **/

// AddFrameItem registers a stack slot and keeps the frame sorted by offset,
// ties broken by width.
func (self *Function) AddFrameItem(name string, off int64, size int, base bool) *StackItem {
    for _, v := range self.Frame {
        if v.Name == name {
            return v
        }
    }

    /* create the item along with its register */
    item := &StackItem {
        Name   : name,
        Offset : off,
        Base   : base,
        Size   : size,
        Reg    : self.CustomReg(name, size),
    }

    /* keep the frame ordered */
    self.Frame = append(self.Frame, item)
    sort.SliceStable(self.Frame, func(i int, j int) bool {
        a, b := self.Frame[i], self.Frame[j]
        if a.Base != b.Base {
            return a.Base
        } else if a.Offset != b.Offset {
            return a.Offset < b.Offset
        } else {
            return a.Size < b.Size
        }
    })
    return item
}

// FrameItemAt finds the slot covering a frame offset.
func (self *Function) FrameItemAt(off int64, base bool) *StackItem {
    var ret *StackItem
    for _, v := range self.Frame {
        if v.Base == base && v.Contains(off) {
            if ret == nil || v.Size > ret.Size {
                ret = v
            }
        }
    }
    return ret
}

// SPSlot returns the register standing for the stack-pointer-relative slot
// at the given offset.
func (self *Function) SPSlot(off int64, size int) *Register {
    if item := self.FrameItemAt(off, false); item != nil && item.Offset == off {
        return item.Reg
    } else {
        return self.AddFrameItem(spName(off), off, size, false).Reg
    }
}

func spName(off int64) string {
    if off < 0 {
        return fmt.Sprintf("var_sp_m%x", -off)
    } else {
        return fmt.Sprintf("var_sp_%x", off)
    }
}

/** Blocks **/

func (self *Function) AddBlock(addr uint64) *Block {
    b := &Block { ID: len(self.Blocks), Addr: addr }
    self.Blocks = append(self.Blocks, b)
    return b
}

func (self *Function) Block(id int) *Block {
    if id < 0 || id >= len(self.Blocks) {
        return nil
    } else {
        return self.Blocks[id]
    }
}

func (self *Function) Live() []*Block {
    ret := make([]*Block, 0, len(self.Blocks))
    for _, b := range self.Blocks {
        if b != nil {
            ret = append(ret, b)
        }
    }
    return ret
}

func (self *Function) BlockAt(addr uint64) *Block {
    for _, b := range self.Live() {
        if b.Addr == addr {
            return b
        }
    }
    return nil
}

func (self *Function) Link(from int, to int) {
    self.Blocks[from].Succ.Add(to)
    self.Blocks[to].Pred.Add(from)
}

func (self *Function) Unlink(from int, to int) {
    self.Blocks[from].Succ.Remove(to)
    self.Blocks[to].Pred.Remove(from)
}

func (self *Function) RemoveBlock(id int) {
    b := self.Blocks[id]
    for _, s := range b.Succ.Clone() {
        self.Unlink(id, s)
    }
    for _, p := range b.Pred.Clone() {
        self.Unlink(p, id)
    }
    self.Blocks[id] = nil
}

// Check verifies the mutual-edge invariant and instruction ownership.
func (self *Function) Check() error {
    for _, b := range self.Live() {
        for _, s := range b.Succ {
            if v := self.Block(s); v == nil || !v.Pred.Has(b.ID) {
                return fmt.Errorf("ucode: edge %s -> BB#%d is not mutual", b, s)
            }
        }
        for _, p := range b.Pred {
            if v := self.Block(p); v == nil || !v.Succ.Has(b.ID) {
                return fmt.Errorf("ucode: edge %s <- BB#%d is not mutual", b, p)
            }
        }
        for _, ins := range b.Instrs {
            if ins.Meta().Block != b {
                return fmt.Errorf("ucode: instruction %q is not owned by %s", ins, b)
            }
        }
    }
    return nil
}

/** Instructions **/

// Append adds an instruction at the end of a block.
func (self *Function) Append(b *Block, ins Instr, addr uint64) Instr {
    m := ins.Meta()
    if m.Block != nil {
        panic("ucode: instruction already belongs to " + m.Block.String())
    }
    m.Block = b
    m.Addr = addr
    b.Instrs = append(b.Instrs, ins)
    return ins
}

// Index returns the position of an instruction within its block.
func Index(ins Instr) int {
    b := ins.Meta().Block
    if b == nil {
        return -1
    }
    for i, v := range b.Instrs {
        if v == ins {
            return i
        }
    }
    return -1
}

func (self *Function) insert(at Instr, pos int, ins []Instr) {
    b := at.Meta().Block
    for _, v := range ins {
        if v.Meta().Block != nil {
            panic("ucode: instruction already belongs to " + v.Meta().Block.String())
        }
        v.Meta().Block = b
        v.Meta().Addr = at.Meta().Addr
    }

    /* splice into the list */
    buf := make([]Instr, 0, len(b.Instrs) + len(ins))
    buf = append(buf, b.Instrs[:pos]...)
    buf = append(buf, ins...)
    buf = append(buf, b.Instrs[pos:]...)
    b.Instrs = buf
}

func (self *Function) InsertAfter(at Instr, ins ...Instr) {
    self.insert(at, Index(at) + 1, ins)
}

func (self *Function) InsertBefore(at Instr, ins ...Instr) {
    self.insert(at, Index(at), ins)
}

// ReplaceWith swaps an instruction for another at the same position. The new
// instruction inherits the native address, the old one becomes detached.
func (self *Function) ReplaceWith(old Instr, ins Instr) Instr {
    i := Index(old)
    if i < 0 {
        panic("ucode: replacing a detached instruction: " + old.String())
    }
    if ins.Meta().Block != nil {
        panic("ucode: replacement already belongs to " + ins.Meta().Block.String())
    }

    /* move the ownership */
    b := old.Meta().Block
    ins.Meta().Block = b
    ins.Meta().Addr = old.Meta().Addr
    b.Instrs[i] = ins
    old.Meta().Block = nil
    return ins
}

// Nopify replaces an instruction with a no-op.
func (self *Function) Nopify(ins Instr) {
    self.ReplaceWith(ins, new(Nop))
}

// Delete removes an instruction from its block entirely.
func (self *Function) Delete(ins Instr) {
    i := Index(ins)
    if i < 0 {
        return
    }
    b := ins.Meta().Block
    b.Instrs = append(b.Instrs[:i:i], b.Instrs[i + 1:]...)
    ins.Meta().Block = nil
}

// Instrs returns every instruction in block order.
func (self *Function) Instrs() []Instr {
    var ret []Instr
    for _, b := range self.Live() {
        ret = append(ret, b.Instrs...)
    }
    return ret
}

// IsAliased reports whether the address of a register is taken anywhere.
func (self *Function) IsAliased(reg *Register) bool {
    for _, ins := range self.Instrs() {
        if v, ok := ins.(*AddressOf); ok && v.S == reg {
            return true
        }
    }
    return false
}

// Dominators returns the immediate dominator of every block reachable from
// the entry.
func (self *Function) Dominators() map[int]int {
    succ := func(id int) []int { return self.Blocks[id].Succ }
    return graph.Dominators(self.Entry, graph.Reachable(self.Entry, succ), succ)
}

// Calls returns all call instructions.
func (self *Function) Calls() []*Call {
    var ret []*Call
    for _, ins := range self.Instrs() {
        if v, ok := ins.(*Call); ok {
            ret = append(ret, v)
        }
    }
    return ret
}

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

package asm

import (
    `fmt`
    `strings`
)

type OperandKind uint8

const (
    OpReg OperandKind = iota + 1
    OpImm
    OpMem
    OpRegList
    OpOther
)

// Memory is a decoded memory reference. Empty register names mean "absent".
type Memory struct {
    Base      string
    Index     string
    Scale     int
    Disp      int64
    Segment   string
    PreIndex  bool
    PostIndex bool
}

type Operand struct {
    Kind OperandKind
    Size int
    Reg  string
    Imm  int64
    Mem  Memory
    Regs []string
    Text string
}

func (self Operand) String() string {
    switch self.Kind {
        case OpReg     : return self.Reg
        case OpImm     : return formatImm(self.Imm)
        case OpMem     : return self.Mem.String()
        case OpRegList : return "{" + strings.Join(self.Regs, ", ") + "}"
        default        : return self.Text
    }
}

func (self Memory) String() string {
    var buf []string
    if self.Base != "" {
        buf = append(buf, self.Base)
    }

    /* scaled index */
    if self.Index != "" {
        if self.Scale > 1 {
            buf = append(buf, fmt.Sprintf("%s*%d", self.Index, self.Scale))
        } else {
            buf = append(buf, self.Index)
        }
    }

    /* displacement, post-index offsets print outside the brackets */
    if self.Disp != 0 && !self.PostIndex {
        buf = append(buf, formatImm(self.Disp))
    }

    ret := "[" + strings.Join(buf, ", ") + "]"
    if self.Segment != "" {
        ret = self.Segment + ":" + ret
    }

    switch {
        case self.PreIndex  : return ret + "!"
        case self.PostIndex : return ret + ", " + formatImm(self.Disp)
        default             : return ret
    }
}

func formatImm(v int64) string {
    if v < 0 {
        return fmt.Sprintf("#-0x%x", -v)
    } else {
        return fmt.Sprintf("#0x%x", v)
    }
}

// Instr is a single decoded machine instruction.
type Instr struct {
    Addr      uint64
    Bytes     []byte
    Mnemonic  string
    Operands  []Operand
    Text      string
    Synthetic bool
}

func (self *Instr) Len() int {
    return len(self.Bytes)
}

func (self *Instr) End() uint64 {
    return self.Addr + uint64(len(self.Bytes))
}

func (self *Instr) String() string {
    return self.Text
}

// Target returns the statically known target address encoded in the first
// immediate operand, if any.
func (self *Instr) Target() (uint64, bool) {
    for _, op := range self.Operands {
        if op.Kind == OpImm {
            return uint64(op.Imm), true
        }
    }
    return 0, false
}

// Reformat rebuilds Text from Mnemonic and Operands.
func (self *Instr) Reformat() {
    ops := make([]string, 0, len(self.Operands))
    for _, op := range self.Operands {
        ops = append(ops, op.String())
    }
    if len(ops) == 0 {
        self.Text = self.Mnemonic
    } else {
        self.Text = self.Mnemonic + " " + strings.Join(ops, ", ")
    }
}

// Synthesize creates an instruction that does not exist in the binary,
// used by idiom rewrites that replace native sequences.
func Synthesize(addr uint64, mnemonic string, ops ...Operand) *Instr {
    ret := &Instr {
        Addr      : addr,
        Mnemonic  : mnemonic,
        Operands  : ops,
        Synthetic : true,
    }
    ret.Reformat()
    return ret
}

func RegOp(name string, size int) Operand {
    return Operand { Kind: OpReg, Reg: name, Size: size }
}

func ImmOp(v int64, size int) Operand {
    return Operand { Kind: OpImm, Imm: v, Size: size }
}

func MemOp(mem Memory, size int) Operand {
    return Operand { Kind: OpMem, Mem: mem, Size: size }
}

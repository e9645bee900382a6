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
    `strconv`
    `strings`

    `golang.org/x/arch/x86/x86asm`
)

type x86Decoder struct {
    bits int
}

// X86 returns a decoder for 32-bit or 64-bit x86 code.
func X86(bits int) Decoder {
    if bits != 32 && bits != 64 {
        panic("asm: invalid x86 mode: " + strconv.Itoa(bits))
    } else {
        return &x86Decoder { bits: bits }
    }
}

func (self *x86Decoder) MinLen() int {
    return 1
}

func (self *x86Decoder) Decode(code []byte, addr uint64) (*Instr, error) {
    ins, err := x86asm.Decode(code, self.bits)
    if err != nil {
        return nil, DecodeError { Addr: addr, Err: err }
    }

    /* truncated or prefix-only input decodes to no operation at all */
    if ins.Op == 0 || ins.Len == 0 {
        return nil, DecodeError { Addr: addr, Err: x86asm.ErrUnrecognized }
    }

    /* basic instruction properties */
    ret := &Instr {
        Addr     : addr,
        Bytes    : append([]byte(nil), code[:ins.Len]...),
        Mnemonic : strings.ToLower(ins.Op.String()),
        Text     : x86asm.IntelSyntax(ins, addr, nil),
    }

    /* convert every argument */
    for _, arg := range ins.Args {
        if arg == nil {
            break
        }
        ret.Operands = append(ret.Operands, self.operand(ins, arg, addr))
    }

    /* immediates take the width of the register they combine with */
    for i := range ret.Operands {
        if ret.Operands[i].Kind == OpImm && ret.Operands[i].Size == 0 {
            ret.Operands[i].Size = self.immSize(ins, ret.Operands)
        }
    }
    return ret, nil
}

func (self *x86Decoder) immSize(ins x86asm.Inst, ops []Operand) int {
    for _, op := range ops {
        if op.Kind == OpReg || op.Kind == OpMem {
            return op.Size
        }
    }
    if ins.DataSize != 0 {
        return ins.DataSize / 8
    } else {
        return self.bits / 8
    }
}

func (self *x86Decoder) operand(ins x86asm.Inst, arg x86asm.Arg, addr uint64) Operand {
    switch v := arg.(type) {
        case x86asm.Reg: {
            name := X86RegName(v)
            return RegOp(name, X86RegSize(name))
        }

        /* memory references */
        case x86asm.Mem: {
            mem := Memory {
                Scale : int(v.Scale),
                Disp  : v.Disp,
            }
            if v.Base != 0 {
                mem.Base = X86RegName(v.Base)
            }
            if v.Index != 0 {
                mem.Index = X86RegName(v.Index)
            }
            if v.Segment != 0 {
                mem.Segment = X86RegName(v.Segment)
            }
            size := ins.MemBytes
            if size == 0 {
                size = self.bits / 8
            }
            return MemOp(mem, size)
        }

        /* immediates and relative branch targets */
        case x86asm.Imm : return ImmOp(int64(v), 0)
        case x86asm.Rel : return ImmOp(int64(addr + uint64(ins.Len) + uint64(int64(v))), self.bits / 8)
        default         : return Operand { Kind: OpOther, Text: arg.String() }
    }
}

var _X86RegAlias = map[string]string {
    "spb": "spl",
    "bpb": "bpl",
    "sib": "sil",
    "dib": "dil",
}

// X86RegName returns the canonical lower-case register name.
func X86RegName(reg x86asm.Reg) string {
    name := strings.ToLower(reg.String())

    /* SIMD registers and the byte registers with odd names */
    if alias, ok := _X86RegAlias[name]; ok {
        return alias
    } else if strings.HasPrefix(name, "x") && len(name) > 1 && name[1] >= '0' && name[1] <= '9' {
        return "xmm" + name[1:]
    }

    /* r8l-r15l are the doubleword views */
    if strings.HasPrefix(name, "r") && strings.HasSuffix(name, "l") && len(name) > 2 && name[1] >= '0' && name[1] <= '9' {
        return name[:len(name) - 1] + "d"
    } else {
        return name
    }
}

var _X86RegSizes = map[string]int {
    "rax": 8, "rbx": 8, "rcx": 8, "rdx": 8, "rsi": 8, "rdi": 8, "rbp": 8, "rsp": 8, "rip": 8,
    "eax": 4, "ebx": 4, "ecx": 4, "edx": 4, "esi": 4, "edi": 4, "ebp": 4, "esp": 4, "eip": 4,
    "ax" : 2, "bx" : 2, "cx" : 2, "dx" : 2, "si" : 2, "di" : 2, "bp" : 2, "sp" : 2, "ip" : 2,
    "al" : 1, "bl" : 1, "cl" : 1, "dl" : 1, "sil": 1, "dil": 1, "bpl": 1, "spl": 1,
    "ah" : 1, "bh" : 1, "ch" : 1, "dh" : 1,
    "cs" : 2, "ds" : 2, "es" : 2, "fs" : 2, "gs" : 2, "ss" : 2,
}

// X86RegSize returns the width of a canonical x86 register name in bytes.
func X86RegSize(name string) int {
    if v, ok := _X86RegSizes[name]; ok {
        return v
    }

    /* extended registers */
    switch {
        case strings.HasPrefix(name, "xmm") : return 16
        case strings.HasPrefix(name, "ymm") : return 32
        case !strings.HasPrefix(name, "r")  : return 0
        case strings.HasSuffix(name, "d")   : return 4
        case strings.HasSuffix(name, "w")   : return 2
        case strings.HasSuffix(name, "b")   : return 1
        default                             : return 8
    }
}

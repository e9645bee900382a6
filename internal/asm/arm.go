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
    `strings`

    `golang.org/x/arch/arm/armasm`
)

type armDecoder struct{}

// ARM returns a decoder for ARMv7 code in ARM (not Thumb) mode.
func ARM() Decoder {
    return armDecoder{}
}

func (armDecoder) MinLen() int {
    return 4
}

func (armDecoder) Decode(code []byte, addr uint64) (*Instr, error) {
    ins, err := armasm.Decode(code, armasm.ModeARM)
    if err != nil {
        return nil, DecodeError { Addr: addr, Err: err }
    }

    /* build the instruction */
    ret := &Instr {
        Addr     : addr,
        Bytes    : append([]byte(nil), code[:ins.Len]...),
        Mnemonic : firstToken(armasm.GNUSyntax(ins)),
    }

    /* convert the arguments */
    for _, arg := range ins.Args {
        if arg == nil {
            break
        }
        ret.Operands = append(ret.Operands, armOperand(arg, addr))
    }

    ret.Reformat()
    return ret, nil
}

func armOperand(arg armasm.Arg, addr uint64) Operand {
    switch v := arg.(type) {
        case armasm.Reg   : return RegOp(armRegName(v), 4)
        case armasm.Imm   : return ImmOp(int64(v), 4)
        case armasm.PCRel : return ImmOp(int64(addr) + 8 + int64(v), 4)

        /* register lists for push/pop/ldm/stm */
        case armasm.RegList: {
            var regs []string
            for i := 0; i < 16; i++ {
                if v & (1 << uint(i)) != 0 {
                    regs = append(regs, armRegName(armasm.Reg(i)))
                }
            }
            return Operand { Kind: OpRegList, Regs: regs, Size: 4 }
        }

        /* memory references */
        case armasm.Mem: {
            mem := Memory {
                Base      : armRegName(v.Base),
                Disp      : int64(v.Offset),
                PreIndex  : v.Mode == armasm.AddrPreIndex,
                PostIndex : v.Mode == armasm.AddrPostIndex,
            }
            if v.Sign != 0 {
                mem.Index = armRegName(v.Index)
                mem.Scale = 1 << v.Count
            }
            return MemOp(mem, 4)
        }

        default: {
            return Operand { Kind: OpOther, Text: strings.ToLower(arg.String()) }
        }
    }
}

func armRegName(r armasm.Reg) string {
    return strings.ToLower(r.String())
}

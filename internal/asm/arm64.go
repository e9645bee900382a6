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

    `golang.org/x/arch/arm64/arm64asm`
)

type arm64Decoder struct{}

// ARM64 returns a decoder for AArch64 code.
func ARM64() Decoder {
    return arm64Decoder{}
}

func (arm64Decoder) MinLen() int {
    return 4
}

func (arm64Decoder) Decode(code []byte, addr uint64) (*Instr, error) {
    ins, err := arm64asm.Decode(code)
    if err != nil {
        return nil, DecodeError { Addr: addr, Err: err }
    }

    /* GNU syntax carries the alias-resolved mnemonic (b.eq, mov, cmp, ...) */
    gnu := arm64asm.GNUSyntax(ins)
    ret := &Instr {
        Addr     : addr,
        Bytes    : append([]byte(nil), code[:4]...),
        Mnemonic : firstToken(gnu),
    }

    /* convert the arguments, "ret" with the default link register carries none */
    if gnu != "ret" {
        for _, arg := range ins.Args {
            if arg == nil {
                break
            }
            if _, ok := arg.(arm64asm.Cond); ok && strings.HasPrefix(ret.Mnemonic, "b.") {
                continue
            }
            ret.Operands = append(ret.Operands, arm64Operand(arg, addr))
        }
    }

    /* adrp targets are relative to the 4k page of the instruction */
    if ret.Mnemonic == "adrp" {
        for i, op := range ret.Operands {
            if op.Kind == OpImm {
                ret.Operands[i].Imm = op.Imm - int64(addr) + int64(addr &^ 0xfff)
            }
        }
    }

    ret.Reformat()
    return ret, nil
}

func arm64Operand(arg arm64asm.Arg, addr uint64) Operand {
    switch v := arg.(type) {
        case arm64asm.Reg   : return arm64Reg(v.String())
        case arm64asm.RegSP : return arm64Reg(v.String())
        case arm64asm.Imm   : return ImmOp(int64(v.Imm), 8)
        case arm64asm.Imm64 : return ImmOp(int64(v.Imm), 8)
        case arm64asm.PCRel : return ImmOp(int64(addr) + int64(v), 8)

        /* shifted immediates, "#0x10, LSL #12" */
        case arm64asm.ImmShift: {
            val, shift := parseShiftedImm(v.String())
            return ImmOp(val << shift, 8)
        }

        /* memory references with an immediate offset */
        case arm64asm.MemImmediate: {
            mem := Memory {
                Base      : strings.ToLower(v.Base.String()),
                Disp      : parseTrailingImm(v.String()),
                PreIndex  : v.Mode == arm64asm.AddrPreIndex,
                PostIndex : v.Mode == arm64asm.AddrPostIndex,
            }
            return MemOp(mem, 8)
        }

        /* memory references with a register index */
        case arm64asm.MemExtend: {
            mem := Memory {
                Base  : strings.ToLower(v.Base.String()),
                Index : strings.ToLower(v.Index.String()),
                Scale : 1 << v.Amount,
            }
            return MemOp(mem, 8)
        }

        default: {
            return Operand { Kind: OpOther, Text: strings.ToLower(arg.String()) }
        }
    }
}

func arm64Reg(name string) Operand {
    name = strings.ToLower(name)
    return RegOp(name, ARM64RegSize(name))
}

// ARM64RegSize returns the width of an AArch64 register name in bytes.
func ARM64RegSize(name string) int {
    switch {
        case name == "sp" || name == "xzr" : return 8
        case name == "wsp" || name == "wzr": return 4
        case name == ""                    : return 0
    }
    switch name[0] {
        case 'x' : return 8
        case 'w' : return 4
        case 'b' : return 1
        case 'h' : return 2
        case 's' : return 4
        case 'd' : return 8
        case 'q' : return 16
        case 'v' : return 16
        default  : return 0
    }
}

func firstToken(s string) string {
    if i := strings.IndexByte(s, ' '); i >= 0 {
        return strings.ToLower(s[:i])
    } else {
        return strings.ToLower(s)
    }
}

func parseShiftedImm(s string) (int64, uint) {
    parts := strings.Split(s, ",")
    val := parseImmText(parts[0])

    /* optional "LSL #n" */
    if len(parts) > 1 {
        if i := strings.IndexByte(parts[1], '#'); i >= 0 {
            return val, uint(parseImmText(parts[1][i:]))
        }
    }
    return val, 0
}

func parseTrailingImm(s string) int64 {
    if i := strings.LastIndexByte(s, '#'); i < 0 {
        return 0
    } else {
        return parseImmText(s[i:])
    }
}

func parseImmText(s string) int64 {
    s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "#"))
    end := 0

    /* accept "-", "0x" and hex digits */
    for end < len(s) {
        c := s[end]
        if c == '-' || c == 'x' || c == 'X' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
            end++
        } else {
            break
        }
    }

    v, err := strconv.ParseInt(s[:end], 0, 64)
    if err != nil {
        return 0
    } else {
        return v
    }
}

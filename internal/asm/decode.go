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
)

// Decoder turns raw bytes at an address into an instruction.
type Decoder interface {
    Decode(code []byte, addr uint64) (*Instr, error)
    MinLen() int
}

// DecodeError reports an undecodable byte sequence.
type DecodeError struct {
    Addr uint64
    Err  error
}

func (self DecodeError) Error() string {
    return fmt.Sprintf("cannot decode instruction at 0x%x: %v", self.Addr, self.Err)
}

func (self DecodeError) Unwrap() error {
    return self.Err
}

// Opaque creates the placeholder for bytes that failed to decode.
func Opaque(code []byte, addr uint64) *Instr {
    return &Instr {
        Addr     : addr,
        Bytes    : append([]byte(nil), code...),
        Mnemonic : "(bad)",
        Text     : "(bad)",
    }
}

// DecodeAll decodes a whole code range. Undecodable sequences become opaque
// instructions of the decoder's minimum length and decoding continues after them.
func DecodeAll(dec Decoder, code []byte, base uint64) []*Instr {
    var ret []*Instr
    for pos := 0; pos < len(code); {
        ins, err := dec.Decode(code[pos:], base + uint64(pos))

        /* fall back to an opaque instruction */
        if err != nil {
            n := dec.MinLen()
            if pos + n > len(code) {
                n = len(code) - pos
            }
            ins = Opaque(code[pos:pos + n], base + uint64(pos))
        }

        ret = append(ret, ins)
        pos += ins.Len()
    }
    return ret
}

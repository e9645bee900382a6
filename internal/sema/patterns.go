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

package sema

import (
    `context`
    `sync/atomic`

    `tlog.app/go/tlog`

    `github.com/cloudwego/decaf/internal/asm`
    `github.com/cloudwego/decaf/internal/bb`
)

var (
    BoundHits uint64 = 0
)

// Pattern is one matched prologue or epilogue idiom. Matched instructions
// are deleted on removal, Insert is spliced in where the first of them
// used to be. A stack check instead drops the Failed block together with
// the conditional jump ending Guard.
type Pattern struct {
    Name    string
    Matched []*asm.Instr
    Insert  []*asm.Instr
    Failed  *bb.Block
    Guard   *bb.Block
}

func (self *Pattern) String() string {
    return self.Name
}

// locate finds the block holding an instruction and its position.
func locate(g *bb.Graph, ins *asm.Instr) (*bb.Block, int) {
    for _, b := range g.Live() {
        for i, v := range b.Instrs {
            if v == ins {
                return b, i
            }
        }
    }
    return nil, -1
}

func removePattern(g *bb.Graph, p *Pattern) {
    if p.Failed != nil {
        g.Remove(p.Failed.ID)
        p.Guard.Instrs = p.Guard.Instrs[:len(p.Guard.Instrs) - 1]
        p.Guard.Exit = len(p.Guard.Succ) == 0
        return
    }

    /* splice the replacement in front of the first match */
    if len(p.Insert) != 0 {
        if b, i := locate(g, p.Matched[0]); b != nil {
            buf := make([]*asm.Instr, 0, len(b.Instrs) + len(p.Insert))
            buf = append(buf, b.Instrs[:i]...)
            buf = append(buf, p.Insert...)
            buf = append(buf, b.Instrs[i:]...)
            b.Instrs = buf
        }
    }

    /* then drop every matched instruction */
    for _, ins := range p.Matched {
        if b, i := locate(g, ins); b != nil {
            b.Instrs = append(b.Instrs[:i:i], b.Instrs[i + 1:]...)
        }
    }
}

// ApplyPatterns strips idioms one at a time until none is found or the
// round bound is reached, returning the names of the removed patterns.
func ApplyPatterns(ctx context.Context, sem Semantics, fn *Function, rounds int) []string {
    var ret []string
    tr := tlog.SpanFromContext(ctx)

    /* one pattern per round */
    for i := 0; i < rounds; i++ {
        p := sem.DetectPattern(fn)
        if p == nil {
            return ret
        }
        if tr.If("patterns") {
            tr.Printw("remove pattern", "func", fn.Name, "pattern", p.Name, "instrs", len(p.Matched))
        }
        sem.RemovePattern(fn, p)
        ret = append(ret, p.Name)
    }

    /* leftover idioms stay in place */
    if p := sem.DetectPattern(fn); p != nil {
        atomic.AddUint64(&BoundHits, 1)
        tr.Printw("pattern round bound reached", "func", fn.Name, "rounds", rounds, "next", p.Name)
    }
    return ret
}

/** Matching helpers **/

type _OperandMatcher func(op asm.Operand) bool

func reg(name string) _OperandMatcher {
    return func(op asm.Operand) bool { return op.Kind == asm.OpReg && op.Reg == name }
}

func imm(v int64) _OperandMatcher {
    return func(op asm.Operand) bool { return op.Kind == asm.OpImm && op.Imm == v }
}

func anyReg(op asm.Operand) bool { return op.Kind == asm.OpReg }
func anyImm(op asm.Operand) bool { return op.Kind == asm.OpImm }

func memBase(name string) _OperandMatcher {
    return func(op asm.Operand) bool { return op.Kind == asm.OpMem && (name == "" || op.Mem.Base == name) }
}

// match checks the mnemonic and every operand of an instruction.
func match(ins *asm.Instr, mnem string, ops ..._OperandMatcher) bool {
    if ins == nil || ins.Mnemonic != mnem || len(ins.Operands) != len(ops) {
        return false
    }
    for i, m := range ops {
        if !m(ins.Operands[i]) {
            return false
        }
    }
    return true
}

func entryBlock(g *bb.Graph) *bb.Block {
    return g.Block(g.Entry)
}

// head returns the first n instructions of the entry block, or nil if the
// block is shorter than that.
func head(g *bb.Graph, n int) []*asm.Instr {
    if b := entryBlock(g); b == nil || len(b.Instrs) < n {
        return nil
    } else {
        return b.Instrs[:n]
    }
}

// epilogue collects the instruction at position len-back of every exit
// block, failing if any exit block is too short or the instruction does
// not satisfy the predicate.
func epilogue(g *bb.Graph, back int, pred func(*asm.Instr) bool) ([]*asm.Instr, bool) {
    var ret []*asm.Instr
    for _, b := range g.Exits() {
        if len(b.Instrs) < back {
            return nil, false
        }
        if ins := b.Instrs[len(b.Instrs) - back]; !pred(ins) {
            return nil, false
        } else {
            ret = append(ret, ins)
        }
    }
    return ret, true
}

func concat(a []*asm.Instr, b []*asm.Instr) []*asm.Instr {
    ret := make([]*asm.Instr, 0, len(a) + len(b))
    ret = append(ret, a...)
    return append(ret, b...)
}

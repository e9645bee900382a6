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
    `strconv`
    `strings`
    `testing`

    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`

    `github.com/cloudwego/decaf/internal/asm`
    `github.com/cloudwego/decaf/internal/graph`
)

type fakeOracle struct{}

func (fakeOracle) IsCall(ins *asm.Instr) bool              { return ins.Mnemonic == "call" }
func (fakeOracle) IsReturn(ins *asm.Instr) bool            { return ins.Mnemonic == "ret" }
func (fakeOracle) IsUnconditionalJump(ins *asm.Instr) bool { return ins.Mnemonic == "jmp" }
func (fakeOracle) IsConditionalJump(ins *asm.Instr) bool   { return ins.Mnemonic == "je" }

func (fakeOracle) JumpDestination(ins *asm.Instr) (uint64, bool) {
    if len(ins.Operands) == 0 || ins.Operands[0].Kind != asm.OpImm {
        return 0, false
    } else {
        return uint64(ins.Operands[0].Imm), true
    }
}

func program(src string) []*asm.Instr {
    var ret []*asm.Instr
    for i, line := range strings.Split(strings.TrimSpace(src), "\n") {
        f := strings.Fields(line)
        ins := &asm.Instr { Addr: uint64(i), Bytes: []byte{0}, Mnemonic: f[0] }
        if len(f) > 1 {
            if v, err := strconv.ParseInt(f[1], 0, 64); err == nil {
                ins.Operands = append(ins.Operands, asm.ImmOp(v, 8))
            } else {
                ins.Operands = append(ins.Operands, asm.RegOp(f[1], 8))
            }
        }
        ins.Reformat()
        ret = append(ret, ins)
    }
    return ret
}

func TestBuild_Diamond(t *testing.T) {
    g := Build(program(`
        cmp
        je 4
        mov
        jmp 5
        mov
        ret
    `), fakeOracle{})
    require.NoError(t, g.Check())
    require.Len(t, g.Blocks, 4)
    assert.Equal(t, []uint64{0, 2, 4, 5}, Leaders(g))
    assert.Equal(t, graph.Set{1, 2}, g.Blocks[0].Succ)
    assert.Equal(t, graph.Set{3}, g.Blocks[1].Succ)
    assert.Equal(t, graph.Set{3}, g.Blocks[2].Succ)
    assert.Equal(t, graph.Set{1, 2}, g.Blocks[3].Pred)
    assert.True(t, g.Blocks[0].Entry)
    assert.True(t, g.Blocks[3].Exit)
    assert.Len(t, g.Exits(), 1)
}

func TestBuild_CallsAndIndirect(t *testing.T) {
    g := Build(program(`
        call 100
        jmp rax
        ret
    `), fakeOracle{})
    require.NoError(t, g.Check())
    require.Len(t, g.Blocks, 3)
    assert.Equal(t, graph.Set{1}, g.Blocks[0].Succ)
    assert.Empty(t, g.Blocks[1].Succ)
    assert.True(t, g.Blocks[1].Exit)
    assert.Equal(t, 1, Prune(g))
    assert.Nil(t, g.Block(2))
}

func TestBuild_MisalignedTarget(t *testing.T) {
    g := Build(program(`
        je 77
        ret
    `), fakeOracle{})
    require.NoError(t, g.Check())
    assert.Equal(t, graph.Set{1}, g.Blocks[0].Succ)
}

func TestGraph_Remove(t *testing.T) {
    g := Build(program(`
        je 2
        ret
        ret
    `), fakeOracle{})
    g.Remove(1)
    require.NoError(t, g.Check())
    assert.Equal(t, graph.Set{2}, g.Blocks[0].Succ)
    assert.Len(t, g.Live(), 2)
    assert.Equal(t, g.Blocks[2], g.BlockAt(2))
}

type tableOracle struct {
    fakeOracle
}

func (tableOracle) JumpTable(ins *asm.Instr) ([]uint64, bool) {
    if ins.Mnemonic == "jmp" && ins.Operands[0].Kind == asm.OpReg {
        return []uint64{2, 3}, true
    } else {
        return nil, false
    }
}

func TestBuild_JumpTable(t *testing.T) {
    g := Build(program(`
        cmp
        jmp rax
        ret
        ret
    `), tableOracle{})
    require.NoError(t, g.Check())
    require.Len(t, g.Blocks, 3)
    assert.Equal(t, graph.Set{1, 2}, g.Blocks[0].Succ)
    assert.False(t, g.Blocks[0].Exit)
    assert.Zero(t, Prune(g))
}

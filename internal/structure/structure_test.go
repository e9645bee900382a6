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

package structure

import (
    `context`
    `testing`

    `github.com/davecgh/go-spew/spew`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`

    `github.com/cloudwego/decaf/internal/ucode`
)

type edge struct {
    from int
    to   int
}

func addrOf(id int) uint64 {
    return 0x1000 + uint64(id) * 0x10
}

// buildFunc creates n blocks linked by edges. Blocks listed in jumps end
// with a conditional branch to the given block, blocks in tables with a
// jump table over their successors, and every block without successors
// returns.
func buildFunc(n int, edges []edge, jumps map[int]int, tables map[int][]int) *ucode.Function {
    fn := ucode.NewFunction("test", 0x1000, 8)
    zf := fn.FlagReg("zf")
    rax := fn.Native("rax", 8)

    /* blocks */
    for i := 0; i < n; i++ {
        fn.AddBlock(addrOf(i))
    }
    for _, e := range edges {
        fn.Link(e.from, e.to)
    }

    /* terminators */
    for _, b := range fn.Blocks {
        pc := b.Addr
        fn.Append(b, &ucode.Mov { Size: 8, S: ucode.Const(8, int64(b.ID)), D: rax }, pc)
        switch {
            case hasJump(jumps, b.ID) : {
                fn.Append(b, &ucode.Branch { Cond: zf, Target: ucode.Const(8, int64(addrOf(jumps[b.ID]))) }, pc + 4)
            }
            case tables[b.ID] != nil  : {
                tab := []uint64(nil)
                for _, v := range tables[b.ID] {
                    tab = append(tab, addrOf(v))
                }
                fn.Append(b, &ucode.Switch { Value: rax, Targets: tab }, pc + 4)
            }
            case b.Succ.Len() == 0    : {
                fn.Append(b, &ucode.Ret { Values: []ucode.Value { rax } }, pc + 4)
                b.Exit = true
            }
        }
    }

    /* the first block is the entry */
    fn.Blocks[0].Entry = true
    fn.Entry = 0
    return fn
}

func hasJump(jumps map[int]int, id int) bool {
    _, ok := jumps[id]
    return ok
}

func structure(t *testing.T, fn *ucode.Function, budget int) Outcome {
    ret := Structure(context.Background(), fn, budget)
    require.NoError(t, ret.CFG.Check())
    if t.Failed() {
        t.Log(spew.Sdump(ret.Report))
    }
    return ret
}

func TestStructure_IfElse(t *testing.T) {
    fn := buildFunc(4, []edge {
        {0, 1}, {0, 2}, {1, 3}, {2, 3},
    }, map[int]int { 0: 2 }, nil)
    ret := structure(t, fn, 0)
    require.False(t, ret.Incomplete, ret.CFG.Dump())

    /* sequence(if-else, exit) */
    root := ret.Root
    require.Equal(t, Sequence, root.Kind, ret.CFG.Dump())
    require.Len(t, root.Nodes, 2)
    ie := root.Nodes[0]
    require.Equal(t, IfElse, ie.Kind)
    assert.Equal(t, fn.Blocks[0], ie.Test.Block)
    assert.Equal(t, fn.Blocks[2], ie.Then.Block)
    assert.Equal(t, fn.Blocks[1], ie.Else.Block)
    assert.False(t, ie.Negate)
    assert.Equal(t, fn.Blocks[3], root.Nodes[1].Block)
    assert.Equal(t, uint64(0x1000), root.Addr())
}

func TestStructure_While(t *testing.T) {
    fn := buildFunc(4, []edge {
        {0, 1}, {1, 2}, {1, 3}, {2, 1},
    }, map[int]int { 1: 3 }, nil)
    ret := structure(t, fn, 0)
    require.False(t, ret.Incomplete, ret.CFG.Dump())

    /* sequence(pre, while, exit) */
    root := ret.Root
    require.Equal(t, Sequence, root.Kind, ret.CFG.Dump())
    require.Len(t, root.Nodes, 3)
    w := root.Nodes[1]
    require.Equal(t, While, w.Kind)
    assert.Equal(t, fn.Blocks[1], w.Test.Block)
    assert.Equal(t, fn.Blocks[2], w.Then.Block)
    assert.True(t, w.Negate, "the branch leaves the loop")
}

func TestStructure_DoWhile(t *testing.T) {
    fn := buildFunc(4, []edge {
        {0, 1}, {1, 2}, {2, 1}, {2, 3},
    }, map[int]int { 2: 1 }, nil)
    ret := structure(t, fn, 0)
    require.False(t, ret.Incomplete, ret.CFG.Dump())

    /* sequence(pre, do-while, exit) */
    root := ret.Root
    require.Equal(t, Sequence, root.Kind, ret.CFG.Dump())
    require.Len(t, root.Nodes, 3)
    dw := root.Nodes[1]
    require.Equal(t, DoWhile, dw.Kind)
    assert.Equal(t, fn.Blocks[1], dw.Then.Block)
    assert.Equal(t, fn.Blocks[2], dw.Test.Block)
    assert.False(t, dw.Negate)
    assert.False(t, dw.Forever)
    assert.Equal(t, addrOf(1), dw.Addr())
}

func TestStructure_SelfLoop(t *testing.T) {
    fn := buildFunc(3, []edge {
        {0, 1}, {1, 1}, {1, 2},
    }, map[int]int { 1: 2 }, nil)
    ret := structure(t, fn, 0)
    require.False(t, ret.Incomplete, ret.CFG.Dump())
    require.Equal(t, Sequence, ret.Root.Kind)
    dw := ret.Root.Nodes[1]
    require.Equal(t, DoWhile, dw.Kind)
    assert.Nil(t, dw.Then)
    assert.True(t, dw.Negate)
}

func TestStructure_Switch(t *testing.T) {
    fn := buildFunc(5, []edge {
        {0, 1}, {0, 2}, {0, 3}, {1, 4}, {2, 4}, {3, 4},
    }, nil, map[int][]int { 0: {1, 2, 3} })
    ret := structure(t, fn, 0)
    require.False(t, ret.Incomplete, ret.CFG.Dump())

    /* sequence(switch, exit) */
    root := ret.Root
    require.Equal(t, Sequence, root.Kind, ret.CFG.Dump())
    sw := root.Nodes[0]
    require.Equal(t, Switch, sw.Kind)
    require.Len(t, sw.Nodes, 3)
    for i, c := range sw.Nodes {
        assert.Equal(t, fn.Blocks[i + 1], c.Block)
    }
}

func TestStructure_MultiIf(t *testing.T) {
    // if (!a && b) { 3 } else { 2 }; 4
    fn := buildFunc(5, []edge {
        {0, 1}, {0, 2}, {1, 2}, {1, 3}, {2, 4}, {3, 4},
    }, map[int]int { 0: 2, 1: 3 }, nil)
    ret := structure(t, fn, 0)
    require.False(t, ret.Incomplete, ret.CFG.Dump())

    /* sequence(if-else(and(0, 1)), exit) */
    root := ret.Root
    require.Equal(t, Sequence, root.Kind, ret.CFG.Dump())
    ie := root.Nodes[0]
    require.Equal(t, IfElse, ie.Kind)
    require.Equal(t, AndSequence, ie.Test.Kind)
    require.Len(t, ie.Test.Nodes, 2)
    assert.Equal(t, []bool { false, true }, ie.Test.Sense)
    assert.Equal(t, fn.Blocks[3], ie.Then.Block)
    assert.Equal(t, fn.Blocks[2], ie.Else.Block)
}

func TestStructure_EarlyReturn(t *testing.T) {
    fn := buildFunc(3, []edge {
        {0, 1}, {0, 2},
    }, map[int]int { 0: 1 }, nil)
    ret := structure(t, fn, 0)
    require.False(t, ret.Incomplete, ret.CFG.Dump())
    require.Equal(t, Sequence, ret.Root.Kind)
    ir := ret.Root.Nodes[0]
    require.Equal(t, If, ir.Kind)
    assert.Equal(t, fn.Blocks[1], ir.Then.Block)
    assert.False(t, ir.Negate)
}

func TestStructure_Duplicate(t *testing.T) {
    // a loop with two exits into the same return block
    edges := []edge {
        {0, 1}, {1, 2}, {1, 3}, {2, 1}, {2, 3},
    }
    jumps := map[int]int { 1: 3, 2: 1 }

    /* no budget, no progress */
    ret := structure(t, buildFunc(4, edges, jumps, nil), 0)
    require.True(t, ret.Incomplete)
    assert.Len(t, ret.Roots, 4)
    assert.Equal(t, 0, ret.Roots[0].ID)
    assert.Error(t, ret.Err("test"))

    /* one copy is enough */
    ret = structure(t, buildFunc(4, edges, jumps, nil), 1)
    require.False(t, ret.Incomplete, ret.CFG.Dump())
    assert.Equal(t, 1, ret.CFG.Dups)
    assert.NoError(t, ret.Err("test"))
    require.Equal(t, Sequence, ret.Root.Kind)
    require.Len(t, ret.Root.Nodes, 3)
    assert.Equal(t, DoWhile, ret.Root.Nodes[1].Kind)
    assert.Equal(t, If, ret.Root.Nodes[1].Then.Kind)
}

func TestStructure_DuplicateComposite(t *testing.T) {
    // as above, but the shared exit is the sequence 3 -> 4
    edges := []edge {
        {0, 1}, {1, 2}, {1, 3}, {2, 1}, {2, 3}, {3, 4},
    }
    jumps := map[int]int { 1: 3, 2: 1 }

    ret := structure(t, buildFunc(5, edges, jumps, nil), 1)
    require.False(t, ret.Incomplete, ret.CFG.Dump())
    assert.Equal(t, 1, ret.CFG.Dups)
    require.NoError(t, ret.CFG.Check())

    /* both copies own their leaves, which share the block */
    ids := map[int]bool {}
    leaves := []*Node(nil)
    var walk func(n *Node)
    walk = func(n *Node) {
        require.False(t, ids[n.ID], "node #%d appears twice", n.ID)
        ids[n.ID] = true
        if n.Kind == Leaf && n.Block.ID == 4 {
            leaves = append(leaves, n)
        }
        for _, c := range n.children() {
            walk(c)
        }
    }
    walk(ret.Root)
    require.Len(t, leaves, 2)
    assert.NotSame(t, leaves[0], leaves[1])
    assert.Same(t, leaves[0].Block, leaves[1].Block)

    /* sharing a child is caught */
    require.NotEmpty(t, ret.Root.children())
    ret.Root.Kind, ret.Root.Nodes = Sequence, append(ret.Root.children(), ret.Root.children()[0])
    assert.ErrorContains(t, ret.CFG.Check(), "owned twice")
}

func TestStructure_Irreducible(t *testing.T) {
    fn := buildFunc(3, []edge {
        {0, 1}, {0, 2}, {1, 2}, {2, 1},
    }, map[int]int { 0: 2 }, nil)
    ret := structure(t, fn, 64)
    require.True(t, ret.Incomplete)
    assert.Nil(t, ret.Root)
    assert.Len(t, ret.Roots, 3)
    require.Len(t, ret.Report.Loops, 1)
    assert.Equal(t, []int { 1, 2 }, ret.Report.Loops[0].Nodes)
    assert.Equal(t, []int { 1, 2 }, ret.Report.Loops[0].Entries)
    assert.Contains(t, ret.Err("test").Error(), "multi-entry loops")
}

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
    `fmt`
    `strings`

    `github.com/cloudwego/decaf/internal/graph`
    `github.com/cloudwego/decaf/internal/ucode`
)

type Kind uint8

const (
    Leaf Kind = iota
    If
    IfElse
    While
    DoWhile
    Sequence
    AndSequence
    Switch
)

var _KindNames = [...]string {
    Leaf        : "Leaf",
    If          : "If",
    IfElse      : "IfElse",
    While       : "While",
    DoWhile     : "DoWhile",
    Sequence    : "Sequence",
    AndSequence : "AndSequence",
    Switch      : "Switch",
}

func (self Kind) String() string {
    if int(self) < len(_KindNames) {
        return _KindNames[self]
    } else {
        return fmt.Sprintf("Kind(%d)", self)
    }
}

// Node is one vertex of the structuring graph. Leaves wrap a basic block,
// composites own the nodes they were reduced from.
//
// For composites with a test, Negate is set when the test's branch does
// not lead into the body, so the condition has to be inverted to read as
// "enter the body". Sense holds the same information for every member of
// an AndSequence, true when the branch continues the chain.
type Node struct {
    ID      int
    Kind    Kind
    Block   *ucode.Block
    Test    *Node
    Then    *Node
    Else    *Node
    Nodes   []*Node
    Negate  bool
    Forever bool
    Sense   []bool
    Succ    graph.Set
    Pred    graph.Set
    Jump    int
}

// Head returns the leaf executed first when entering the node.
func (self *Node) Head() *Node {
    switch self.Kind {
        case Leaf                   : return self
        case If, IfElse, While      : return self.Test.Head()
        case Switch                 : return self.Test.Head()
        case Sequence, AndSequence  : return self.Nodes[0].Head()
        case DoWhile                : if self.Then != nil { return self.Then.Head() } else { return self.Test.Head() }
        default                     : panic("structure: invalid node kind " + self.Kind.String())
    }
}

// Addr is the address of the first instruction of the node.
func (self *Node) Addr() uint64 {
    return self.Head().Block.Addr
}

// Last returns the terminating instruction of a leaf.
func (self *Node) Last() ucode.Instr {
    if self.Kind != Leaf {
        return nil
    } else {
        return self.Block.Last()
    }
}

func (self *Node) String() string {
    if self.Kind == Leaf {
        return fmt.Sprintf("#%d (%s %s)", self.ID, self.Kind, self.Block)
    } else {
        return fmt.Sprintf("#%d (%s)", self.ID, self.Kind)
    }
}

func (self *Node) children() []*Node {
    switch self.Kind {
        case Leaf                   : return nil
        case Sequence, AndSequence  : return self.Nodes
        case Switch                 : return append([]*Node { self.Test }, self.Nodes...)
        case DoWhile                : return compact(self.Then, self.Test)
        default                     : return compact(self.Test, self.Then, self.Else)
    }
}

func compact(v ...*Node) []*Node {
    ret := make([]*Node, 0, len(v))
    for _, n := range v {
        if n != nil {
            ret = append(ret, n)
        }
    }
    return ret
}

func (self *Node) dump(buf *strings.Builder, depth int) {
    buf.WriteString(strings.Repeat("    ", depth))
    buf.WriteString(self.String())

    /* orientation of the test */
    if self.Negate {
        buf.WriteString(" negated")
    }
    if self.Forever {
        buf.WriteString(" forever")
    }

    /* leaves show their address, composites their members */
    buf.WriteByte('\n')
    for _, v := range self.children() {
        v.dump(buf, depth + 1)
    }
}

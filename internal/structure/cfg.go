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
    `sort`
    `strings`

    `github.com/cloudwego/decaf/internal/graph`
    `github.com/cloudwego/decaf/internal/ucode`
)

// CFG is the node arena the rules operate on. Roots are the nodes not yet
// owned by any composite, in creation order.
type CFG struct {
    Fn     *ucode.Function
    Nodes  []*Node
    Roots  []int
    Entry  int
    Budget int
    Dups   int
}

// NewCFG wraps every live block of a function into a leaf.
func NewCFG(fn *ucode.Function, budget int) *CFG {
    ret := &CFG { Fn: fn, Budget: budget, Entry: -1 }
    ids := make(map[int]int, len(fn.Blocks))

    /* one leaf per block */
    for _, b := range fn.Live() {
        n := ret.add(&Node { Kind: Leaf, Block: b, Jump: -1 })
        ids[b.ID] = n.ID
        if b.ID == fn.Entry {
            ret.Entry = n.ID
        }
    }

    /* copy the edges */
    for _, b := range fn.Live() {
        n := ret.Nodes[ids[b.ID]]
        for _, s := range b.Succ {
            n.Succ.Add(ids[s])
        }
        for _, p := range b.Pred {
            n.Pred.Add(ids[p])
        }
    }

    /* remember where the conditional branches go */
    for _, b := range fn.Live() {
        if br, ok := b.Last().(*ucode.Branch); ok {
            for _, s := range b.Succ {
                if fn.Block(s).Addr == br.Addr() {
                    ret.Nodes[ids[b.ID]].Jump = ids[s]
                }
            }
        }
    }
    return ret
}

func (self *CFG) add(n *Node) *Node {
    n.ID = len(self.Nodes)
    self.Nodes = append(self.Nodes, n)
    self.Roots = append(self.Roots, n.ID)
    return n
}

func (self *CFG) node(id int) *Node {
    return self.Nodes[id]
}

// At returns the node with the given ID.
func (self *CFG) At(id int) *Node {
    return self.Nodes[id]
}

func (self *CFG) unroot(id int) {
    for i, v := range self.Roots {
        if v == id {
            self.Roots = append(self.Roots[:i], self.Roots[i + 1:]...)
            return
        }
    }
    panic(fmt.Sprintf("structure: node #%d is not a root", id))
}

// owns reports whether reducing the nodes would swallow the function
// entry somewhere other than at the head of the new composite.
func (self *CFG) owns(inner ...*Node) bool {
    for _, n := range inner {
        if n != nil && n.ID == self.Entry {
            return true
        }
    }
    return false
}

// replace substitutes a composite for its head and inner nodes. Edges
// coming into the head from outside now come into the composite, which
// continues to exit (if any).
func (self *CFG) replace(head *Node, inner []*Node, exit *Node, nn *Node) {
    nn.Jump = -1
    self.add(nn)

    /* members of the composite */
    set := graph.NewSet(head.ID)
    for _, n := range inner {
        set.Add(n.ID)
    }

    /* redirect the outside predecessors */
    nn.Pred = head.Pred.Minus(set)
    for _, p := range nn.Pred {
        pn := self.node(p)
        pn.Succ.Remove(head.ID)
        pn.Succ.Add(nn.ID)
        if pn.Jump == head.ID {
            pn.Jump = nn.ID
        }
    }

    /* and the successor */
    if exit != nil {
        exit.Pred = exit.Pred.Minus(set)
        exit.Pred.Add(nn.ID)
        nn.Succ = graph.NewSet(exit.ID)
    }

    /* the members are no longer roots */
    for _, id := range set {
        self.unroot(id)
        self.node(id).Succ = nil
        self.node(id).Pred = nil
    }

    /* the composite may now be the entry */
    if set.Has(self.Entry) {
        self.Entry = nn.ID
    }
}

// duplicate gives pred a private copy of a node without successors. The
// copy owns fresh copies of every node below it.
func (self *CFG) duplicate(n *Node, pred *Node) *Node {
    ids := make(map[int]int)
    c := self.clone(n, ids)
    c.Succ = nil
    c.Pred = graph.NewSet(pred.ID)
    self.Roots = append(self.Roots, c.ID)

    /* branches inside the copy go to the copied nodes */
    for _, id := range ids {
        if j, ok := ids[self.node(id).Jump]; ok {
            self.node(id).Jump = j
        }
    }

    /* move the edge */
    n.Pred.Remove(pred.ID)
    pred.Succ.Remove(n.ID)
    pred.Succ.Add(c.ID)
    if pred.Jump == n.ID {
        pred.Jump = c.ID
    }
    return c
}

// clone copies a subtree into the arena without making it a root. ids maps
// every original node to its copy.
func (self *CFG) clone(n *Node, ids map[int]int) *Node {
    if n == nil {
        return nil
    }

    /* the node itself */
    c := *n
    c.ID = len(self.Nodes)
    c.Succ = n.Succ.Clone()
    c.Pred = n.Pred.Clone()
    c.Sense = append([]bool(nil), n.Sense...)
    self.Nodes = append(self.Nodes, &c)
    ids[n.ID] = c.ID

    /* and everything it owns */
    c.Test = self.clone(n.Test, ids)
    c.Then = self.clone(n.Then, ids)
    c.Else = self.clone(n.Else, ids)
    c.Nodes = nil
    for _, v := range n.Nodes {
        c.Nodes = append(c.Nodes, self.clone(v, ids))
    }
    return &c
}

// Check verifies that every edge between roots is mutual, and that no node
// is owned twice.
func (self *CFG) Check() error {
    for _, id := range self.Roots {
        n := self.node(id)
        for _, s := range n.Succ {
            if !self.node(s).Pred.Has(id) {
                return fmt.Errorf("structure: edge #%d -> #%d is not mutual", id, s)
            }
        }
        for _, p := range n.Pred {
            if !self.node(p).Succ.Has(id) {
                return fmt.Errorf("structure: edge #%d <- #%d is not mutual", id, p)
            }
        }
    }

    /* every node sits in exactly one tree, once */
    seen := make(map[*Node]bool, len(self.Nodes))
    for _, id := range self.Roots {
        if err := self.node(id).unique(seen); err != nil {
            return err
        }
    }
    return nil
}

func (self *Node) unique(seen map[*Node]bool) error {
    if seen[self] {
        return fmt.Errorf("structure: node #%d is owned twice", self.ID)
    }
    seen[self] = true
    for _, c := range self.children() {
        if err := c.unique(seen); err != nil {
            return err
        }
    }
    return nil
}

// Dump renders the remaining roots with their trees.
func (self *CFG) Dump() string {
    buf := strings.Builder{}
    fmt.Fprintf(&buf, "; CFG Dump\n; Root nodes: %d.\n;\n\n", len(self.Roots))

    /* entry first, then by address */
    roots := self.ordered()
    for _, n := range roots {
        fmt.Fprintf(&buf, "Root Node (%s) -> %s:\n", n.Kind, n.Succ)
        n.dump(&buf, 1)
    }
    return buf.String()
}

func (self *CFG) ordered() []*Node {
    ret := make([]*Node, 0, len(self.Roots))
    for _, id := range self.Roots {
        ret = append(ret, self.node(id))
    }
    sort.SliceStable(ret, func(i int, j int) bool {
        switch {
            case ret[i].ID == self.Entry : return true
            case ret[j].ID == self.Entry : return false
            default                      : return ret[i].Addr() < ret[j].Addr()
        }
    })
    return ret
}

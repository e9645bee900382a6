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

package graph

import (
    `sort`

    `github.com/oleiade/lane`
    `gonum.org/v1/gonum/graph`
    `gonum.org/v1/gonum/graph/flow`
    `gonum.org/v1/gonum/graph/simple`
    `gonum.org/v1/gonum/graph/topo`
)

// Successors enumerates the out-edges of a node.
type Successors func(id int) []int

// Reachable returns every node reachable from entry in BFS order.
func Reachable(entry int, succ Successors) []int {
    q := lane.NewQueue()
    q.Enqueue(entry)
    seen := map[int]bool { entry: true }
    ret := []int(nil)

    /* breadth-first walk */
    for !q.Empty() {
        id := q.Dequeue().(int)
        ret = append(ret, id)

        /* visit all the successors */
        for _, v := range succ(id) {
            if !seen[v] {
                seen[v] = true
                q.Enqueue(v)
            }
        }
    }
    return ret
}

// Loop is a strongly connected component entered from outside through
// more than one node, the signature of irreducible control flow.
type Loop struct {
    Nodes   []int
    Entries []int
}

// Report describes why a graph could not be reduced.
type Report struct {
    Loops []Loop
    IDom  map[int]int
}

func (self Report) Irreducible() bool {
    return len(self.Loops) != 0
}

func directed(nodes []int, succ Successors) *simple.DirectedGraph {
    g := simple.NewDirectedGraph()
    for _, id := range nodes {
        if g.Node(int64(id)) == nil {
            g.AddNode(simple.Node(id))
        }
    }

    /* add every edge, skipping self loops which simple graphs reject */
    for _, id := range nodes {
        for _, v := range succ(id) {
            if v != id {
                if g.Node(int64(v)) == nil {
                    g.AddNode(simple.Node(v))
                }
                g.SetEdge(g.NewEdge(simple.Node(id), simple.Node(v)))
            }
        }
    }
    return g
}

// Dominators returns the immediate dominator of every node reachable from
// entry. The entry itself has no entry in the map.
func Dominators(entry int, nodes []int, succ Successors) map[int]int {
    g := directed(nodes, succ)
    ret := make(map[int]int, len(nodes))

    /* the entry may have been dropped */
    if g.Node(int64(entry)) == nil {
        return ret
    }

    /* flatten the tree */
    dt := flow.Dominators(simple.Node(entry), g)
    for _, id := range nodes {
        if d := dt.DominatorOf(int64(id)); d != nil {
            ret[id] = int(d.ID())
        }
    }
    return ret
}

// Dominates reports whether a dominates b in an immediate dominator map.
func Dominates(idom map[int]int, a int, b int) bool {
    for b != a {
        p, ok := idom[b]
        if !ok || p == b {
            return false
        }
        b = p
    }
    return true
}

// Analyze computes the multi-entry strongly connected components and the
// immediate dominators of a graph.
func Analyze(entry int, nodes []int, succ Successors) Report {
    g := directed(nodes, succ)
    ret := Report { IDom: Dominators(entry, nodes, succ) }

    /* find all the components with more than one external entry */
    for _, scc := range topo.TarjanSCC(g) {
        if len(scc) < 2 {
            continue
        }
        if loop := entriesOf(g, scc, entry); len(loop.Entries) > 1 {
            ret.Loops = append(ret.Loops, loop)
        }
    }

    /* stable output order */
    sort.Slice(ret.Loops, func(i int, j int) bool {
        return ret.Loops[i].Nodes[0] < ret.Loops[j].Nodes[0]
    })
    return ret
}

func entriesOf(g *simple.DirectedGraph, scc []graph.Node, entry int) Loop {
    in := make(map[int64]bool, len(scc))
    ret := Loop{}

    /* collect the member set */
    for _, n := range scc {
        in[n.ID()] = true
        ret.Nodes = append(ret.Nodes, int(n.ID()))
    }

    /* a member is an entry if the function entry or an outside node leads to it */
    for _, n := range scc {
        if int(n.ID()) == entry {
            ret.Entries = append(ret.Entries, entry)
            continue
        }
        for it := g.To(n.ID()); it.Next(); {
            if !in[it.Node().ID()] {
                ret.Entries = append(ret.Entries, int(n.ID()))
                break
            }
        }
    }

    sort.Ints(ret.Nodes)
    sort.Ints(ret.Entries)
    return ret
}

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
    `github.com/cloudwego/decaf/internal/graph`
    `github.com/cloudwego/decaf/internal/ucode`
)

type _Rule struct {
    name  string
    apply func(*CFG, *Node) bool
}

// rules in the order they are tried, the later ones only fire when none of
// the earlier ones matches anywhere
var _Rules = [...]_Rule {
    { "if"          , (*CFG).ruleIf         },
    { "if-else"     , (*CFG).ruleIfElse     },
    { "sequence"    , (*CFG).ruleSequence   },
    { "while"       , (*CFG).ruleWhile      },
    { "self-loop"   , (*CFG).ruleSelfLoop   },
    { "do-while"    , (*CFG).ruleDoWhile    },
    { "multi-if"    , (*CFG).ruleMultiIf    },
    { "forever"     , (*CFG).ruleForever    },
    { "switch"      , (*CFG).ruleSwitch     },
    { "early-return", (*CFG).ruleEarlyRet   },
    { "duplicate"   , (*CFG).ruleDuplicate  },
}

func is(s graph.Set, v ...int) bool {
    return s.Equal(graph.NewSet(v...))
}

// pair splits the two successors of a test so that the first one
// satisfies pick, if either does.
func (self *CFG) pair(test *Node, pick func(n *Node, other *Node) bool) (*Node, *Node) {
    a, b := self.node(test.Succ[0]), self.node(test.Succ[1])
    if !pick(a, b) && pick(b, a) {
        return b, a
    } else {
        return a, b
    }
}

// (any)* => test
// test => body => exit
// test => exit
func (self *CFG) ruleIf(test *Node) bool {
    if test.Succ.Len() != 2 {
        return false
    }

    /* the detour is the one going back to the other */
    body, exit := self.pair(test, func(n *Node, other *Node) bool {
        return is(n.Succ, other.ID)
    })

    /* check the shape */
    switch {
        case exit == test                   : return false
        case !is(body.Succ, exit.ID)        : return false
        case !is(body.Pred, test.ID)        : return false
        case !exit.Pred.Has(test.ID)        : return false
        case self.owns(body)                : return false
    }

    /* reduce */
    self.replace(test, []*Node { body }, exit, &Node {
        Kind   : If,
        Test   : test,
        Then   : body,
        Negate : test.Jump != body.ID,
    })
    return true
}

// (any)* => test
// test => left => exit
// test => right => exit
// exit => (any)*
func (self *CFG) ruleIfElse(test *Node) bool {
    if test.Succ.Len() != 2 {
        return false
    }

    /* the branch target becomes the "then" part */
    then, other := self.pair(test, func(n *Node, _ *Node) bool {
        return n.ID == test.Jump
    })

    /* both arms join at the same node */
    switch {
        case !is(then.Pred, test.ID)        : return false
        case !is(other.Pred, test.ID)       : return false
        case then.Succ.Len() != 1           : return false
        case !then.Succ.Equal(other.Succ)   : return false
        case self.owns(then, other)         : return false
    }

    /* the join may have other predecessors too */
    exit := self.node(then.Succ[0])
    if exit == test {
        return false
    }

    /* reduce */
    self.replace(test, []*Node { then, other }, exit, &Node {
        Kind   : IfElse,
        Test   : test,
        Then   : then,
        Else   : other,
        Negate : test.Jump != then.ID,
    })
    return true
}

// (any)* => first => ... => last (=> exit)
func (self *CFG) ruleSequence(first *Node) bool {
    if first.Succ.Len() != 1 {
        return false
    }

    /* at least two nodes */
    next := self.node(first.Succ[0])
    if !is(next.Pred, first.ID) || next.Succ.Len() > 1 || next == first || self.owns(next) {
        return false
    }

    /* the chain must not loop back into itself */
    nodes := []*Node { first, next }
    members := graph.NewSet(first.ID, next.ID)
    if next.Succ.Len() == 1 && members.Has(next.Succ[0]) {
        return false
    }

    /* extend greedily */
    for {
        last := nodes[len(nodes) - 1]
        if last.Succ.Len() != 1 {
            break
        }
        n := self.node(last.Succ[0])
        if !is(n.Pred, last.ID) || n.Succ.Len() > 1 || n.Succ.Intersects(members) || self.owns(n) {
            break
        }
        nodes = append(nodes, n)
        members.Add(n.ID)
    }

    /* the exit, if the chain continues */
    var exit *Node
    if last := nodes[len(nodes) - 1]; last.Succ.Len() == 1 {
        exit = self.node(last.Succ[0])
    }

    /* reduce */
    self.replace(first, nodes[1:], exit, &Node {
        Kind  : Sequence,
        Nodes : append([]*Node(nil), nodes...),
    })
    return true
}

// (any)* => test
// test <=> body
// test => exit
// exit => (any)*
func (self *CFG) ruleWhile(test *Node) bool {
    if test.Succ.Len() != 2 {
        return false
    }

    /* the body is the one looping back */
    body, exit := self.pair(test, func(n *Node, _ *Node) bool {
        return is(n.Succ, test.ID)
    })

    /* check the shape */
    switch {
        case body == test || exit == test   : return false
        case !is(body.Succ, test.ID)        : return false
        case !is(body.Pred, test.ID)        : return false
        case !is(exit.Pred, test.ID)        : return false
        case self.owns(body, exit)          : return false
    }

    /* reduce */
    self.replace(test, []*Node { body }, exit, &Node {
        Kind   : While,
        Test   : test,
        Then   : body,
        Negate : test.Jump != body.ID,
    })
    return true
}

// (any)* => loop => exit
// loop <=> loop
func (self *CFG) ruleSelfLoop(loop *Node) bool {
    if loop.Succ.Len() != 2 || !loop.Succ.Has(loop.ID) || !loop.Pred.Has(loop.ID) {
        return false
    }

    /* the other successor */
    exit := self.node(loop.Succ.Minus(graph.NewSet(loop.ID))[0])
    loop.Succ.Remove(loop.ID)
    loop.Pred.Remove(loop.ID)

    /* reduce */
    self.replace(loop, nil, exit, &Node {
        Kind   : DoWhile,
        Test   : loop,
        Negate : loop.Jump != loop.ID,
    })
    return true
}

// (any)* => loop
// loop <=> test
// test => exit
func (self *CFG) ruleDoWhile(loop *Node) bool {
    if loop.Succ.Len() != 1 {
        return false
    }

    /* the test closes the loop */
    test := self.node(loop.Succ[0])
    if test == loop || test.Succ.Len() != 2 || !test.Succ.Has(loop.ID) {
        return false
    }

    /* and is only entered from the body */
    exit := self.node(test.Succ.Minus(graph.NewSet(loop.ID))[0])
    switch {
        case exit == test                   : return false
        case !is(test.Pred, loop.ID)        : return false
        case self.owns(test)                : return false
    }

    /* reduce */
    self.replace(loop, []*Node { test }, exit, &Node {
        Kind   : DoWhile,
        Then   : loop,
        Test   : test,
        Negate : test.Jump != loop.ID,
    })
    return true
}

// test => fail
// test => next => fail
// ... => next => success (or exit)
// fail => exit
// success => exit
func (self *CFG) ruleMultiIf(test *Node) bool {
    if test.Succ.Len() != 2 {
        return false
    }
    for _, f := range test.Succ {
        if self.multiIf(test, self.node(f)) {
            return true
        }
    }
    return false
}

func (self *CFG) multiIf(test *Node, fail *Node) bool {
    if fail.Succ.Len() != 1 || fail == test {
        return false
    }

    /* walk down the chain of tests sharing the failure path */
    exit := self.node(fail.Succ[0])
    tests := []*Node { test }
    cur := self.node(test.Succ.Minus(graph.NewSet(fail.ID))[0])
    succ := (*Node)(nil)

    /* every link is a two-way test reached only from the previous one */
    for {
        if cur.Succ.Len() != 2 || !cur.Succ.Has(fail.ID) || !is(cur.Pred, tests[len(tests) - 1].ID) || cur == exit {
            return false
        }
        tests = append(tests, cur)

        /* the way out of the chain */
        next := self.node(cur.Succ.Minus(graph.NewSet(fail.ID))[0])
        if next == exit {
            break
        }

        /* a success block, or one more test */
        if next.Succ.Len() == 1 && next.Succ[0] == exit.ID && is(next.Pred, cur.ID) {
            succ = next
            break
        }

        /* guard against cycles through the chain */
        for _, v := range tests {
            if v == next {
                return false
            }
        }
        cur = next
    }

    /* the failure block is shared by every test and nothing else */
    pset := graph.Set(nil)
    for _, v := range tests {
        pset.Add(v.ID)
    }
    if !fail.Pred.Equal(pset) || pset.Has(exit.ID) || exit == fail || self.owns(tests[1:]...) || self.owns(fail, succ) {
        return false
    }

    /* which way each test continues the chain */
    sense := make([]bool, len(tests))
    for i, v := range tests {
        sense[i] = v.Jump != fail.ID
    }

    /* the condition itself */
    cond := &Node {
        Kind  : AndSequence,
        Nodes : tests,
        Sense : sense,
        Jump  : -1,
    }
    cond.ID = len(self.Nodes)
    self.Nodes = append(self.Nodes, cond)

    /* everything but the head */
    inner := append([]*Node { fail }, tests[1:]...)
    if succ != nil {
        inner = append(inner, succ)
    }

    /* reduce */
    self.replace(test, inner, exit, &Node {
        Kind : IfElse,
        Test : cond,
        Then : succ,
        Else : fail,
    })
    return true
}

// (any)* => loop
// loop <=> test
func (self *CFG) ruleForever(loop *Node) bool {
    switch {
        case is(loop.Succ, loop.ID) : return self.forever(loop, nil)
        case loop.Succ.Len() != 1   : return false
    }

    /* two nodes feeding each other with no way out */
    test := self.node(loop.Succ[0])
    if !is(test.Succ, loop.ID) || !is(test.Pred, loop.ID) || self.owns(test) {
        return false
    } else {
        return self.forever(loop, test)
    }
}

func (self *CFG) forever(loop *Node, test *Node) bool {
    loop.Pred.Remove(loop.ID)
    loop.Succ.Remove(loop.ID)

    /* a single block */
    if test == nil {
        self.replace(loop, nil, nil, &Node { Kind: DoWhile, Then: loop, Forever: true })
        return true
    }

    /* or a pair of them */
    self.replace(loop, []*Node { test }, nil, &Node { Kind: DoWhile, Then: loop, Test: test, Forever: true })
    return true
}

// test => case_0 ... case_n => exit
func (self *CFG) ruleSwitch(test *Node) bool {
    if test.Succ.Len() <= 2 {
        return false
    }

    /* must be an actual jump table */
    if _, ok := test.Last().(*ucode.Switch); !ok {
        return false
    }

    /* the common successor of the case bodies */
    exit := (*Node)(nil)
    for _, s := range test.Succ {
        if n := self.node(s); n.Succ.Len() == 1 {
            exit = self.node(n.Succ[0])
            break
        }
    }

    /* cases without a body jump straight to the exit */
    if exit == nil || exit == test {
        return false
    }

    /* every other case is entered from the test only */
    cases := []*Node(nil)
    for _, s := range test.Succ {
        n := self.node(s)
        switch {
            case n == exit                                      : continue
            case !is(n.Pred, test.ID) || !is(n.Succ, exit.ID)   : return false
            case self.owns(n)                                   : return false
        }
        cases = append(cases, n)
    }

    /* reduce */
    self.replace(test, cases, exit, &Node {
        Kind  : Switch,
        Test  : test,
        Nodes : cases,
    })
    return true
}

// (any)* => test
// test => ret
// test => exit
func (self *CFG) ruleEarlyRet(test *Node) bool {
    if test.Succ.Len() != 2 {
        return false
    }

    /* the one that returns */
    ret, exit := self.pair(test, func(n *Node, _ *Node) bool {
        return n.Succ.Len() == 0
    })

    /* check the shape */
    switch {
        case ret.Succ.Len() != 0            : return false
        case !is(ret.Pred, test.ID)         : return false
        case exit == test                   : return false
        case self.owns(ret)                 : return false
    }

    /* reduce */
    self.replace(test, []*Node { ret }, exit, &Node {
        Kind   : If,
        Test   : test,
        Then   : ret,
        Negate : test.Jump != ret.ID,
    })
    return true
}

// exit <= (any)+
func (self *CFG) ruleDuplicate(exit *Node) bool {
    n := exit.Pred.Len()
    if exit.Succ.Len() != 0 || n <= 1 || self.Dups + n - 1 > self.Budget {
        return false
    }

    /* the first predecessor keeps the original */
    for _, p := range exit.Pred.Clone()[1:] {
        self.duplicate(exit, self.node(p))
        self.Dups++
    }
    return true
}

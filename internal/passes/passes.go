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

package passes

import (
    `context`
    `sync/atomic`

    `tlog.app/go/tlog`

    `github.com/cloudwego/decaf/internal/session`
    `github.com/cloudwego/decaf/internal/ucode`
)

var (
    RoundBoundHits uint64 = 0
)

// Context is what every pass sees: the function being transformed and the
// session it belongs to.
type Context struct {
    Fn      *ucode.Function
    Session *session.Session
    ctx     context.Context
}

func NewContext(ctx context.Context, fn *ucode.Function, sess *session.Session) *Context {
    return &Context {
        Fn      : fn,
        Session : sess,
        ctx     : ctx,
    }
}

func (self *Context) ptr() int {
    return self.Fn.PtrSize
}

// Pass is a function transformation. Apply reports whether anything
// changed.
type Pass interface {
    Apply(*Context) bool
}

type _PassDescriptor struct {
    pass Pass
    desc string
}

var (
    _Resolve   = _PassDescriptor { desc: "resolve"   , pass: new(Resolve)   }
    _Simplify  = _PassDescriptor { desc: "simplify"  , pass: new(Simplify)  }
    _Propagate = _PassDescriptor { desc: "propagate" , pass: new(Propagate) }
    _Eliminate = _PassDescriptor { desc: "eliminate" , pass: new(Eliminate) }
    _StackArgs = _PassDescriptor { desc: "stack-args", pass: new(StackArgs) }
    _Idioms    = _PassDescriptor { desc: "idioms"    , pass: new(Idioms)    }
    _StripNops = _PassDescriptor { desc: "strip-nops", pass: new(StripNops) }
    _ARC       = _PassDescriptor { desc: "arc"       , pass: new(ARC)       }
)

var _passes = [...]_PassDescriptor {
    _Resolve, _Simplify, _Propagate,
    _Resolve, _Simplify, _Propagate,
    _Resolve, _Eliminate, _StackArgs, _Resolve,
    _Idioms, _Simplify, _Eliminate, _StripNops, _ARC,
}

// Transform runs the pass schedule until the textual dump of the function
// stops changing, at most rounds times. It reports whether a fixpoint was
// reached.
func Transform(ctx context.Context, fn *ucode.Function, sess *session.Session, rounds int) bool {
    c := NewContext(ctx, fn, sess)
    tr := tlog.SpanFromContext(ctx)
    last := fn.String()

    /* run the whole schedule per round */
    for i := 0; i < rounds; i++ {
        for _, p := range _passes {
            if p.pass.Apply(c) && tr.If("passes") {
                tr.Printw("pass changed function", "func", fn.Name, "round", i, "pass", p.desc)
            }
        }

        /* fixpoint reached */
        if cur := fn.String(); cur == last {
            return true
        } else {
            last = cur
        }
    }

    /* the function is still usable, just not fully simplified */
    atomic.AddUint64(&RoundBoundHits, 1)
    tr.Printw("transform round bound reached", "func", fn.Name, "rounds", rounds)
    return false
}

/** Helpers **/

// writers counts the instructions defining each register.
func writers(fn *ucode.Function) map[*ucode.Register]int {
    ret := make(map[*ucode.Register]int)
    for _, ins := range fn.Instrs() {
        if d := ins.Dest(); d != nil {
            ret[d]++
        }
    }
    return ret
}

// aliased collects every register whose address is taken.
func aliased(fn *ucode.Function) map[*ucode.Register]bool {
    ret := make(map[*ucode.Register]bool)
    for _, ins := range fn.Instrs() {
        if v, ok := ins.(*ucode.AddressOf); ok {
            ret[v.S] = true
        }
    }
    return ret
}

// readers collects every register read anywhere.
func readers(fn *ucode.Function) map[*ucode.Register]bool {
    ret := make(map[*ucode.Register]bool)
    for _, ins := range fn.Instrs() {
        for _, r := range ucode.Registers(ins) {
            ret[r] = true
        }
    }
    return ret
}

// between returns the instructions strictly between two instructions of the
// same block, or false when they are not in that order.
func between(from ucode.Instr, to ucode.Instr) ([]ucode.Instr, bool) {
    b := from.Meta().Block
    if b == nil || b != to.Meta().Block {
        return nil, false
    }
    i, j := ucode.Index(from), ucode.Index(to)
    if i < 0 || j < 0 || i >= j {
        return nil, false
    }
    return b.Instrs[i + 1:j], true
}

// stable reports whether a value read at from still holds at to, both in
// the same block.
func stable(v ucode.Value, from ucode.Instr, to ucode.Instr) bool {
    r, ok := v.(*ucode.Register)
    if !ok {
        return true
    }
    mid, ok := between(from, to)
    if !ok {
        return false
    }
    for _, ins := range mid {
        if ins.Dest() == r {
            return false
        }
    }
    return true
}

// setDest redirects the result of an instruction to another register.
// Instructions whose destination is also an operand cannot be redirected.
func setDest(ins ucode.Instr, r *ucode.Register) bool {
    switch v := ins.(type) {
        case *ucode.Mov       : v.D = r
        case *ucode.Load      : v.D = r
        case *ucode.AddressOf : v.D = r
        case *ucode.GetMember : v.D = r
        case *ucode.Trunc     : v.D = r
        case *ucode.Extend    : v.D = r
        case *ucode.Binary    : v.D = r
        case *ucode.Unary     : v.D = r
        default               : return false
    }
    return true
}

// single returns the only reaching definition of a usage slot.
func single(ins ucode.Instr, slot *ucode.Value) (ucode.Instr, bool) {
    if defs := ucode.Defs(ins, slot); len(defs) != 1 {
        return nil, false
    } else {
        return defs[0], true
    }
}

func constOf(v ucode.Value) (int64, bool) {
    if c, ok := v.(*ucode.Constant); ok {
        return c.Value, true
    } else {
        return 0, false
    }
}

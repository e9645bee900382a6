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
    `github.com/cloudwego/decaf/internal/ucode`
)

// Idioms undoes the instruction sequences the lowering uses for partial
// register writes and address arithmetic.
type Idioms struct{}

func (self Idioms) Apply(c *Context) bool {
    ok := false
    ok = self.partial(c) || ok
    ok = self.extended(c) || ok
    ok = self.addresses(c) || ok
    ok = self.forward(c) || ok
    return ok
}

// fixed reports whether a value can be moved to a later point in the
// function without changing: constants, and temporaries which are only
// ever written once.
func fixed(v ucode.Value, count map[*ucode.Register]int) bool {
    r, ok := v.(*ucode.Register)
    return !ok || (r.Kind == ucode.Temp && count[r] == 1)
}

// defOf returns the only definition of a register operand.
func defOf(ins ucode.Instr, slot *ucode.Value) ucode.Instr {
    if _, ok := (*slot).(*ucode.Register); !ok {
        return nil
    } else if def, ok := single(ins, slot); !ok {
        return nil
    } else {
        return def
    }
}

// partial matches "trunc((p & ~mask) | zext(v))" where the mask clears
// exactly the truncated width, which reads back v.
func (self Idioms) partial(c *Context) bool {
    ret := false
    c.Fn.Analyze()
    count := writers(c.Fn)

    /* every truncation */
    for _, ins := range c.Fn.Instrs() {
        tr, ok := ins.(*ucode.Trunc)
        if !ok {
            continue
        }

        /* of an "or" */
        or, ok := defOf(tr, &tr.S).(*ucode.Binary)
        if !ok || or.Op != ucode.OpOr {
            continue
        }

        /* of a masked value and an extension */
        and, ok1 := defOf(or, &or.S1).(*ucode.Binary)
        ext, ok2 := defOf(or, &or.S2).(*ucode.Extend)
        if !ok1 || !ok2 || and.Op != ucode.OpAnd {
            continue
        }

        /* the mask must clear the low bytes */
        mask, ok := constOf(and.S2)
        if !ok || mask != int64(-1) << (uint(tr.Size) * 8) || ext.S.Width() != tr.Size || !fixed(ext.S, count) {
            continue
        }

        /* the truncation is the extended value */
        c.Fn.ReplaceWith(tr, &ucode.Mov { Size: tr.Size, S: ext.S, D: tr.D })
        ret = true
    }
    return ret
}

// extended matches "trunc(ext(v))" back to the original width.
func (self Idioms) extended(c *Context) bool {
    ret := false
    c.Fn.Analyze()
    count := writers(c.Fn)

    /* every truncation of an extension */
    for _, ins := range c.Fn.Instrs() {
        tr, ok := ins.(*ucode.Trunc)
        if !ok {
            continue
        }
        ext, ok := defOf(tr, &tr.S).(*ucode.Extend)
        if !ok || ext.S.Width() != tr.Size || !fixed(ext.S, count) {
            continue
        }
        c.Fn.ReplaceWith(tr, &ucode.Mov { Size: tr.Size, S: ext.S, D: tr.D })
        ret = true
    }
    return ret
}

// addresses turns "p = &x; *p = v" into "x = v" when the store is the only
// use of p and covers the whole of x. Loads are treated the same way.
func (self Idioms) addresses(c *Context) bool {
    ret := false
    c.Fn.Analyze()

    /* every address taken */
    for _, ins := range c.Fn.Instrs() {
        ad, ok := ins.(*ucode.AddressOf)
        if !ok || len(ad.Meta().Users) != 1 {
            continue
        }

        /* with exactly one dereference */
        switch v := ad.Meta().Users[0].(type) {
            case *ucode.Store: {
                if v.Addr == ucode.Value(ad.D) && v.S != ucode.Value(ad.D) && v.Size == ad.S.Size {
                    c.Fn.ReplaceWith(v, &ucode.Mov { Size: v.Size, S: v.S, D: ad.S })
                    c.Fn.Nopify(ad)
                    ret = true
                }
            }
            case *ucode.Load: {
                if v.Addr == ucode.Value(ad.D) && v.Size == ad.S.Size {
                    c.Fn.ReplaceWith(v, &ucode.Mov { Size: v.Size, S: ad.S, D: v.D })
                    c.Fn.Nopify(ad)
                    ret = true
                }
            }
        }
    }
    return ret
}

// forward writes the result of "t = expr; r = t" straight into r when t is
// a temporary read only by the copy in the same block.
func (self Idioms) forward(c *Context) bool {
    ret := false
    c.Fn.Analyze()
    alias := aliased(c.Fn)

    /* every copy of a temporary */
    for _, ins := range c.Fn.Instrs() {
        mv, ok := ins.(*ucode.Mov)
        if !ok {
            continue
        }
        t, ok := mv.S.(*ucode.Register)
        if !ok || t.Kind != ucode.Temp || alias[t] || alias[mv.D] {
            continue
        }

        /* the temporary is only produced for this copy */
        def := defOf(mv, &mv.S)
        if def == nil || def.Dest() != t || len(def.Meta().Users) != 1 || def.Meta().Block != mv.Meta().Block {
            continue
        }

        /* the destination must be untouched in between */
        mid, ok := between(def, mv)
        if !ok || touches(mid, mv.D) {
            continue
        }

        /* retarget and drop the copy */
        if setDest(def, mv.D) {
            c.Fn.Nopify(mv)
            ret = true
        }
    }
    return ret
}

func touches(ins []ucode.Instr, r *ucode.Register) bool {
    for _, v := range ins {
        if v.Dest() == r || ucode.Reads(v, r) {
            return true
        }
    }
    return false
}

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
    `github.com/cloudwego/decaf/internal/image`
    `github.com/cloudwego/decaf/internal/ucode`
)

// Resolve gives names to what the lowering left as raw numbers: stack
// accesses become frame variables, constant addresses become symbols and
// calls get their parameter lists.
type Resolve struct{}

func (self Resolve) Apply(c *Context) bool {
    ok := false
    ok = self.promote(c) || ok
    ok = self.symbols(c) || ok
    ok = self.calls(c) || ok
    ok = self.msgSend(c) || ok
    ok = self.formats(c) || ok
    return ok
}

/** Stack Variables **/

type _FrameRef struct {
    base bool
    off  int64
}

type _AddrRef struct {
    ins *ucode.Binary
    ref _FrameRef
}

// spDelta returns the stack pointer adjustment performed by an instruction,
// or false if it writes the stack pointer in some other way.
func spDelta(ins ucode.Instr, sp *ucode.Register) (int64, bool) {
    v, ok := ins.(*ucode.Binary)
    if !ok || v.D != sp || v.S1 != sp {
        return 0, false
    }
    c, ok := constOf(v.S2)
    switch {
        case !ok            : return 0, false
        case v.Op == ucode.OpAdd : return c, true
        case v.Op == ucode.OpSub : return -c, true
        default             : return 0, false
    }
}

// frameRef matches "sp + c" and "base + c" address computations.
func frameRef(v ucode.Value, sp *ucode.Register, bp *ucode.Register, delta int64) (_FrameRef, bool) {
    switch {
        case v == nil                           : return _FrameRef{}, false
        case sp != nil && v == ucode.Value(sp)  : return _FrameRef { off: delta }, true
        case bp != nil && v == ucode.Value(bp)  : return _FrameRef { base: true }, true
        default                                 : return _FrameRef{}, false
    }
}

func binaryRef(v *ucode.Binary, sp *ucode.Register, bp *ucode.Register, delta int64) (_FrameRef, bool) {
    if v.D.Kind != ucode.Temp || (v.Op != ucode.OpAdd && v.Op != ucode.OpSub) {
        return _FrameRef{}, false
    }
    c, ok := constOf(v.S2)
    if !ok {
        return _FrameRef{}, false
    }
    ref, ok := frameRef(v.S1, sp, bp, delta)
    if !ok {
        return _FrameRef{}, false
    }
    if v.Op == ucode.OpSub {
        ref.off -= c
    } else {
        ref.off += c
    }
    return ref, true
}

// slot finds the frame item covering a reference. Stack pointer slots are
// created on demand, base slots only come from frame detection.
func slot(fn *ucode.Function, ref _FrameRef, size int) *ucode.StackItem {
    if item := fn.FrameItemAt(ref.off, ref.base); item != nil || ref.base {
        return item
    }
    fn.SPSlot(ref.off, size)
    return fn.FrameItemAt(ref.off, false)
}

// promote rewrites loads and stores through frame addresses into accesses
// of the frame variables themselves.
func (self Resolve) promote(c *Context) bool {
    fn := c.Fn
    sp := fn.Lookup(fn.SP)
    bp := fn.Lookup(fn.Base)
    ret := false
    addrs := []_AddrRef(nil)

    /* nothing addresses the frame */
    if sp == nil && bp == nil {
        return false
    }

    /* the stack pointer is tracked per block, relative to its value on entry */
    for _, b := range fn.Live() {
        refs := map[*ucode.Register]_FrameRef{}
        delta := int64(0)

        /* resolve an address operand */
        lookup := func(v ucode.Value) (_FrameRef, bool) {
            if r, ok := v.(*ucode.Register); ok {
                if ref, ok := refs[r]; ok {
                    return ref, true
                }
            }
            return frameRef(v, sp, bp, delta)
        }

        /* walk over a copy, the block changes underneath */
        for _, ins := range append([]ucode.Instr(nil), b.Instrs...) {
            switch v := ins.(type) {
                case *ucode.Binary: {
                    if ref, ok := binaryRef(v, sp, bp, delta); ok {
                        refs[v.D] = ref
                        addrs = append(addrs, _AddrRef { ins: v, ref: ref })
                    }
                }
                case *ucode.Load: {
                    if ref, ok := lookup(v.Addr); ok {
                        ret = self.promoteLoad(fn, v, ref) || ret
                    }
                }
                case *ucode.Store: {
                    if ref, ok := lookup(v.Addr); ok {
                        ret = self.promoteStore(fn, v, ref) || ret
                    }
                }
            }

            /* follow the stack pointer */
            if sp != nil && ins.Dest() == sp {
                if d, ok := spDelta(ins, sp); ok {
                    delta += d
                } else {
                    delta = 0
                }
            }
        }
    }

    /* addresses still in use name the variable itself */
    used := readers(fn)
    for _, a := range addrs {
        if a.ins.Meta().Block != nil && used[a.ins.D] {
            ret = self.addressOf(fn, a) || ret
        }
    }
    return ret
}

func (self Resolve) promoteLoad(fn *ucode.Function, v *ucode.Load, ref _FrameRef) bool {
    item := slot(fn, ref, v.Size)
    switch {
        case item == nil: {
            return false
        }
        case item.Offset == ref.off && item.Size == v.Size: {
            fn.ReplaceWith(v, &ucode.Mov { Size: v.Size, S: item.Reg, D: v.D })
        }
        default: {
            fn.ReplaceWith(v, &ucode.GetMember { Size: v.Size, Obj: item.Reg, Off: ref.off - item.Offset, D: v.D })
        }
    }
    return true
}

func (self Resolve) promoteStore(fn *ucode.Function, v *ucode.Store, ref _FrameRef) bool {
    item := slot(fn, ref, v.Size)
    switch {
        case item == nil: {
            return false
        }
        case item.Offset == ref.off && item.Size == v.Size: {
            fn.ReplaceWith(v, &ucode.Mov { Size: v.Size, S: v.S, D: item.Reg })
        }
        default: {
            fn.ReplaceWith(v, ucode.NewSetMember(v.Size, item.Reg, ref.off - item.Offset, v.S))
        }
    }
    return true
}

func (self Resolve) addressOf(fn *ucode.Function, a _AddrRef) bool {
    item := slot(fn, a.ref, fn.PtrSize)
    if item == nil {
        return false
    }

    /* the start of the variable */
    if item.Offset == a.ref.off {
        fn.ReplaceWith(a.ins, &ucode.AddressOf { Size: fn.PtrSize, S: item.Reg, D: a.ins.D })
        return true
    }

    /* somewhere inside it */
    t := fn.Temp(fn.PtrSize)
    fn.InsertBefore(a.ins, &ucode.AddressOf { Size: fn.PtrSize, S: item.Reg, D: t })
    a.ins.Op = ucode.OpAdd
    a.ins.S1 = t
    a.ins.S2 = ucode.Const(fn.PtrSize, a.ref.off - item.Offset)
    return true
}

/** Symbols **/

// symbols replaces loads of Objective-C references with the referenced
// metadata and names every pointer-sized constant the binary knows about.
func (self Resolve) symbols(c *Context) bool {
    fn := c.Fn
    bin := c.Session.Binary
    ret := false

    /* metadata references */
    for _, ins := range fn.Instrs() {
        if v, ok := ins.(*ucode.Load); ok {
            if a, ok := v.Addr.(*ucode.Constant); ok {
                if sym, ok := metadata(bin, a.Unsigned()); ok {
                    val := int64(bin.Data[a.Unsigned()])
                    fn.ReplaceWith(v, &ucode.Mov { Size: v.Size, S: ucode.Symbol(v.Size, val, sym), D: v.D })
                    ret = true
                }
            }
        }
    }

    /* plain addresses */
    for _, ins := range fn.Instrs() {
        for _, p := range ins.Usages() {
            if k, ok := (*p).(*ucode.Constant); ok && k.Symbol == "" && k.Size == fn.PtrSize && k.Value != 0 {
                if sym, ok := address(bin, k.Unsigned()); ok {
                    *p = ucode.Symbol(k.Size, k.Value, sym)
                    ret = true
                }
            }
        }
    }
    return ret
}

func metadata(bin *image.Binary, addr uint64) (string, bool) {
    if v, ok := bin.Selectors[addr]; ok {
        return image.SelectorPrefix + v, true
    } else if v, ok = bin.ClassRefs[addr]; ok {
        return image.ClassPrefix + v, true
    } else if v, ok = bin.Ivars[addr]; ok {
        return image.IvarPrefix + v, true
    } else {
        return "", false
    }
}

func address(bin *image.Binary, addr uint64) (string, bool) {
    if sym, ok := bin.Literal(addr); ok {
        return sym, true
    } else {
        return bin.Symbol(addr)
    }
}

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
    `sort`
    `strings`

    `github.com/samber/lo`
    `tlog.app/go/tlog`

    `github.com/cloudwego/decaf/internal/image`
    `github.com/cloudwego/decaf/internal/types`
    `github.com/cloudwego/decaf/internal/ucode`
)

var _MsgSendFamily = map[string]bool {
    "objc_msgSend"       : true,
    "objc_msgSendSuper"  : true,
    "objc_msgSendSuper2" : true,
}

// selectors taking a nil-terminated or format-driven tail
var _VariadicSelectors = []string {
    "WithFormat:",
    "ByAppendingFormat:",
    "appendFormat:",
    "WithObjects:",
    "WithObjectsAndKeys:",
}

// calleeName returns the C name of the function a call targets.
func calleeName(cl *ucode.Call) string {
    return image.StripUnderscore(cl.CalleeName())
}

// resolved reports whether a call already carries a parameter list.
func resolved(cl *ucode.Call) bool {
    return cl.ParamTypes != nil
}

// calls attaches a prototype to every call: from the function table or the
// signature database when the callee is known, guessed from the argument
// registers written before the call otherwise.
func (self Resolve) calls(c *Context) bool {
    fn := c.Fn
    ret := false
    tr := tlog.SpanFromContext(c.ctx)

    /* stack pointer offsets at every call */
    deltas := callDeltas(fn)

    /* bind one prototype per call */
    for _, cl := range fn.Calls() {
        if resolved(cl) {
            continue
        }

        /* declared prototypes first */
        if sym := cl.CalleeName(); sym != "" {
            if params, rt, ok := c.Session.Signature(sym); ok {
                bind(c, cl, params, rt, deltas[cl])
                cl.Unknown = lo.ContainsBy(params, (*types.Type).IsVariadic)
                ret = true
                continue
            }
        }

        /* guess from the registers written since the previous call */
        names := c.Session.Sema.GuessCallPrototype(self.writes(c, cl))
        params := lo.Map(names, func(n string, _ int) *types.Type { return c.Session.Type(n) })
        bind(c, cl, params, c.Session.Types.Long(), deltas[cl])
        cl.Unknown = true
        ret = true

        /* worth knowing when reading the output */
        if tr.If("calls") {
            tr.Printw("guessed call prototype", "func", fn.Name, "callee", cl.Callee.String(), "params", names)
        }
    }
    return ret
}

// writes collects the native registers and stack slots written between the
// previous call of the block and cl.
func (self Resolve) writes(c *Context, cl *ucode.Call) ([]string, []int64) {
    var regs []string
    var offs []int64
    b := cl.Meta().Block

    /* walk backwards to the previous call */
    for i := ucode.Index(cl) - 1; i >= 0; i-- {
        ins := b.Instrs[i]
        if _, ok := ins.(*ucode.Call); ok {
            break
        }

        /* classify the destination */
        d := ins.Dest()
        switch {
            case d == nil: {
                continue
            }
            case d.Kind == ucode.Native: {
                regs = append(regs, d.Name)
            }
            case d.Kind == ucode.Custom && strings.HasPrefix(d.Name, "var_sp_"): {
                offs = append(offs, frameOffset(c.Fn, d))
            }
        }
    }

    /* stack slots in address order */
    offs = lo.Uniq(offs)
    sort.Slice(offs, func(i int, j int) bool { return offs[i] < offs[j] })
    return lo.Uniq(regs), offs
}

func frameOffset(fn *ucode.Function, r *ucode.Register) int64 {
    for _, v := range fn.Frame {
        if v.Reg == r {
            return v.Offset
        }
    }
    return 0
}

// callDeltas replays the stack pointer adjustments of every block up to
// each call.
func callDeltas(fn *ucode.Function) map[*ucode.Call]int64 {
    sp := fn.Lookup(fn.SP)
    ret := make(map[*ucode.Call]int64)

    /* no stack pointer, no adjustments */
    if sp == nil {
        return ret
    }

    /* same model as the frame promotion */
    for _, b := range fn.Live() {
        delta := int64(0)
        for _, ins := range b.Instrs {
            if cl, ok := ins.(*ucode.Call); ok {
                ret[cl] = delta
            }
            if ins.Dest() == sp {
                if d, ok := spDelta(ins, sp); ok {
                    delta += d
                } else {
                    delta = 0
                }
            }
        }
    }
    return ret
}

// bind places the parameters of a prototype. Parameters already present
// are kept, the variadic marker and parameters without a location are
// skipped.
func bind(c *Context, cl *ucode.Call, params []*types.Type, rt *types.Type, delta int64) {
    fn := c.Fn
    sem := c.Session.Sema
    locs := sem.CallArgLocations(params)
    vals := make([]ucode.Value, 0, len(params))
    tys := make([]*types.Type, 0, len(params))

    /* one value per located parameter */
    for i, t := range params {
        loc := locs[i]
        if t.IsVariadic() || loc.None {
            continue
        }

        /* already bound */
        if n := len(vals); n < len(cl.Params) {
            vals = append(vals, cl.Params[n])
            tys = append(tys, t)
            continue
        }

        /* registers are always the full native ones */
        if loc.Stack {
            vals = append(vals, fn.SPSlot(delta + loc.Offset, loc.Size))
        } else {
            vals = append(vals, fn.Native(loc.Reg, c.ptr()))
        }
        tys = append(tys, t)
    }

    /* the result register */
    cl.D = nil
    if loc := sem.RetvalLocation(rt); !loc.None && !loc.Stack {
        cl.D = fn.Native(loc.Reg, c.ptr())
    }

    /* the parameter list */
    cl.Params = vals
    cl.ParamTypes = tys
    cl.RetType = rt
}

/** Objective-C Messages **/

// msgSend extends objc_msgSend calls with one object argument per colon of
// their selector once the selector is known.
func (self Resolve) msgSend(c *Context) bool {
    ret := false
    for _, cl := range c.Fn.Calls() {
        if !cl.Unknown || !_MsgSendFamily[calleeName(cl)] || len(cl.ParamTypes) != 2 || len(cl.Params) != 2 {
            continue
        }

        /* the selector is the second argument */
        sel, ok := selectorOf(cl.Params[1])
        if !ok {
            continue
        }

        /* one object per colon */
        id := c.Session.Types.ID()
        params := append([]*types.Type(nil), cl.ParamTypes...)
        for i := strings.Count(sel, ":"); i > 0; i-- {
            params = append(params, id)
        }

        /* the tail stays open for format and list selectors */
        variadic := variadicSelector(sel)
        if variadic {
            params = append(params, c.Session.Types.Variadic())
        }

        /* rebind with the same return value */
        bind(c, cl, params, cl.RetType, callDeltas(c.Fn)[cl])
        cl.Unknown = variadic
        ret = true
    }
    return ret
}

func selectorOf(v ucode.Value) (string, bool) {
    if k, ok := v.(*ucode.Constant); !ok {
        return "", false
    } else if p, sel := image.SplitSymbol(k.Symbol); p != image.SelectorPrefix {
        return "", false
    } else {
        return sel, true
    }
}

func variadicSelector(sel string) bool {
    return lo.SomeBy(_VariadicSelectors, func(s string) bool { return strings.HasSuffix(sel, s) })
}

/** Format Strings **/

var _FormatTypes = map[byte]string {
    'd': "long"  , 'i': "long"  , 'u': "long", 'x': "long", 'X': "long", 'o': "long",
    'f': "double", 'e': "double", 'g': "double", 'a': "double",
    'F': "double", 'E': "double", 'G': "double", 'A': "double",
    'c': "char"  , 's': "char *",
    'p': "void *", '@': "void *",
}

const _FormatModifiers = "-+ #0123456789.hlLqjzt'"

// Specifiers parses a printf-style format and returns the C type of every
// argument it consumes.
func Specifiers(format string) []string {
    var ret []string
    for i := 0; i < len(format); i++ {
        if format[i] != '%' {
            continue
        }

        /* flags, width, precision and length */
        j := i + 1
        for j < len(format) && (strings.IndexByte(_FormatModifiers, format[j]) >= 0 || format[j] == '*') {
            if format[j] == '*' {
                ret = append(ret, "int")
            }
            j++
        }

        /* the conversion */
        if j < len(format) {
            if t, ok := _FormatTypes[format[j]]; ok {
                ret = append(ret, t)
            }
        }
        i = j
    }
    return ret
}

// formats replaces the open tail of a variadic call with the arguments its
// constant format string asks for.
func (self Resolve) formats(c *Context) bool {
    ret := false
    for _, cl := range c.Fn.Calls() {
        if !cl.Unknown || !self.variadic(c, cl) || len(cl.Params) == 0 || len(cl.Params) != len(cl.ParamTypes) {
            continue
        }

        /* the format is the last fixed argument */
        k, ok := cl.Params[len(cl.Params) - 1].(*ucode.Constant)
        if !ok {
            continue
        }

        /* only literals are understood */
        p, text := image.SplitSymbol(k.Symbol)
        if p != image.CStringPrefix && p != image.CFStringPrefix {
            continue
        }

        /* close the parameter list */
        params := append([]*types.Type(nil), cl.ParamTypes...)
        for _, n := range Specifiers(text) {
            params = append(params, c.Session.Type(n))
        }
        bind(c, cl, params, cl.RetType, callDeltas(c.Fn)[cl])
        cl.Unknown = false
        ret = true
    }
    return ret
}

// variadic reports whether the fixed part of a call is fully bound and its
// declaration continues with a variadic tail.
func (self Resolve) variadic(c *Context, cl *ucode.Call) bool {
    name := calleeName(cl)
    if _MsgSendFamily[name] {
        if len(cl.Params) < 2 {
            return false
        }
        sel, ok := selectorOf(cl.Params[1])
        return ok && variadicSelector(sel)
    }

    /* declared as variadic, with every fixed parameter bound */
    params, _, ok := c.Session.Signature(cl.CalleeName())
    if !ok || len(params) == 0 || !params[len(params) - 1].IsVariadic() {
        return false
    }
    return len(params) - 1 == len(cl.ParamTypes)
}

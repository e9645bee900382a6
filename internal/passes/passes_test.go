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
    `testing`

    `github.com/brianvoe/gofakeit/v6`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`

    `github.com/cloudwego/decaf/internal/image`
    `github.com/cloudwego/decaf/internal/opts`
    `github.com/cloudwego/decaf/internal/session`
    `github.com/cloudwego/decaf/internal/types`
    `github.com/cloudwego/decaf/internal/ucode`
)

type _TestFunc struct {
    *ucode.Function
    ctx  *Context
    sess *session.Session
    b    *ucode.Block
}

func newTestFunc(t *testing.T, bin *image.Binary) *_TestFunc {
    sess, err := session.New("x86_64", bin, opts.GetDefaultOptions())
    require.NoError(t, err)
    fn := ucode.NewFunction("test", 0x1000, 8)
    fn.SP, fn.Base, fn.PC = "rsp", "rbp", "rip"
    b := fn.AddBlock(0x1000)
    b.Entry = true
    return &_TestFunc {
        Function : fn,
        ctx      : NewContext(context.Background(), fn, sess),
        sess     : sess,
        b        : b,
    }
}

func (self *_TestFunc) emit(ins ...ucode.Instr) {
    for _, v := range ins {
        self.Append(self.b, v, 0x1000)
    }
}

func (self *_TestFunc) reg(name string) *ucode.Register {
    return self.Native(name, 8)
}

func k(v int64) *ucode.Constant {
    return ucode.Const(8, v)
}

func TestEvaluate_Random(t *testing.T) {
    for i := 0; i < 256; i++ {
        a, b := gofakeit.Int32(), gofakeit.Int32()
        for op, want := range map[ucode.BinaryOp]int32 {
            ucode.OpAdd : a + b,
            ucode.OpSub : a - b,
            ucode.OpMul : a * b,
            ucode.OpAnd : a & b,
            ucode.OpOr  : a | b,
            ucode.OpXor : a ^ b,
        } {
            v, ok := Evaluate(op, 4, int64(a), int64(b))
            require.True(t, ok)
            require.Equal(t, int64(want), v, "%d %s %d", a, op, b)
        }
    }
    _, ok := Evaluate(ucode.OpDiv, 8, 1, 0)
    assert.False(t, ok)
    v, _ := Evaluate(ucode.OpShr, 1, -1, 4)
    assert.Equal(t, int64(0x0f), v)
    v, _ = Evaluate(ucode.OpEquals, 8, 3, 3)
    assert.Equal(t, int64(1), v)
    assert.Equal(t, int64(1), EvaluateUnary(ucode.OpLNot, 8, 0))
    assert.Equal(t, int64(-1), EvaluateUnary(ucode.OpNot, 4, 0))
}

func TestEvaluate_Shifts(t *testing.T) {
    for i := 0; i < 256; i++ {
        a, sh := gofakeit.Int32(), gofakeit.Number(0, 31)
        v, ok := Evaluate(ucode.OpSar, 4, int64(a), int64(sh))
        require.True(t, ok)
        require.Equal(t, int64(a >> sh), v, "%d >> %d", a, sh)
        v, ok = Evaluate(ucode.OpShr, 4, int64(a), int64(sh))
        require.True(t, ok)
        require.Equal(t, int64(int32(uint32(a) >> sh)), v, "%d >>> %d", a, sh)
    }
    v, _ := Evaluate(ucode.OpSar, 1, 0x80, 7)
    assert.Equal(t, int64(-1), v)
    v, _ = Evaluate(ucode.OpShr, 1, 0x80, 7)
    assert.Equal(t, int64(1), v)
    v, _ = Evaluate(ucode.OpSar, 8, -16, 2)
    assert.Equal(t, int64(-4), v)
}

func TestSimplify_Constants(t *testing.T) {
    fn := newTestFunc(t, nil)
    rdi := fn.reg("rdi")
    t0, t1, t2, t3 := fn.Temp(8), fn.Temp(8), fn.Temp(8), fn.Temp(8)
    fn.emit(
        &ucode.Binary { Op: ucode.OpAdd, Size: 8, S1: k(5), S2: k(3), D: t0 },
        &ucode.Binary { Op: ucode.OpAdd, Size: 8, S1: rdi, S2: k(0), D: t1 },
        &ucode.Binary { Op: ucode.OpXor, Size: 8, S1: rdi, S2: rdi, D: t2 },
        &ucode.Binary { Op: ucode.OpSub, Size: 8, S1: rdi, S2: k(-4), D: t3 },
        &ucode.Ret { Values: []ucode.Value { t0, t1, t2, t3 } },
    )

    require.True(t, Simplify{}.Apply(fn.ctx))
    ins := fn.b.Instrs
    assert.Equal(t, "uMOV.8       temp_0.8 := 0x8", ins[0].String())
    assert.Equal(t, ucode.Value(rdi), ins[1].(*ucode.Mov).S)
    assert.Equal(t, int64(0), ins[2].(*ucode.Mov).S.(*ucode.Constant).Value)
    assert.Equal(t, ucode.OpAdd, ins[3].(*ucode.Binary).Op)
    assert.Equal(t, int64(4), ins[3].(*ucode.Binary).S2.(*ucode.Constant).Value)
    assert.False(t, Simplify{}.Apply(fn.ctx))
}

func TestSimplify_Chains(t *testing.T) {
    fn := newTestFunc(t, nil)
    rdi := fn.reg("rdi")
    t0, t1 := fn.Temp(8), fn.Temp(8)
    fn.emit(
        &ucode.Binary { Op: ucode.OpAdd, Size: 8, S1: rdi, S2: k(8), D: t0 },
        &ucode.Binary { Op: ucode.OpSub, Size: 8, S1: t0, S2: k(2), D: t1 },
        &ucode.Ret { Values: []ucode.Value { t1 } },
    )

    require.True(t, Simplify{}.Apply(fn.ctx))
    v := fn.b.Instrs[1].(*ucode.Binary)
    assert.Equal(t, ucode.Value(rdi), v.S1)
    assert.Equal(t, ucode.OpAdd, v.Op)
    assert.Equal(t, int64(6), v.S2.(*ucode.Constant).Value)
}

func TestPropagate_Copies(t *testing.T) {
    fn := newTestFunc(t, nil)
    rax := fn.reg("rax")
    fn.emit(
        &ucode.Mov { Size: 8, S: k(5), D: rax },
        &ucode.Ret { Values: []ucode.Value { rax } },
    )

    require.True(t, Propagate{}.Apply(fn.ctx))
    assert.Equal(t, int64(5), fn.b.Instrs[1].(*ucode.Ret).Values[0].(*ucode.Constant).Value)
}

func TestPropagate_Aliased(t *testing.T) {
    fn := newTestFunc(t, nil)
    v := fn.CustomReg("var_8", 8)
    p := fn.Temp(8)
    fn.emit(
        &ucode.Mov { Size: 8, S: fn.reg("rdi"), D: v },
        &ucode.AddressOf { Size: 8, S: v, D: p },
        &ucode.Call { Callee: k(0x2000), Params: []ucode.Value { p }, ParamTypes: []*types.Type{} },
        &ucode.Ret { Values: []ucode.Value { v } },
    )

    assert.False(t, Propagate{}.Apply(fn.ctx))
    assert.Equal(t, ucode.Value(v), fn.b.Instrs[3].(*ucode.Ret).Values[0])
}

func TestPropagate_Dominance(t *testing.T) {
    fn := newTestFunc(t, nil)
    rax := fn.reg("rax")
    b1 := fn.AddBlock(0x1008)
    b2 := fn.AddBlock(0x1010)
    fn.Link(0, 1)
    fn.Link(0, 2)
    fn.Link(1, 2)
    fn.emit(&ucode.Branch { Cond: fn.FlagReg("zf"), Target: k(0x1010) })
    fn.Append(b1, &ucode.Mov { Size: 8, S: k(1), D: rax }, 0x1008)
    fn.Append(b2, &ucode.Ret { Values: []ucode.Value { rax } }, 0x1010)

    assert.False(t, Propagate{}.Apply(fn.ctx))
    assert.Equal(t, ucode.Value(rax), b2.Instrs[0].(*ucode.Ret).Values[0])
}

func TestEliminate_Idempotent(t *testing.T) {
    fn := newTestFunc(t, nil)
    rdi, rax, rsi := fn.reg("rdi"), fn.reg("rax"), fn.reg("rsi")
    fn.emit(
        &ucode.Binary { Op: ucode.OpAdd, Size: 8, S1: rdi, S2: k(1), D: fn.Temp(8) },
        &ucode.Mov { Size: 8, S: k(5), D: rax },
        &ucode.Mov { Size: 8, S: k(6), D: rsi },
        &ucode.Call { Callee: k(0x2000), Unknown: true },
        &ucode.Ret{},
    )

    require.True(t, Eliminate{}.Apply(fn.ctx))
    require.Len(t, fn.b.Instrs, 4)
    assert.Same(t, rax, fn.b.Instrs[0].Dest())
    assert.Same(t, rsi, fn.b.Instrs[1].Dest())
    assert.False(t, Eliminate{}.Apply(fn.ctx))

    fn.b.Instrs[2].(*ucode.Call).Unknown = false
    require.True(t, Eliminate{}.Apply(fn.ctx))
    assert.Len(t, fn.b.Instrs, 2)
    assert.False(t, Eliminate{}.Apply(fn.ctx))
}

func TestResolve_StackVariables(t *testing.T) {
    fn := newTestFunc(t, nil)
    rbp := fn.reg("rbp")
    item := fn.AddFrameItem("var_8", -8, 8, true)
    t0, t1, t2, t3 := fn.Temp(8), fn.Temp(8), fn.Temp(8), fn.Temp(8)
    fn.emit(
        &ucode.Binary { Op: ucode.OpAdd, Size: 8, S1: rbp, S2: k(-8), D: t0 },
        &ucode.Store { Size: 8, S: k(5), Addr: t0 },
        &ucode.Binary { Op: ucode.OpSub, Size: 8, S1: rbp, S2: k(8), D: t1 },
        &ucode.Load { Size: 4, Addr: t1, D: t2 },
        &ucode.Binary { Op: ucode.OpAdd, Size: 8, S1: rbp, S2: k(-8), D: t3 },
        &ucode.Mov { Size: 8, S: t3, D: fn.reg("rdi") },
        &ucode.Ret { Values: []ucode.Value { t2 } },
    )

    require.True(t, Resolve{}.Apply(fn.ctx))
    ins := fn.b.Instrs
    assert.Same(t, item.Reg, ins[1].(*ucode.Mov).D)
    assert.Equal(t, int64(0), ins[3].(*ucode.GetMember).Off)
    assert.Same(t, item.Reg, ins[4].(*ucode.AddressOf).S)
    assert.True(t, fn.IsAliased(item.Reg))
}

func TestResolve_Calls(t *testing.T) {
    bin := image.New("x86_64")
    bin.Stubs[0x2000] = "_strlen"
    bin.Stubs[0x2008] = "_printf"
    bin.Strings[0x3000] = "%d %s\n"
    fn := newTestFunc(t, bin)
    rax := fn.reg("rax")
    fn.emit(
        &ucode.Call { Callee: k(0x2000), D: rax, Unknown: true, RetType: fn.sess.Types.Long() },
        &ucode.Mov { Size: 8, S: k(0x3000), D: fn.reg("rdi") },
        &ucode.Mov { Size: 8, S: rax, D: fn.reg("rsi") },
        &ucode.Call { Callee: k(0x2008), D: rax, Unknown: true, RetType: fn.sess.Types.Long() },
        &ucode.Ret{},
    )

    require.True(t, Transform(context.Background(), fn.Function, fn.sess, 16))
    calls := fn.Calls()
    require.Len(t, calls, 2)

    strlen := calls[0]
    assert.Equal(t, "_strlen", strlen.CalleeName())
    assert.False(t, strlen.Unknown)
    assert.Equal(t, []ucode.Value { fn.reg("rdi") }, strlen.Params)
    assert.Same(t, rax, strlen.D)

    printf := calls[1]
    assert.Equal(t, "_printf", printf.CalleeName())
    assert.False(t, printf.Unknown)
    require.Len(t, printf.Params, 3)
    assert.Equal(t, image.CStringPrefix + "%d %s\n", printf.Params[0].(*ucode.Constant).Symbol)
    assert.Equal(t, ucode.Value(rax), printf.Params[1])
    assert.Same(t, fn.reg("rdx"), printf.Params[2])
    assert.Nil(t, printf.D)
}

func TestResolve_MsgSend(t *testing.T) {
    bin := image.New("x86_64")
    bin.Stubs[0x2000] = "_objc_msgSend"
    bin.Selectors[0x4000] = "setValue:forKey:"
    bin.Data[0x4000] = 0x5000
    fn := newTestFunc(t, bin)
    rsi := fn.reg("rsi")
    fn.emit(
        &ucode.Load { Size: 8, Addr: k(0x4000), D: rsi },
        &ucode.Call { Callee: k(0x2000), D: fn.reg("rax"), Unknown: true, RetType: fn.sess.Types.Long() },
        &ucode.Ret{},
    )

    require.True(t, Transform(context.Background(), fn.Function, fn.sess, 16))
    cl := fn.Calls()[0]
    assert.False(t, cl.Unknown)
    require.Len(t, cl.Params, 4)
    sel, ok := selectorOf(cl.Params[1])
    require.True(t, ok)
    assert.Equal(t, "setValue:forKey:", sel)
    assert.Same(t, fn.reg("rcx"), cl.Params[3])
}

func TestSpecifiers(t *testing.T) {
    assert.Equal(t,
        []string { "long", "double", "char *", "void *", "void *", "int", "long", "long", "char" },
        Specifiers("%d %5.2f %s %p %% %@ %*d %lu %c"),
    )
    assert.Empty(t, Specifiers("plain text"))
}

func TestStackArgs(t *testing.T) {
    fn := newTestFunc(t, nil)
    sp := fn.reg("rsp")
    slot := fn.SPSlot(0, 8)
    cl := &ucode.Call { Callee: k(0x2000), Params: []ucode.Value { slot }, ParamTypes: []*types.Type { fn.sess.Types.Long() } }
    fn.emit(
        &ucode.Binary { Op: ucode.OpSub, Size: 8, S1: sp, S2: k(8), D: sp },
        &ucode.Mov { Size: 8, S: k(7), D: slot },
        cl,
        &ucode.Binary { Op: ucode.OpAdd, Size: 8, S1: sp, S2: k(8), D: sp },
        &ucode.Ret{},
    )

    require.True(t, StackArgs{}.Apply(fn.ctx))
    assert.Equal(t, int64(7), cl.Params[0].(*ucode.Constant).Value)
    assert.Len(t, fn.b.Instrs, 3)
    assert.False(t, StackArgs{}.Apply(fn.ctx))
}

func TestIdioms(t *testing.T) {
    fn := newTestFunc(t, nil)
    rax, rdi := fn.reg("rax"), fn.reg("rdi")
    t0, t1, t2, t3, t4 := fn.Temp(8), fn.Temp(1), fn.Temp(8), fn.Temp(8), fn.Temp(1)
    fn.emit(
        &ucode.Binary { Op: ucode.OpAdd, Size: 8, S1: rdi, S2: k(1), D: t0 },
        &ucode.Mov { Size: 8, S: t0, D: rax },
        &ucode.Binary { Op: ucode.OpAnd, Size: 8, S1: rax, S2: k(-256), D: t2 },
        &ucode.Extend { Size: 8, S: ucode.Const(1, 9), D: t3 },
        &ucode.Binary { Op: ucode.OpOr, Size: 8, S1: t2, S2: t3, D: rax },
        &ucode.Trunc { Size: 1, S: rax, D: t1 },
        &ucode.Trunc { Size: 1, S: t3, D: t4 },
        &ucode.Ret { Values: []ucode.Value { t1, t4 } },
    )

    require.True(t, Idioms{}.Apply(fn.ctx))
    ins := fn.b.Instrs
    assert.Same(t, rax, ins[0].Dest())
    assert.IsType(t, new(ucode.Nop), ins[1])
    assert.Equal(t, int64(9), ins[5].(*ucode.Mov).S.(*ucode.Constant).Value)
    assert.Equal(t, int64(9), ins[6].(*ucode.Mov).S.(*ucode.Constant).Value)
}

func TestARC(t *testing.T) {
    fn := newTestFunc(t, nil)
    rax, rdi, rsi := fn.reg("rax"), fn.reg("rdi"), fn.reg("rsi")
    id := fn.sess.Types.ID()
    fn.emit(
        &ucode.Call { Callee: ucode.Symbol(8, 0x2000, "_objc_retain"), D: rax, Params: []ucode.Value { rdi }, ParamTypes: []*types.Type { id } },
        &ucode.Call { Callee: ucode.Symbol(8, 0x2008, "_objc_release"), Params: []ucode.Value { rdi }, ParamTypes: []*types.Type { id } },
        &ucode.Call { Callee: ucode.Symbol(8, 0x2010, "_objc_storeStrong"), Params: []ucode.Value { rdi, rsi }, ParamTypes: []*types.Type { id, id } },
        &ucode.Ret{},
    )

    require.True(t, ARC{}.Apply(fn.ctx))
    ins := fn.b.Instrs
    assert.Equal(t, ucode.Value(rdi), ins[0].(*ucode.Mov).S)
    assert.IsType(t, new(ucode.Nop), ins[1])
    assert.Equal(t, ucode.Value(rsi), ins[2].(*ucode.Store).S)
    assert.False(t, ARC{}.Apply(fn.ctx))
}

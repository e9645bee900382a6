/*
 * Copyright 2024 CloudWeGo Authors
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

package synth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/decaf/internal/ast"
	"github.com/cloudwego/decaf/internal/image"
	"github.com/cloudwego/decaf/internal/structure"
	"github.com/cloudwego/decaf/internal/ucode"
)

type block struct {
	instrs []ucode.Instr
	succ   []int
}

func addrOf(id int) uint64 {
	return 0x1000 + 0x10*uint64(id)
}

func to(id int) *ucode.Constant {
	return ucode.Const(8, int64(addrOf(id)))
}

type fixture struct {
	fn  *ucode.Function
	rdi *ucode.Register
	rax *ucode.Register
	zf  *ucode.Register
	cf  *ucode.Register
}

func newFixture() *fixture {
	fn := ucode.NewFunction("f", 0x1000, 8)
	f := &fixture{
		fn:  fn,
		rdi: fn.Native("rdi", 8),
		rax: fn.Native("rax", 8),
		zf:  fn.FlagReg("zf"),
		cf:  fn.FlagReg("cf"),
	}

	fn.Inputs = []ucode.Param{{Name: "a", Reg: f.rdi}}
	return f
}

func (f *fixture) build(blocks ...block) *ucode.Function {
	fn := f.fn
	for i := range blocks {
		fn.AddBlock(addrOf(i))
	}

	for i, b := range blocks {
		for j, ins := range b.instrs {
			fn.Append(fn.Blocks[i], ins, addrOf(i)+uint64(j))
		}

		for _, s := range b.succ {
			fn.Link(i, s)
		}
	}

	fn.Blocks[0].Entry = true
	fn.Entry = 0

	return fn
}

func (f *fixture) mov(v int64) *ucode.Mov {
	return &ucode.Mov{Size: 8, S: ucode.Const(8, v), D: f.rax}
}

func (f *fixture) ret() *ucode.Ret {
	return &ucode.Ret{Values: []ucode.Value{f.rax}}
}

func render(t *testing.T, fn *ucode.Function, sig Signature) string {
	out := structure.Structure(context.Background(), fn, 0)
	text, _ := ast.Print(Build(context.Background(), fn, out, sig))
	t.Log(text)

	return text
}

func TestBuild_IfElse(t *testing.T) {
	f := newFixture()
	fn := f.build(
		block{succ: []int{1, 2}, instrs: []ucode.Instr{
			&ucode.SetFlag{Flag: f.zf, Type: ucode.FlagZero, Op: ucode.FlagSub, S1: f.rdi, S2: ucode.Const(8, 0)},
			&ucode.Branch{Cond: f.zf, Target: to(1)},
		}},
		block{succ: []int{3}, instrs: []ucode.Instr{f.mov(1)}},
		block{succ: []int{3}, instrs: []ucode.Instr{f.mov(2)}},
		block{instrs: []ucode.Instr{f.ret()}},
	)

	assert.Equal(t, ""+
		"// Generated C code for function 'f'\n"+
		"\n"+
		"long f(long a) {\n"+
		"    BOOL zf;\n"+
		"    long rax;\n"+
		"    zf = a == 0;\n"+
		"    if (zf) {\n"+
		"        rax = 1;\n"+
		"    } else {\n"+
		"        rax = 2;\n"+
		"    }\n"+
		"    return rax;\n"+
		"}\n", render(t, fn, Signature{}))
}

func TestBuild_While(t *testing.T) {
	f := newFixture()
	fn := f.build(
		block{succ: []int{1}, instrs: []ucode.Instr{f.mov(0)}},
		block{succ: []int{2, 3}, instrs: []ucode.Instr{
			&ucode.SetFlag{Flag: f.zf, Type: ucode.FlagZero, Op: ucode.FlagSub, S1: f.rax, S2: ucode.Const(8, 10)},
			&ucode.Branch{Cond: f.zf, Target: to(3)},
		}},
		block{succ: []int{1}, instrs: []ucode.Instr{
			&ucode.Binary{Op: ucode.OpAdd, Size: 8, S1: f.rax, S2: ucode.Const(8, 1), D: f.rax},
		}},
		block{instrs: []ucode.Instr{f.ret()}},
	)

	text := render(t, fn, Signature{})
	assert.Contains(t, text, ""+
		"    rax = 0;\n"+
		"    while (1) {\n"+
		"        zf = rax == 10;\n"+
		"        if (zf) {\n"+
		"            break;\n"+
		"        }\n"+
		"        rax = rax + 1;\n"+
		"    }\n"+
		"    return rax;\n")
}

func TestBuild_DoWhile(t *testing.T) {
	f := newFixture()
	fn := f.build(
		block{succ: []int{1}, instrs: []ucode.Instr{f.mov(0)}},
		block{succ: []int{1, 2}, instrs: []ucode.Instr{
			&ucode.Binary{Op: ucode.OpAdd, Size: 8, S1: f.rax, S2: ucode.Const(8, 1), D: f.rax},
			&ucode.SetFlag{Flag: f.cf, Type: ucode.FlagCarry, Op: ucode.FlagSub, S1: f.rdi, S2: f.rax},
			&ucode.Branch{Cond: f.cf, Target: to(1)},
		}},
		block{instrs: []ucode.Instr{f.ret()}},
	)

	text := render(t, fn, Signature{})
	assert.Contains(t, text, ""+
		"    do {\n"+
		"        rax = rax + 1;\n"+
		"        cf = a > rax;\n"+
		"    } while (cf);\n")
}

func TestBuild_Switch(t *testing.T) {
	f := newFixture()
	fn := f.build(
		block{succ: []int{1, 2, 3}, instrs: []ucode.Instr{
			&ucode.Switch{Value: f.rdi, Targets: []uint64{addrOf(1), addrOf(2), addrOf(3), addrOf(1)}},
		}},
		block{succ: []int{3}, instrs: []ucode.Instr{f.mov(1)}},
		block{succ: []int{3}, instrs: []ucode.Instr{f.mov(2)}},
		block{instrs: []ucode.Instr{f.ret()}},
	)

	text := render(t, fn, Signature{})
	assert.Contains(t, text, ""+
		"    switch (a) {\n"+
		"        case 0:\n"+
		"        case 3:\n"+
		"            rax = 1;\n"+
		"            break;\n"+
		"        case 1:\n"+
		"            rax = 2;\n"+
		"            break;\n"+
		"    }\n"+
		"    return rax;\n")
}

func TestBuild_AndChain(t *testing.T) {
	f := newFixture()
	fn := f.build(
		block{succ: []int{1, 2}, instrs: []ucode.Instr{&ucode.Branch{Cond: f.zf, Target: to(2)}}},
		block{succ: []int{2, 3}, instrs: []ucode.Instr{&ucode.Branch{Cond: f.cf, Target: to(3)}}},
		block{succ: []int{4}, instrs: []ucode.Instr{f.mov(2)}},
		block{succ: []int{4}, instrs: []ucode.Instr{f.mov(3)}},
		block{instrs: []ucode.Instr{f.ret()}},
	)

	text := render(t, fn, Signature{})
	assert.Contains(t, text, ""+
		"    if (!(zf) && cf) {\n"+
		"        rax = 3;\n"+
		"    } else {\n"+
		"        rax = 2;\n"+
		"    }\n"+
		"    return rax;\n")
}

func TestBuild_AndChainWithCalls(t *testing.T) {
	f := newFixture()
	call := &ucode.Call{Callee: ucode.Symbol(8, 0x2000, "_check")}
	fn := f.build(
		block{succ: []int{1, 2}, instrs: []ucode.Instr{&ucode.Branch{Cond: f.zf, Target: to(2)}}},
		block{succ: []int{2, 3}, instrs: []ucode.Instr{call, &ucode.Branch{Cond: f.cf, Target: to(3)}}},
		block{succ: []int{4}, instrs: []ucode.Instr{f.mov(2)}},
		block{succ: []int{4}, instrs: []ucode.Instr{f.mov(3)}},
		block{instrs: []ucode.Instr{f.ret()}},
	)

	/* the call must not run before the first test */
	text := render(t, fn, Signature{})
	assert.Contains(t, text, "long check;\n\n")
	assert.Contains(t, text, ""+
		"    if (!(zf)) {\n"+
		"        check();\n"+
		"        if (cf) {\n"+
		"            rax = 3;\n"+
		"        } else {\n"+
		"            rax = 2;\n"+
		"        }\n"+
		"    } else {\n"+
		"        rax = 2;\n"+
		"    }\n")
}

func TestBuild_ChainReusingFlag(t *testing.T) {
	f := newFixture()
	rsi := f.fn.Native("rsi", 8)
	zero := ucode.Const(8, 0)
	fn := f.build(
		block{succ: []int{1, 2}, instrs: []ucode.Instr{
			&ucode.SetFlag{Flag: f.zf, Type: ucode.FlagZero, Op: ucode.FlagSub, S1: f.rdi, S2: zero},
			&ucode.Branch{Cond: f.zf, Target: to(2)},
		}},
		block{succ: []int{2, 3}, instrs: []ucode.Instr{
			&ucode.SetFlag{Flag: f.zf, Type: ucode.FlagZero, Op: ucode.FlagSub, S1: rsi, S2: zero},
			&ucode.Branch{Cond: f.zf, Target: to(3)},
		}},
		block{succ: []int{4}, instrs: []ucode.Instr{f.mov(2)}},
		block{succ: []int{4}, instrs: []ucode.Instr{f.mov(3)}},
		block{instrs: []ucode.Instr{f.ret()}},
	)

	/* the second test overwrites zf, so the first one is read before it */
	text := render(t, fn, Signature{})
	assert.Contains(t, text, ""+
		"    zf = a == 0;\n"+
		"    if (!(zf)) {\n"+
		"        zf = rsi == 0;\n"+
		"        if (zf) {\n"+
		"            rax = 3;\n"+
		"        } else {\n"+
		"            rax = 2;\n"+
		"        }\n"+
		"    } else {\n"+
		"        rax = 2;\n"+
		"    }\n")
}

func TestBuild_ChainHoistsIndependentFlag(t *testing.T) {
	f := newFixture()
	rsi := f.fn.Native("rsi", 8)
	zero := ucode.Const(8, 0)
	fn := f.build(
		block{succ: []int{1, 2}, instrs: []ucode.Instr{
			&ucode.SetFlag{Flag: f.zf, Type: ucode.FlagZero, Op: ucode.FlagSub, S1: f.rdi, S2: zero},
			&ucode.Branch{Cond: f.zf, Target: to(2)},
		}},
		block{succ: []int{2, 3}, instrs: []ucode.Instr{
			&ucode.SetFlag{Flag: f.cf, Type: ucode.FlagZero, Op: ucode.FlagSub, S1: rsi, S2: zero},
			&ucode.Branch{Cond: f.cf, Target: to(3)},
		}},
		block{succ: []int{4}, instrs: []ucode.Instr{f.mov(2)}},
		block{succ: []int{4}, instrs: []ucode.Instr{f.mov(3)}},
		block{instrs: []ucode.Instr{f.ret()}},
	)

	text := render(t, fn, Signature{})
	assert.Contains(t, text, ""+
		"    zf = a == 0;\n"+
		"    cf = rsi == 0;\n"+
		"    if (!(zf) && cf) {\n"+
		"        rax = 3;\n"+
		"    } else {\n"+
		"        rax = 2;\n"+
		"    }\n")
}

func TestBuild_Fallback(t *testing.T) {
	f := newFixture()
	fn := f.build(
		block{succ: []int{1, 2}, instrs: []ucode.Instr{&ucode.Branch{Cond: f.zf, Target: to(1)}}},
		block{succ: []int{2}, instrs: []ucode.Instr{f.mov(1)}},
		block{succ: []int{1}, instrs: []ucode.Instr{f.mov(2)}},
	)

	out := structure.Structure(context.Background(), fn, 64)
	require.True(t, out.Incomplete)

	text, _ := ast.Print(Build(context.Background(), fn, out, Signature{}))
	assert.Contains(t, text, ""+
		"    if (zf) {\n"+
		"        goto bb_1010;\n"+
		"    }\n"+
		"    goto bb_1020;\n"+
		"bb_1010:\n"+
		"    rax = 1;\n"+
		"bb_1020:\n"+
		"    rax = 2;\n"+
		"    goto bb_1010;\n"+
		"}\n")
}

func TestBuild_Method(t *testing.T) {
	f := newFixture()
	fn := f.fn
	rsi := fn.Native("rsi", 8)
	rdx := fn.Native("rdx", 8)
	fn.Inputs = []ucode.Param{{Reg: f.rdi}, {Reg: rsi}, {Name: "value", Reg: rdx}}

	f.build(block{instrs: []ucode.Instr{
		&ucode.Call{
			Callee: ucode.Symbol(8, 0x2000, "_objc_msgSend"),
			Params: []ucode.Value{f.rdi, ucode.Symbol(8, 0x3000, image.SelectorPrefix+"setValue:"), rdx},
		},
		&ucode.Ret{},
	}})

	text := render(t, fn, Signature{
		Ret:    "void",
		Method: &image.Method{Class: "Foo", Selector: "setValue:"},
	})

	assert.Contains(t, text, "- (void)setValue:(long)value {\n")
	assert.Contains(t, text, "    objc_msgSend(self, @selector(setValue:), value);\n")
	assert.NotContains(t, text, "long rdi;")
}

func TestConvert_Constants(t *testing.T) {
	c := newConverter()

	assert.Equal(t, `@"hello"`, ast.Format(c.constant(ucode.Symbol(8, 1, image.CFStringPrefix+"hello"))))
	assert.Equal(t, `"%d\n"`, ast.Format(c.constant(ucode.Symbol(8, 2, image.CStringPrefix+"%d\n"))))
	assert.Equal(t, "@selector(count)", ast.Format(c.constant(ucode.Symbol(8, 3, image.SelectorPrefix+"count"))))
	assert.Equal(t, "_OBJC_CLASS_$_NSString", ast.Format(c.constant(ucode.Symbol(8, 4, image.ClassPrefix+"NSString"))))
	assert.Equal(t, "printf", ast.Format(c.constant(ucode.Symbol(8, 5, "_printf"))))
	assert.Equal(t, "42", ast.Format(c.constant(ucode.Const(8, 42))))
	assert.Equal(t, []string{"_OBJC_CLASS_$_NSString", "printf"}, c.gorder)
}

func TestConvert_Instructions(t *testing.T) {
	f := newFixture()
	c := newConverter()
	tmp := f.fn.Temp(8)

	cases := []struct {
		ins  ucode.Instr
		text string
	}{
		{&ucode.Load{Size: 8, Addr: f.rdi, D: f.rax}, "rax = *(rdi);\n"},
		{&ucode.Store{Size: 8, S: f.rax, Addr: f.rdi}, "*(rdi) = rax;\n"},
		{&ucode.AddressOf{Size: 8, S: tmp, D: f.rax}, "rax = &temp_0;\n"},
		{&ucode.GetMember{Size: 4, Obj: f.rdi, Off: 0x10, D: f.rax}, "rax = rdi->off_10;\n"},
		{ucode.NewSetMember(4, f.rax, 8, f.rdi), "rax->off_8 = rdi;\n"},
		{&ucode.Unary{Op: ucode.OpNeg, Size: 8, S: f.rdi, D: f.rax}, "rax = 0 - rdi;\n"},
		{&ucode.Unary{Op: ucode.OpLNot, Size: 1, S: f.zf, D: f.cf}, "cf = !(zf);\n"},
		{&ucode.SetFlag{Flag: f.zf, Type: ucode.FlagZero, Op: ucode.FlagAnd, S1: f.rdi, S2: f.rax}, "zf = (rdi & rax) == 0;\n"},
		{&ucode.SetFlag{Flag: f.zf, Type: ucode.FlagZero, Op: ucode.FlagSub, S1: f.rdi, S2: f.rax}, "zf = rdi == rax;\n"},
		{&ucode.SetFlag{Flag: f.cf, Type: ucode.FlagCarry, Op: ucode.FlagSub, S1: f.rdi, S2: f.rax}, "cf = (unsigned long)rdi < (unsigned long)rax;\n"},
		{&ucode.SetFlag{Flag: f.cf, Type: ucode.FlagCarry, Op: ucode.FlagAnd, S1: f.rdi, S2: f.rax}, "cf = 0;\n"},
		{&ucode.SetFlag{Flag: f.zf, Type: ucode.FlagSign, Op: ucode.FlagSub, S1: f.rdi, S2: f.rax}, "zf = (rdi - rax) < 0;\n"},
		{&ucode.SetFlag{Flag: f.zf, Type: ucode.FlagOverflow, Op: ucode.FlagSub, S1: f.rdi, S2: f.rax}, "zf = ((rdi ^ rax) & (rdi ^ (rdi - rax))) < 0;\n"},
		{&ucode.SetFlag{Flag: f.zf, Type: ucode.FlagParity, Op: ucode.FlagSub, S1: f.rdi, S2: f.rax}, "zf = <<TODO "},
		{&ucode.Binary{Op: ucode.OpShr, Size: 4, S1: f.rdi, S2: ucode.Const(4, 3), D: f.rax}, "rax = (unsigned int)rdi >> 3;\n"},
		{&ucode.Binary{Op: ucode.OpShr, Size: 8, S1: f.rdi, S2: ucode.Const(8, 3), D: f.rax}, "rax = (unsigned long)rdi >> 3;\n"},
		{&ucode.Binary{Op: ucode.OpSar, Size: 8, S1: f.rdi, S2: ucode.Const(8, 3), D: f.rax}, "rax = rdi >> 3;\n"},
		{&ucode.Call{Callee: f.rax, D: f.rax, Params: []ucode.Value{f.rdi}}, "rax = rax(rdi);\n"},
		{&ucode.Ret{}, "return;\n"},
	}

	for _, v := range cases {
		assert.Contains(t, ast.Format(c.convert(v.ins)), v.text)
	}

	assert.Nil(t, c.convert(&ucode.Nop{}))
	assert.Equal(t, 1, c.todos)
	assert.Equal(t, "BOOL", c.locals["zf"].Type)
	assert.Equal(t, "long", c.locals["temp_0"].Type)
}

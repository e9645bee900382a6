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

package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func name(id string) *Name {
	return &Name{ID: id}
}

func ifElseFunc() *Function {
	return &Function{
		Name:   "f",
		Ret:    "long",
		Params: []*Declaration{{Type: "long", Name: "a"}},
		Body: NewBlock(
			&Declaration{Type: "long", Name: "x"},
			&If{
				Cond: &BinOp{Op: "==", L: name("a"), R: &Num{Value: 0}},
				Then: NewBlock(&Assign{Target: name("x"), Value: &Num{Value: 1}}),
				Else: NewBlock(&Assign{Target: name("x"), Value: &Num{Value: 2}}),
			},
			&Return{Value: name("x")},
		),
	}
}

func TestPrint_Function(t *testing.T) {
	fn := ifElseFunc()
	text, lines := Print(fn)

	assert.Equal(t, ""+
		"// Generated C code for function 'f'\n"+
		"\n"+
		"long f(long a) {\n"+
		"    long x;\n"+
		"    if (a == 0) {\n"+
		"        x = 1;\n"+
		"    } else {\n"+
		"        x = 2;\n"+
		"    }\n"+
		"    return x;\n"+
		"}\n", text)

	assert.Same(t, fn, lines[3])
	assert.Same(t, fn.Body.Stmts[1], lines[5])
	assert.Same(t, fn.Body.Stmts[2], lines[10])
	assert.IsType(t, &Assign{}, lines[8])
}

func TestPrint_Method(t *testing.T) {
	fn := &Function{
		Class:    "Foo",
		Selector: "setBar:baz:",
		Ret:      "void",
		Params:   []*Declaration{{Type: "id", Name: "bar"}, {Type: "long", Name: "baz"}},
		Body: NewBlock(&ExprStmt{X: &MsgSend{
			Receiver: name("self"),
			Selector: "setValue:forKey:",
			Args:     []Node{name("bar"), &ObjCString{Value: "bar"}},
		}}),
	}
	text, _ := Print(fn)

	assert.Contains(t, text, "// Generated Obj-C code for function '-[Foo setBar:baz:]'\n")
	assert.Contains(t, text, "@implementation Foo\n")
	assert.Contains(t, text, "- (void)setBar:(id)bar baz:(long)baz {\n")
	assert.Contains(t, text, "    [self setValue:bar forKey:@\"bar\"];\n")
	assert.Contains(t, text, "\n@end\n")
}

func TestFormat_Expressions(t *testing.T) {
	e := &BinOp{Op: "+", L: &BinOp{Op: "*", L: name("a"), R: &Num{Value: 2}}, R: &Num{Value: 0x10000}}
	assert.Equal(t, "(a * 2) + 0x10000", Format(e))
	assert.Equal(t, "*(p)", Format(&Deref{X: name("p")}))
	assert.Equal(t, "&x", Format(&AddrOf{X: name("x")}))
	assert.Equal(t, "self->_count", Format(&Field{X: name("self"), Name: "_count"}))
	assert.Equal(t, "!(c)", Format(&Not{X: name("c")}))
	assert.Equal(t, "@selector(alloc)", Format(&ObjCSelector{Value: "alloc"}))
	assert.Equal(t, `printf("%d\n", x)`, Format(&Call{Func: name("printf"), Args: []Node{&Str{Value: "%d\n"}, name("x")}}))
	assert.Equal(t, "-5", Format(&Num{Value: -5}))
}

func TestMatch_Bindings(t *testing.T) {
	pat := &BinOp{Op: "&&", L: Bind("x"), R: Bind("x")}

	b, ok := Match(pat, &BinOp{Op: "&&", L: name("a"), R: name("a")})
	require.True(t, ok)
	assert.Equal(t, "a", b["x"].(*Name).ID)

	_, ok = Match(pat, &BinOp{Op: "&&", L: name("a"), R: name("b")})
	assert.False(t, ok)

	_, ok = Match(pat, &BinOp{Op: "||", L: name("a"), R: name("a")})
	assert.False(t, ok)

	/* empty strings and Any are wildcards */
	call := &Call{Func: &Name{}, Args: []Node{Any}}
	_, ok = Match(call, &Call{Func: name("objc_msgSend"), Args: []Node{name("a"), name("b")}})
	assert.True(t, ok)

	_, ok = Match(&Assign{Target: Any, Value: &Deref{X: Bind("p")}}, &Assign{Target: name("x"), Value: name("y")})
	assert.False(t, ok)

	/* a trailing Rest takes what is left of the list */
	send := &Call{Func: Bind("fn"), Args: []Node{Bind("recv"), &ObjCSelector{}, Rest("args")}}
	b, ok = Match(send, &Call{Func: name("objc_msgSend"), Args: []Node{name("a"), &ObjCSelector{Value: "x:y:"}, name("b"), name("c")}})
	require.True(t, ok)
	assert.Equal(t, "a", b["recv"].(*Name).ID)
	assert.Len(t, b["args"], 2)

	b, ok = Match(send, &Call{Func: name("objc_msgSend"), Args: []Node{name("a"), &ObjCSelector{Value: "x"}}})
	require.True(t, ok)
	assert.Empty(t, b["args"])

	_, ok = Match(send, &Call{Func: name("objc_msgSend"), Args: []Node{name("a")}})
	assert.False(t, ok)
}

func TestTransform_Replace(t *testing.T) {
	fn := ifElseFunc()
	Transform(fn, func(n Node) Node {
		if v, ok := n.(*Name); ok && v.ID == "x" {
			return name("y")
		}

		return n
	})

	text, _ := Print(fn)
	assert.Contains(t, text, "        y = 1;\n")
	assert.Contains(t, text, "    return y;\n")
	assert.Contains(t, text, "    long x;\n")

	count := 0
	Walk(fn, func(n Node) bool {
		if _, ok := n.(*Assign); ok {
			count++
		}

		return true
	})
	assert.Equal(t, 2, count)
}

func TestIsNop(t *testing.T) {
	assert.True(t, IsNop(Nop()))
	assert.True(t, IsNop(&ExprStmt{X: name("x")}))
	assert.False(t, IsNop(&ExprStmt{X: &Call{Func: name("f")}}))
	assert.False(t, IsNop(&Return{}))
}

func TestClone_Deep(t *testing.T) {
	fn := ifElseFunc()
	cp := Clone(fn.Body).(*Block)

	require.True(t, Equal(fn.Body, cp))
	cp.Stmts[1].(*If).Then.Stmts[0].(*Assign).Value.(*Num).Value = 7

	text, _ := Print(fn)
	assert.Contains(t, text, "        x = 1;\n")
	assert.False(t, Equal(fn.Body, cp))
}

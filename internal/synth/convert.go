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
	"fmt"

	"github.com/cloudwego/decaf/internal/ast"
	"github.com/cloudwego/decaf/internal/image"
	"github.com/cloudwego/decaf/internal/ucode"
)

// converter turns micro-code into statements and collects the names the
// statements refer to.
type converter struct {
	params  map[string]string
	locals  map[string]*ast.Declaration
	globals map[string]*ast.Declaration
	order   []string
	gorder  []string
	todos   int
}

func newConverter() *converter {
	return &converter{
		params:  make(map[string]string),
		locals:  make(map[string]*ast.Declaration),
		globals: make(map[string]*ast.Declaration),
	}
}

// typeOf picks the declared type of a local.
func typeOf(r *ucode.Register) string {
	if r.Kind == ucode.Flag || r.Name == "branch_condition" {
		return "BOOL"
	}

	return "long"
}

func (c *converter) variable(r *ucode.Register) *ast.Name {
	if name, ok := c.params[r.Name]; ok {
		return &ast.Name{ID: name}
	}

	if _, ok := c.locals[r.Name]; !ok {
		c.locals[r.Name] = &ast.Declaration{Type: typeOf(r), Name: r.Name}
		c.order = append(c.order, r.Name)
	}

	return &ast.Name{ID: r.Name}
}

func (c *converter) global(name string) *ast.Name {
	if _, ok := c.globals[name]; !ok {
		c.globals[name] = &ast.Declaration{Type: "long", Name: name}
		c.gorder = append(c.gorder, name)
	}

	return &ast.Name{ID: name}
}

// constant renders an immediate. Symbolic constants become literals when
// they name one, globals otherwise.
func (c *converter) constant(k *ucode.Constant) ast.Node {
	if k.Symbol == "" {
		return &ast.Num{Value: k.Value}
	}

	switch prefix, text := image.SplitSymbol(k.Symbol); prefix {
	case image.SelectorPrefix:
		return &ast.ObjCSelector{Value: text}
	case image.CFStringPrefix:
		return &ast.ObjCString{Value: text}
	case image.CStringPrefix:
		return &ast.Str{Value: text}
	case "":
		return c.global(image.StripUnderscore(text))
	default:
		return c.global(k.Symbol)
	}
}

func (c *converter) value(v ucode.Value) ast.Node {
	switch v := v.(type) {
	case *ucode.Register:
		return c.variable(v)
	case *ucode.Constant:
		return c.constant(v)
	default:
		panic(fmt.Sprintf("synth: invalid value %T", v))
	}
}

func (c *converter) values(v []ucode.Value) []ast.Node {
	ret := make([]ast.Node, 0, len(v))
	for _, x := range v {
		ret = append(ret, c.value(x))
	}

	return ret
}

func (c *converter) assign(d *ucode.Register, v ast.Node) *ast.Assign {
	return &ast.Assign{Target: c.variable(d), Value: v}
}

func (c *converter) todo(ins ucode.Instr) *ast.Todo {
	c.todos++
	return &ast.Todo{Text: ins.String()}
}

// flag renders the condition a set-flag instruction computes. Carry is a
// borrow for subtraction, so it reads as an unsigned less-than.
func (c *converter) flag(v *ucode.SetFlag) ast.Node {
	res := func() ast.Node {
		if v.Op == ucode.FlagNone {
			return c.value(v.S1)
		}

		return &ast.BinOp{Op: v.Op.String(), L: c.value(v.S1), R: c.value(v.S2)}
	}

	logic := v.Op == ucode.FlagAnd || v.Op == ucode.FlagOr || v.Op == ucode.FlagXor

	switch {
	case v.Type == ucode.FlagZero && v.Op == ucode.FlagSub:
		return &ast.BinOp{Op: "==", L: c.value(v.S1), R: c.value(v.S2)}
	case v.Type == ucode.FlagZero:
		return &ast.BinOp{Op: "==", L: res(), R: &ast.Num{}}
	case v.Type == ucode.FlagSign:
		return &ast.BinOp{Op: "<", L: res(), R: &ast.Num{}}
	case v.Type == ucode.FlagCarry && v.Op == ucode.FlagSub:
		return &ast.BinOp{Op: "<", L: unsigned(c.value(v.S1)), R: unsigned(c.value(v.S2))}
	case v.Type == ucode.FlagCarry && v.Op == ucode.FlagAdd:
		return &ast.BinOp{Op: "<", L: unsigned(res()), R: unsigned(c.value(v.S1))}
	case v.Type == ucode.FlagOverflow && v.Op == ucode.FlagSub:
		return &ast.BinOp{Op: "<", L: &ast.BinOp{
			Op: "&",
			L:  &ast.BinOp{Op: "^", L: c.value(v.S1), R: c.value(v.S2)},
			R:  &ast.BinOp{Op: "^", L: c.value(v.S1), R: res()},
		}, R: &ast.Num{}}
	case v.Type == ucode.FlagOverflow && v.Op == ucode.FlagAdd:
		return &ast.BinOp{Op: "<", L: &ast.BinOp{
			Op: "&",
			L:  &ast.BinOp{Op: "^", L: c.value(v.S1), R: res()},
			R:  &ast.BinOp{Op: "^", L: c.value(v.S2), R: res()},
		}, R: &ast.Num{}}
	case (v.Type == ucode.FlagCarry || v.Type == ucode.FlagOverflow) && logic:
		return &ast.Num{}
	default:
		return c.todo(v)
	}
}

func unsigned(n ast.Node) ast.Node {
	return &ast.Cast{Type: "unsigned long", X: n}
}

// binary renders an arithmetic instruction. A logical right shift reads its
// operand as the unsigned type of its width.
func (c *converter) binary(v *ucode.Binary) ast.Node {
	l := c.value(v.S1)
	if v.Op == ucode.OpShr {
		l = &ast.Cast{Type: unsignedType(v.Size), X: l}
	}

	return &ast.BinOp{Op: v.Op.String(), L: l, R: c.value(v.S2)}
}

func unsignedType(size int) string {
	switch size {
	case 1:
		return "unsigned char"
	case 2:
		return "unsigned short"
	case 4:
		return "unsigned int"
	default:
		return "unsigned long"
	}
}

func (c *converter) unary(v *ucode.Unary) ast.Node {
	switch v.Op {
	case ucode.OpNeg:
		return &ast.BinOp{Op: "-", L: &ast.Num{}, R: c.value(v.S)}
	case ucode.OpNot:
		return &ast.BinOp{Op: "^", L: c.value(v.S), R: &ast.Num{Value: -1}}
	default:
		return &ast.Not{X: c.value(v.S)}
	}
}

// convert maps one instruction onto a statement, or nil when it has none.
func (c *converter) convert(ins ucode.Instr) ast.Node {
	switch v := ins.(type) {
	case *ucode.Nop:
		return nil
	case *ucode.Mov:
		return c.assign(v.D, c.value(v.S))
	case *ucode.Load:
		return c.assign(v.D, &ast.Deref{X: c.value(v.Addr)})
	case *ucode.Store:
		return &ast.Assign{Target: &ast.Deref{X: c.value(v.Addr)}, Value: c.value(v.S)}
	case *ucode.AddressOf:
		return c.assign(v.D, &ast.AddrOf{X: c.variable(v.S)})
	case *ucode.GetMember:
		return c.assign(v.D, &ast.Field{X: c.value(v.Obj), Name: fmt.Sprintf("off_%x", v.Off)})
	case *ucode.SetMember:
		return &ast.Assign{Target: &ast.Field{X: c.variable(v.D), Name: fmt.Sprintf("off_%x", v.Off)}, Value: c.value(v.S)}
	case *ucode.Trunc:
		return c.assign(v.D, c.value(v.S))
	case *ucode.Extend:
		return c.assign(v.D, c.value(v.S))
	case *ucode.Binary:
		return c.assign(v.D, c.binary(v))
	case *ucode.Unary:
		return c.assign(v.D, c.unary(v))
	case *ucode.SetFlag:
		return c.assign(v.Flag, c.flag(v))
	case *ucode.Branch:
		return &ast.ExprStmt{X: c.value(v.Cond)}
	case *ucode.Switch:
		return &ast.ExprStmt{X: c.value(v.Value)}
	case *ucode.Call:
		call := &ast.Call{Func: c.value(v.Callee), Args: c.values(v.Params)}
		if v.D == nil {
			return &ast.ExprStmt{X: call}
		}

		return c.assign(v.D, call)
	case *ucode.Ret:
		if len(v.Values) == 0 {
			return &ast.Return{}
		}

		return &ast.Return{Value: c.value(v.Values[0])}
	case *ucode.Asm:
		return &ast.ExprStmt{X: c.todo(v)}
	default:
		panic(fmt.Sprintf("synth: unknown instruction %T", ins))
	}
}

// block converts the instructions of a basic block.
func (c *converter) block(b *ucode.Block) []ast.Node {
	ret := make([]ast.Node, 0, len(b.Instrs))
	for _, ins := range b.Instrs {
		if s := c.convert(ins); s != nil {
			ret = append(ret, s)
		}
	}

	return ret
}

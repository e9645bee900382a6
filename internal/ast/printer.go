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
	"fmt"
	"strconv"
	"strings"
)

// Lines maps 1-based output line numbers to the statement printed there.
type Lines map[int]Node

type printer struct {
	buf    strings.Builder
	indent int
	line   int
	lines  Lines
}

// Print renders a function as C (or Objective-C for methods) and returns
// the text together with its line map.
func Print(fn *Function) (string, Lines) {
	p := &printer{line: 1, lines: Lines{}}
	lang := "C"

	if fn.IsMethod() {
		lang = "Obj-C"
	}

	p.printf("// Generated %s code for function '%s'\n\n", lang, displayName(fn))

	if fn.IsMethod() {
		p.printf("#import <Foundation/Foundation.h>\n\n")
	}

	/* referenced globals */
	for _, g := range fn.Globals {
		p.stmt(g)
	}

	if len(fn.Globals) != 0 {
		p.printf("\n")
	}

	if fn.IsMethod() {
		p.printf("@interface %s : NSObject\n@end\n\n@implementation %s\n\n", fn.Class, fn.Class)
	}

	/* the function itself */
	p.lines[p.line] = fn
	p.printf("%s {\n", signature(fn))
	p.body(fn.Body)
	p.printf("}\n")

	if fn.IsMethod() {
		p.printf("\n@end\n")
	}

	return p.buf.String(), p.lines
}

func displayName(fn *Function) string {
	if !fn.IsMethod() {
		return fn.Name
	}

	sign := "-"
	if fn.Static {
		sign = "+"
	}

	return fmt.Sprintf("%s[%s %s]", sign, fn.Class, fn.Selector)
}

func signature(fn *Function) string {
	if !fn.IsMethod() {
		args := make([]string, 0, len(fn.Params))
		for _, a := range fn.Params {
			args = append(args, a.Type+" "+a.Name)
		}

		return fmt.Sprintf("%s %s(%s)", fn.Ret, fn.Name, strings.Join(args, ", "))
	}

	sign := "-"
	if fn.Static {
		sign = "+"
	}

	/* interleave the selector parts with the typed arguments */
	parts := strings.Split(fn.Selector, ":")
	n := strings.Count(fn.Selector, ":")

	if n == 0 {
		return fmt.Sprintf("%s (%s)%s", sign, fn.Ret, fn.Selector)
	}

	buf := make([]string, 0, n)

	for i := 0; i < n; i++ {
		t, name := "id", fmt.Sprintf("arg%d", i)

		if i < len(fn.Params) {
			t, name = fn.Params[i].Type, fn.Params[i].Name
		}

		buf = append(buf, fmt.Sprintf("%s:(%s)%s", parts[i], t, name))
	}

	return fmt.Sprintf("%s (%s)%s", sign, fn.Ret, strings.Join(buf, " "))
}

func (p *printer) printf(format string, args ...interface{}) {
	s := fmt.Sprintf(format, args...)
	p.line += strings.Count(s, "\n")
	p.buf.WriteString(s)
}

func (p *printer) pad() string {
	return strings.Repeat("    ", p.indent)
}

func (p *printer) body(b *Block) {
	p.indent++

	if b != nil {
		for _, s := range b.Stmts {
			p.stmt(s)
		}
	}

	p.indent--
}

func (p *printer) stmt(n Node) {
	p.lines[p.line] = n
	i := p.pad()

	switch n := n.(type) {
	case *Declaration:
		p.printf("%s%s %s;\n", i, n.Type, n.Name)
	case *Assign:
		if n.Type != "" {
			p.printf("%s%s %s = %s;\n", i, n.Type, p.expr(n.Target), p.expr(n.Value))
		} else {
			p.printf("%s%s = %s;\n", i, p.expr(n.Target), p.expr(n.Value))
		}
	case *Return:
		if n.Value == nil {
			p.printf("%sreturn;\n", i)
		} else {
			p.printf("%sreturn %s;\n", i, p.expr(n.Value))
		}
	case *ExprStmt:
		p.printf("%s%s;\n", i, p.expr(n.X))
	case *If:
		p.printf("%sif (%s) {\n", i, p.expr(n.Cond))
		p.body(n.Then)

		if n.Else != nil && len(n.Else.Stmts) != 0 {
			p.printf("%s} else {\n", i)
			p.body(n.Else)
		}

		p.printf("%s}\n", i)
	case *While:
		p.printf("%swhile (%s) {\n", i, p.expr(n.Cond))
		p.body(n.Body)
		p.printf("%s}\n", i)
	case *DoWhile:
		p.printf("%sdo {\n", i)
		p.body(n.Body)
		p.printf("%s} while (%s);\n", i, p.expr(n.Cond))
	case *ForEach:
		p.printf("%sfor (%s %s in %s) {\n", i, n.Type, p.expr(n.Var), p.expr(n.Source))
		p.body(n.Body)
		p.printf("%s}\n", i)
	case *Switch:
		p.printf("%sswitch (%s) {\n", i, p.expr(n.Value))
		p.indent++

		for _, c := range n.Cases {
			p.stmt(c)
		}

		p.indent--
		p.printf("%s}\n", i)
	case *Case:
		if n.Default {
			p.printf("%sdefault:\n", i)
		}

		for _, v := range n.Values {
			p.printf("%scase %s:\n", i, num(v))
		}

		p.body(n.Body)
	case *Label:
		p.printf("%s:\n", n.Name)
	case *Goto:
		p.printf("%sgoto %s;\n", i, n.Label)
	case *Break:
		p.printf("%sbreak;\n", i)
	case *Block:
		p.printf("%s{\n", i)
		p.body(n)
		p.printf("%s}\n", i)
	default:
		p.printf("%s%s;\n", i, p.expr(n))
	}
}

// Format renders a single node without any framing.
func Format(n Node) string {
	p := &printer{line: 1, lines: Lines{}}

	switch n.(type) {
	case *Function:
		s, _ := Print(n.(*Function))
		return s
	case *Declaration, *Assign, *Return, *ExprStmt, *If, *While, *DoWhile, *ForEach, *Switch, *Case, *Label, *Goto, *Break, *Block:
		p.stmt(n)
		return p.buf.String()
	default:
		return p.expr(n)
	}
}

func num(v int64) string {
	if v > -0x1000 && v < 0x1000 {
		return strconv.FormatInt(v, 10)
	}

	if v < 0 {
		return fmt.Sprintf("-0x%x", uint64(-v))
	}

	return fmt.Sprintf("0x%x", v)
}

// operand wraps nested binary operators in parentheses.
func (p *printer) operand(n Node) string {
	if _, ok := n.(*BinOp); ok {
		return "(" + p.expr(n) + ")"
	}

	return p.expr(n)
}

func (p *printer) args(v []Node) []string {
	ret := make([]string, 0, len(v))
	for _, a := range v {
		ret = append(ret, p.expr(a))
	}

	return ret
}

func (p *printer) expr(n Node) string {
	switch n := n.(type) {
	case nil:
		return "<nil>"
	case *Name:
		return n.ID
	case *Num:
		return num(n.Value)
	case *Str:
		return strconv.Quote(n.Value)
	case *ObjCString:
		return "@" + strconv.Quote(n.Value)
	case *ObjCSelector:
		return "@selector(" + n.Value + ")"
	case *Call:
		return fmt.Sprintf("%s(%s)", p.expr(n.Func), strings.Join(p.args(n.Args), ", "))
	case *MsgSend:
		return fmt.Sprintf("[%s %s]", p.expr(n.Receiver), message(n.Selector, p.args(n.Args)))
	case *BinOp:
		return fmt.Sprintf("%s %s %s", p.operand(n.L), n.Op, p.operand(n.R))
	case *Not:
		return "!(" + p.expr(n.X) + ")"
	case *Deref:
		return "*(" + p.expr(n.X) + ")"
	case *AddrOf:
		switch n.X.(type) {
		case *Name, *Field:
			return "&" + p.expr(n.X)
		default:
			return "&(" + p.expr(n.X) + ")"
		}
	case *Cast:
		return "(" + n.Type + ")" + p.operand(n.X)
	case *Field:
		return p.expr(n.X) + "->" + n.Name
	case *Todo:
		return "<<TODO " + n.Text + ">>"
	case *BlockLiteral:
		sub := &printer{indent: p.indent, line: 1, lines: Lines{}}
		sub.body(n.Body)

		return "^{\n" + sub.buf.String() + p.pad() + "}"
	case Bind:
		return "$" + string(n)
	default:
		return fmt.Sprintf("<<%T>>", n)
	}
}

// message interleaves selector parts and arguments, "a:b:" with x, y
// giving "a:x b:y". Extra arguments of variadic selectors follow,
// separated by commas.
func message(sel string, args []string) string {
	n := strings.Count(sel, ":")
	if n == 0 {
		return sel
	}

	parts := strings.Split(sel, ":")
	buf := make([]string, 0, n)

	for i := 0; i < n; i++ {
		a := "<nil>"
		if i < len(args) {
			a = args[i]
		}

		buf = append(buf, parts[i]+":"+a)
	}

	ret := strings.Join(buf, " ")

	if len(args) > n {
		ret += ", " + strings.Join(args[n:], ", ")
	}

	return ret
}

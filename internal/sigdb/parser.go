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

package sigdb

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cloudwego/decaf/internal/types"
	"github.com/cloudwego/decaf/internal/utils"
)

// Decl is one function declaration. Types are kept as normalized C
// spellings and only become *types.Type inside a session.
type Decl struct {
	Name   string
	Ret    string
	Params []string
}

func (d *Decl) Variadic() bool {
	return len(d.Params) != 0 && d.Params[len(d.Params)-1] == "..."
}

func (d *Decl) String() string {
	return d.Ret + " " + d.Name + "(" + strings.Join(d.Params, ", ") + ")"
}

type header struct {
	decls   []*Decl
	aliases map[string]string
}

type statement struct {
	text string
	line int
}

var (
	commentRe  = regexp.MustCompile(`(?s)/\*.*?\*/|//[^\n]*`)
	funcPtrRe  = regexp.MustCompile(`\(\s*\*\s*([A-Za-z_]\w*)\s*\)`)
	trailingRe = regexp.MustCompile(`([A-Za-z_]\w*)\s*$`)
	arrayRe    = regexp.MustCompile(`\[[^\]]*\]`)
)

var qualifiers = map[string]bool{
	"const":      true,
	"volatile":   true,
	"restrict":   true,
	"__restrict": true,
	"signed":     true,
	"struct":     true,
	"union":      true,
	"enum":       true,
	"register":   true,
	"_Nullable":  true,
	"_Nonnull":   true,
}

var primitives = map[string]bool{
	"void":     true,
	"char":     true,
	"short":    true,
	"int":      true,
	"long":     true,
	"float":    true,
	"double":   true,
	"unsigned": true,
	"signed":   true,
	"_Bool":    true,
}

var storage = []string{"extern", "static", "inline", "__inline"}

func parse(file string, src string) (*header, error) {
	h := &header{aliases: make(map[string]string)}

	/* comments and preprocessor lines keep their newlines */
	src = commentRe.ReplaceAllStringFunc(src, func(s string) string {
		return strings.Repeat("\n", strings.Count(s, "\n"))
	})

	lines := strings.Split(src, "\n")
	for i, v := range lines {
		if strings.HasPrefix(strings.TrimSpace(v), "#") {
			lines[i] = ""
		}
	}

	stmts, err := split(file, strings.Join(lines, "\n"))
	if err != nil {
		return nil, err
	}

	for _, s := range stmts {
		text := strings.Join(strings.Fields(stripAttributes(s.text)), " ")
		switch {
		case strings.HasPrefix(text, "typedef "):
			parseTypedef(h, text[len("typedef "):])
		case strings.ContainsRune(text, '{'):
			// struct, union and enum bodies
		case strings.ContainsRune(text, '('):
			d, err := parseFunc(file, s.line, text)
			if err != nil {
				return nil, err
			}

			if d != nil {
				h.decls = append(h.decls, d)
			}
		}
	}

	return h, nil
}

// split cuts the source at semicolons outside of braces.
func split(file string, src string) ([]statement, error) {
	var buf strings.Builder
	var ret []statement

	line, start, depth := 1, 0, 0
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '\n':
			line++
		case c == '{':
			depth++
		case c == '}':
			if depth == 0 {
				return nil, utils.ESignature(file, line, "unbalanced '}'")
			}
			depth--
		case c == ';' && depth == 0:
			if s := strings.TrimSpace(buf.String()); s != "" {
				ret = append(ret, statement{text: s, line: start})
			}
			buf.Reset()
			start = 0
			continue
		}

		if start == 0 && c != ' ' && c != '\t' && c != '\n' && c != '\r' {
			start = line
		}
		buf.WriteByte(c)
	}

	if s := strings.TrimSpace(buf.String()); s != "" {
		return nil, utils.ESignature(file, start, "missing ';' after "+strconv.Quote(s))
	}

	return ret, nil
}

// stripAttributes removes compiler annotations that carry a parenthesized
// argument list.
func stripAttributes(s string) string {
	for _, kw := range []string{"__attribute__", "__asm"} {
		for {
			i := strings.Index(s, kw)
			if i < 0 {
				break
			}

			j := i + len(kw)
			for j < len(s) && s[j] == ' ' {
				j++
			}

			if j == len(s) || s[j] != '(' {
				s = s[:i] + s[j:]
				continue
			}

			k := closing(s, j)
			if k < 0 {
				s = s[:i]
			} else {
				s = s[:i] + s[k+1:]
			}
		}
	}

	return s
}

// closing returns the index of the parenthesis matching the one at i.
func closing(s string, i int) int {
	depth := 0
	for k := i; k < len(s); k++ {
		switch s[k] {
		case '(':
			depth++
		case ')':
			if depth--; depth == 0 {
				return k
			}
		}
	}

	return -1
}

func parseTypedef(h *header, text string) {
	/* "typedef struct { ... } name", only pointers to it are useful */
	if i := strings.LastIndexByte(text, '}'); i >= 0 {
		rest := text[i+1:]
		if m := trailingRe.FindStringSubmatch(rest); m != nil && strings.ContainsRune(rest, '*') {
			h.aliases[m[1]] = "void *"
		}
		return
	}

	/* "typedef ret (*name)(args)" */
	if m := funcPtrRe.FindStringSubmatch(text); m != nil {
		h.aliases[m[1]] = "void *"
		return
	}

	if strings.ContainsAny(text, "[(") {
		return
	}

	if m := trailingRe.FindStringSubmatch(text); m != nil {
		if spelling := strings.TrimSpace(text[:len(text)-len(m[0])]); spelling != "" {
			h.aliases[m[1]] = types.Normalize(spelling)
		}
	}
}

func parseFunc(file string, line int, text string) (*Decl, error) {
	for _, w := range storage {
		text = strings.TrimPrefix(text, w+" ")
	}

	open := strings.IndexByte(text, '(')
	end := closing(text, open)
	if end < 0 {
		return nil, utils.ENoParen(file, line, text)
	}

	/* functions returning function pointers and pointer variables are skipped */
	if strings.TrimSpace(text[end+1:]) != "" {
		return nil, nil
	}

	head := strings.TrimSpace(text[:open])
	m := trailingRe.FindStringSubmatch(head)
	if m == nil {
		return nil, nil
	}

	ret := strings.TrimSpace(head[:len(head)-len(m[0])])
	if ret == "" {
		return nil, nil
	}

	d := &Decl{
		Name: m[1],
		Ret:  types.Normalize(ret),
	}

	for _, p := range splitParams(text[open+1 : end]) {
		d.Params = append(d.Params, param(p))
	}

	if len(d.Params) == 1 && d.Params[0] == "void" {
		d.Params = nil
	}

	return d, nil
}

func splitParams(s string) []string {
	var ret []string
	if strings.TrimSpace(s) == "" {
		return nil
	}

	depth, last := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				ret = append(ret, s[last:i])
				last = i + 1
			}
		}
	}

	return append(ret, s[last:])
}

// param turns one parameter declaration into a type spelling, dropping the
// parameter name when there is one.
func param(p string) string {
	p = strings.TrimSpace(p)
	switch {
	case p == "...":
		return "..."
	case strings.ContainsRune(p, '('):
		return "void *"
	}

	stars := strings.Count(p, "*") + strings.Count(p, "[")
	words := strings.Fields(strings.ReplaceAll(arrayRe.ReplaceAllString(p, ""), "*", " "))

	n := 0
	for _, w := range words {
		if !qualifiers[w] {
			n++
		}
	}

	if last := len(words) - 1; n > 1 && !qualifiers[words[last]] && !primitives[words[last]] {
		words = words[:last]
	}

	ret := strings.Join(words, " ")
	if stars > 0 {
		ret += " " + strings.Repeat("*", stars)
	}

	return types.Normalize(ret)
}

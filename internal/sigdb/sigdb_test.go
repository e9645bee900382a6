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
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/decaf/internal/types"
	"github.com/cloudwego/decaf/internal/utils"
)

func TestParse_Declarations(t *testing.T) {
	h, err := parse("test.h", `
#include <stdio.h>
/* a comment; with a semicolon */
int printf(const char * __restrict, ...);   // trailing ( comment
void exit(int) __attribute__((__noreturn__));
extern char *strdup(const char *s);
int getchar(void);
void qsort(void *, size_t, size_t, int (*)(const void *, const void *));
void objc_setProperty(id self, SEL _cmd, ptrdiff_t offset, id newValue, BOOL atomic, signed char shouldCopy);
void (*signal(int, void (*)(int)))(int);
struct point { int x; int (*cb)(int); };
extern int errno;
`)
	require.NoError(t, err)

	byName := map[string]*Decl{}
	for _, d := range h.decls {
		byName[d.Name] = d
	}

	require.Len(t, byName, 6)
	assert.Equal(t, []string{"char *", "..."}, byName["printf"].Params)
	assert.True(t, byName["printf"].Variadic())
	assert.Equal(t, "int", byName["printf"].Ret)
	assert.Equal(t, []string{"int"}, byName["exit"].Params)
	assert.Equal(t, "char *", byName["strdup"].Ret)
	assert.Equal(t, []string{"char *"}, byName["strdup"].Params)
	assert.Empty(t, byName["getchar"].Params)
	assert.Equal(t, []string{"void *", "size_t", "size_t", "void *"}, byName["qsort"].Params)
	assert.Equal(t, []string{"id", "SEL", "ptrdiff_t", "id", "BOOL", "char"}, byName["objc_setProperty"].Params)
	assert.Equal(t, "void objc_setProperty(id, SEL, ptrdiff_t, id, BOOL, char)", byName["objc_setProperty"].String())
}

func TestParse_Typedefs(t *testing.T) {
	h, err := parse("test.h", `
typedef unsigned long size_t;
typedef struct objc_object *id;
typedef id (*IMP)(id, SEL, ...);
typedef struct { int a; } plain_t;
typedef struct { int a; } *handle_t;
typedef int vec4[4];
`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"size_t":   "unsigned long",
		"id":       "objc_object *",
		"IMP":      "void *",
		"handle_t": "void *",
	}, h.aliases)
}

func TestParse_Errors(t *testing.T) {
	var se utils.SignatureError

	_, err := parse("bad.h", "/* one\n two */\nint f(int;\n")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "bad.h", se.File)
	assert.Equal(t, 3, se.Line)

	_, err = parse("bad.h", "int a;\n}\n")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 2, se.Line)

	_, err = parse("bad.h", "int a;\nint b(void)\n")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 2, se.Line)
}

func TestDB_Builtin(t *testing.T) {
	db := Builtin()
	assert.NotZero(t, db.Len())

	d, ok := db.Lookup("_objc_msgSend")
	require.True(t, ok)
	assert.Equal(t, []string{"id", "SEL", "..."}, d.Params)

	_, ok = db.Lookup("_no_such_function")
	assert.False(t, ok)

	n := 0
	db.Range(func(*Decl) bool { n++; return true })
	assert.Equal(t, db.Len(), n)
}

func TestDB_Signature(t *testing.T) {
	db := Builtin()
	m := types.NewManager(8)

	params, ret, ok := db.Signature(m, "_NSLog")
	require.True(t, ok)
	require.Len(t, params, 2)
	assert.Same(t, m.ID(), params[0])
	assert.True(t, params[1].IsVariadic())
	assert.True(t, ret.IsVoid())

	params, ret, ok = db.Signature(m, "strlen")
	require.True(t, ok)
	assert.Equal(t, "char *", params[0].Name)
	assert.Same(t, m.Get("unsigned long"), ret)
	assert.Same(t, ret, m.Get("size_t"))

	_, ret, ok = db.Signature(m, "arc4random")
	require.True(t, ok)
	assert.Equal(t, 4, ret.Size)
	assert.False(t, ret.Signed)

	_, ret, ok = db.Signature(m, "object_getClass")
	require.True(t, ok)
	assert.Same(t, m.VoidPtr(), ret)
}

func TestDB_Override(t *testing.T) {
	db, err := Load(Source{Name: "extra.h", Text: "long strlen(char *s, int n);\nvoid my_hook(long);\n"})
	require.NoError(t, err)

	d, ok := db.Lookup("strlen")
	require.True(t, ok)
	assert.Equal(t, "long", d.Ret)
	assert.Equal(t, []string{"char *", "int"}, d.Params)

	_, ok = db.Lookup("my_hook")
	assert.True(t, ok)
	assert.Equal(t, Builtin().Len()+1, db.Len())
}

func TestDB_Cache(t *testing.T) {
	src := Source{Name: "cache.h", Text: "int cached_fn(int);\n"}
	a, err := Load(src)
	require.NoError(t, err)

	hits := atomic.LoadUint64(&HitCount)
	b, err := Load(src)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, a.Key(), b.Key())
	assert.Less(t, hits, atomic.LoadUint64(&HitCount))

	c, err := Load(Source{Name: "cache.h", Text: "int cached_fn(long);\n"})
	require.NoError(t, err)
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestDB_Concurrent(t *testing.T) {
	src := Source{Name: "conc.h", Text: "int conc_fn(int, ...);\n"}
	ret := make([]*DB, 8)

	var wg sync.WaitGroup
	for i := range ret {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			db, err := Load(src)
			if err == nil {
				ret[i] = db
			}
		}(i)
	}

	wg.Wait()
	for _, db := range ret {
		assert.Same(t, ret[0], db)
	}
}

func TestDB_LoadFiles(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "extra.h")
	require.NoError(t, os.WriteFile(fn, []byte("BOOL file_fn(id obj);\n"), 0o644))

	db, err := LoadFiles(fn)
	require.NoError(t, err)
	_, ok := db.Lookup("file_fn")
	assert.True(t, ok)

	_, err = LoadFiles(filepath.Join(dir, "missing.h"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(fn, []byte("int broken(;\n"), 0o644))
	_, err = LoadFiles(fn)
	var se utils.SignatureError
	assert.ErrorAs(t, err, &se)
}

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

package codegen

import (
    `testing`

    `github.com/chenzhuoyu/iasm/x86_64`
    `github.com/cloudwego/decaf/internal/asm`
    `github.com/cloudwego/decaf/internal/bb`
    `github.com/cloudwego/decaf/internal/graph`
    `github.com/cloudwego/decaf/internal/types`
    `github.com/cloudwego/decaf/internal/ucode`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

type testConv struct {
    sp string
    bp string
    rv string
}

func (testConv) PointerSize() int       { return 8 }
func (self testConv) SPRegister() string   { return self.sp }
func (self testConv) BaseRegister() string { return self.bp }
func (testConv) PCRegister() string     { return "pc" }

func (self testConv) RetvalLocation(t *types.Type) ucode.Location {
    if t != nil && t.IsVoid() {
        return ucode.Location { None: true }
    } else {
        return ucode.Location { Reg: self.rv, Size: 8 }
    }
}

var (
    x86Conv   = testConv { sp: "rsp", bp: "rbp", rv: "rax" }
    arm64Conv = testConv { sp: "sp", bp: "x29", rv: "x0" }
)

func newContext(conv Conventions) *Context {
    fn := ucode.NewFunction("f", 0x1000, 8)
    return &Context {
        Fn    : fn,
        Block : fn.AddBlock(0x1000),
        Conv  : conv,
        Types : types.NewManager(8),
    }
}

func lower(arch Arch, conv Conventions, ins ...*asm.Instr) (*Context, []ucode.Instr) {
    ctx := newContext(conv)
    for _, v := range ins {
        arch.Lower(ctx, v)
    }
    return ctx, ctx.Fn.Instrs()
}

func TestX86_Write32ClearsUpperHalf(t *testing.T) {
    ctx, ins := lower(X86(64), x86Conv, asm.Synthesize(0, "mov", asm.RegOp("eax", 4), asm.ImmOp(1, 4)))
    require.Len(t, ins, 1)
    ext, ok := ins[0].(*ucode.Extend)
    require.True(t, ok)
    assert.Equal(t, ctx.Fn.Native("rax", 8), ext.D)
    assert.False(t, ext.Signed)
    c, ok := ucode.AsConst(ext.S)
    require.True(t, ok)
    assert.Equal(t, int64(1), c.Value)
}

func TestX86_ByteWritePreservesParent(t *testing.T) {
    ctx, ins := lower(X86(64), x86Conv, asm.Synthesize(0, "mov", asm.RegOp("al", 1), asm.RegOp("bl", 1)))
    require.Len(t, ins, 4)
    tr := ins[0].(*ucode.Trunc)
    assert.Equal(t, ctx.Fn.Native("rbx", 8), tr.S)
    and := ins[1].(*ucode.Binary)
    assert.Equal(t, ucode.OpAnd, and.Op)
    assert.Equal(t, int64(-256), and.S2.(*ucode.Constant).Value)
    or := ins[3].(*ucode.Binary)
    assert.Equal(t, ucode.OpOr, or.Op)
    assert.Equal(t, ctx.Fn.Native("rax", 8), or.D)
}

func TestX86_HighByteRead(t *testing.T) {
    _, ins := lower(X86(64), x86Conv, asm.Synthesize(0, "mov", asm.RegOp("cl", 1), asm.RegOp("ah", 1)))
    shr := ins[0].(*ucode.Binary)
    assert.Equal(t, ucode.OpShr, shr.Op)
    assert.Equal(t, int64(8), shr.S2.(*ucode.Constant).Value)
    _, ok := ins[1].(*ucode.Trunc)
    assert.True(t, ok)
}

func TestX86_CompareAndBranch(t *testing.T) {
    ctx, ins := lower(X86(64), x86Conv,
        asm.Synthesize(0, "cmp", asm.RegOp("rdi", 8), asm.ImmOp(0, 8)),
        asm.Synthesize(4, "je", asm.ImmOp(0x1010, 8)),
    )
    require.Len(t, ins, 8)
    for _, v := range ins[:6] {
        sf, ok := v.(*ucode.SetFlag)
        require.True(t, ok)
        assert.Equal(t, ucode.FlagSub, sf.Op)
    }
    mov := ins[6].(*ucode.Mov)
    assert.Equal(t, ctx.Fn.FlagReg("zf"), mov.S)
    assert.Equal(t, ctx.BranchCondition(), mov.D)
    br := ins[7].(*ucode.Branch)
    assert.Equal(t, uint64(0x1010), br.Addr())
    assert.Equal(t, ucode.Value(ctx.BranchCondition()), br.Cond)
}

func TestX86_Conditions(t *testing.T) {
    sizes := map[string]int {
        "a"  : 3,
        "ae" : 1,
        "e"  : 1,
        "ne" : 1,
        "g"  : 3,
        "ge" : 1,
        "l"  : 2,
        "le" : 3,
        "b"  : 1,
        "be" : 1,
        "s"  : 1,
        "ns" : 1,
    }
    for cc, n := range sizes {
        ctx := newContext(x86Conv)
        bc := X86Condition(ctx, cc)
        ins := ctx.Fn.Instrs()
        require.Len(t, ins, n, cc)
        assert.Equal(t, bc, ins[n - 1].Dest(), cc)
        assert.Equal(t, "branch_condition", bc.Name)
    }
    assert.Panics(t, func() { X86Condition(newContext(x86Conv), "po") })
}

func TestX86_SignedGreater(t *testing.T) {
    ctx := newContext(x86Conv)
    X86Condition(ctx, "g")
    ins := ctx.Fn.Instrs()
    not := ins[0].(*ucode.Unary)
    assert.Equal(t, ucode.OpLNot, not.Op)
    assert.Equal(t, ucode.Value(ctx.Fn.FlagReg("zf")), not.S)
    eq := ins[1].(*ucode.Binary)
    assert.Equal(t, ucode.OpEquals, eq.Op)
    and := ins[2].(*ucode.Binary)
    assert.Equal(t, ucode.OpAnd, and.Op)
}

func TestX86_StackOps(t *testing.T) {
    ctx, ins := lower(X86(64), x86Conv,
        asm.Synthesize(0, "push", asm.RegOp("rbp", 8)),
        asm.Synthesize(1, "pop", asm.RegOp("rbp", 8)),
    )
    require.Len(t, ins, 5)
    sp := ctx.Fn.Native("rsp", 8)
    assert.Equal(t, ucode.OpSub, ins[0].(*ucode.Binary).Op)
    assert.Equal(t, sp, ins[0].Dest())
    assert.Equal(t, ucode.Value(sp), ins[1].(*ucode.Store).Addr)
    assert.Equal(t, ucode.Value(sp), ins[2].(*ucode.Load).Addr)
    assert.Equal(t, ucode.OpAdd, ins[3].(*ucode.Binary).Op)
    assert.Equal(t, ctx.Fn.Native("rbp", 8), ins[4].Dest())
}

func TestX86_CallAndReturn(t *testing.T) {
    ctx, ins := lower(X86(64), x86Conv,
        asm.Synthesize(0, "call", asm.ImmOp(0x2000, 8)),
        asm.Synthesize(5, "ret"),
    )
    require.Len(t, ins, 2)
    call := ins[0].(*ucode.Call)
    assert.True(t, call.Unknown)
    assert.Equal(t, ctx.Fn.Native("rax", 8), call.D)
    assert.Equal(t, uint64(0x2000), call.Callee.(*ucode.Constant).Unsigned())
    assert.Len(t, ins[1].(*ucode.Ret).Values, 1)

    /* void functions return nothing */
    ctx = newContext(x86Conv)
    ctx.RetType = ctx.Types.Void()
    X86(64).Lower(ctx, asm.Synthesize(0, "ret"))
    assert.Empty(t, ctx.Fn.Instrs()[0].(*ucode.Ret).Values)
}

func TestX86_UnknownIsOpaque(t *testing.T) {
    _, ins := lower(X86(64), x86Conv, asm.Synthesize(0, "cpuid"))
    require.Len(t, ins, 1)
    assert.Equal(t, "cpuid", ins[0].(*ucode.Asm).Native.Text)
    _, ins = lower(X86(64), x86Conv, asm.Synthesize(0, "nop"), asm.Synthesize(1, "jmp", asm.ImmOp(0x10, 8)))
    assert.Empty(t, ins)
}

func TestX86_SelfXor(t *testing.T) {
    _, ins := lower(X86(64), x86Conv, asm.Synthesize(0, "xor", asm.RegOp("eax", 4), asm.RegOp("eax", 4)))
    require.Len(t, ins, 1)
    c, ok := ucode.AsConst(ins[0].(*ucode.Extend).S)
    require.True(t, ok)
    assert.Zero(t, c.Value)
}

func shifts(ins []ucode.Instr) []ucode.BinaryOp {
    var ret []ucode.BinaryOp
    for _, v := range ins {
        if b, ok := v.(*ucode.Binary); ok && (b.Op == ucode.OpShr || b.Op == ucode.OpSar) {
            ret = append(ret, b.Op)
        }
    }
    return ret
}

func TestX86_Shifts(t *testing.T) {
    _, ins := lower(X86(64), x86Conv, asm.Synthesize(0, "sar", asm.RegOp("rax", 8), asm.ImmOp(3, 1)))
    assert.Equal(t, []ucode.BinaryOp { ucode.OpSar }, shifts(ins))
    _, ins = lower(X86(64), x86Conv, asm.Synthesize(0, "shr", asm.RegOp("rax", 8), asm.ImmOp(3, 1)))
    assert.Equal(t, []ucode.BinaryOp { ucode.OpShr }, shifts(ins))
}

func TestX86_JumpTable(t *testing.T) {
    ctx := newContext(x86Conv)
    ctx.Tables = map[uint64][]uint64 { 0x40: { 0x50, 0x60 } }
    X86(64).Lower(ctx, &asm.Instr { Addr: 0x40, Mnemonic: "jmp", Operands: []asm.Operand { asm.RegOp("rax", 8) } })
    sw := ctx.Fn.Instrs()[0].(*ucode.Switch)
    assert.Equal(t, []uint64{0x50, 0x60}, sw.Targets)
}

func TestARM64_StorePairPreIndex(t *testing.T) {
    ctx, ins := lower(ARM64(), arm64Conv, asm.Synthesize(0, "stp",
        asm.RegOp("x29", 8),
        asm.RegOp("x30", 8),
        asm.MemOp(asm.Memory { Base: "sp", Disp: -16, PreIndex: true }, 8),
    ))
    require.Len(t, ins, 5)
    st1 := ins[2].(*ucode.Store)
    st2 := ins[3].(*ucode.Store)
    assert.Equal(t, ucode.Value(ctx.Fn.Native("x29", 8)), st1.S)
    assert.Equal(t, ucode.Value(ctx.Fn.Native("x30", 8)), st2.S)
    mov := ins[4].(*ucode.Mov)
    assert.Equal(t, ctx.Fn.Native("sp", 8), mov.D)
    assert.Equal(t, ucode.Value(ins[0].Dest()), mov.S)
}

func TestARM64_LoadPairPostIndex(t *testing.T) {
    ctx, ins := lower(ARM64(), arm64Conv, asm.Synthesize(0, "ldp",
        asm.RegOp("x29", 8),
        asm.RegOp("x30", 8),
        asm.MemOp(asm.Memory { Base: "sp", Disp: 16, PostIndex: true }, 8),
    ))
    require.Len(t, ins, 7)
    sp := ctx.Fn.Native("sp", 8)
    assert.Equal(t, ucode.Value(sp), ins[1].(*ucode.Load).Addr)
    assert.Equal(t, ctx.Fn.Native("x29", 8), ins[3].Dest())
    assert.Equal(t, ctx.Fn.Native("x30", 8), ins[4].Dest())
    assert.Equal(t, sp, ins[6].Dest())
}

func TestARM64_ZeroRegister(t *testing.T) {
    ctx, ins := lower(ARM64(), arm64Conv, asm.Synthesize(0, "mov", asm.RegOp("w0", 4), asm.RegOp("wzr", 4)))
    require.Len(t, ins, 1)
    ext := ins[0].(*ucode.Extend)
    assert.Equal(t, ctx.Fn.Native("x0", 8), ext.D)
    assert.Zero(t, ext.S.(*ucode.Constant).Value)
    _, ins = lower(ARM64(), arm64Conv, asm.Synthesize(0, "add", asm.RegOp("xzr", 8), asm.RegOp("x1", 8), asm.RegOp("x2", 8)))
    require.Len(t, ins, 1)
    assert.Equal(t, "temp_0", ins[0].Dest().Name)
}

func TestARM64_Shifts(t *testing.T) {
    _, ins := lower(ARM64(), arm64Conv, asm.Synthesize(0, "asr", asm.RegOp("x0", 8), asm.RegOp("x1", 8), asm.ImmOp(3, 8)))
    assert.Equal(t, []ucode.BinaryOp { ucode.OpSar }, shifts(ins))
    _, ins = lower(ARM64(), arm64Conv, asm.Synthesize(0, "lsr", asm.RegOp("x0", 8), asm.RegOp("x1", 8), asm.ImmOp(3, 8)))
    assert.Equal(t, []ucode.BinaryOp { ucode.OpShr }, shifts(ins))
}

func TestARM64_CompareAndBranch(t *testing.T) {
    ctx, ins := lower(ARM64(), arm64Conv, asm.Synthesize(0, "cbnz", asm.RegOp("w0", 4), asm.ImmOp(0x2000, 8)))
    require.Len(t, ins, 4)
    assert.Equal(t, ucode.OpEquals, ins[1].(*ucode.Binary).Op)
    assert.Equal(t, ucode.OpLNot, ins[2].(*ucode.Unary).Op)
    assert.Equal(t, ctx.BranchCondition(), ins[2].Dest())
    assert.Equal(t, uint64(0x2000), ins[3].(*ucode.Branch).Addr())
    assert.Panics(t, func() { ARM64Condition(newContext(arm64Conv), "nv") })
}

type testOracle struct{}

func (testOracle) IsCall(ins *asm.Instr) bool              { return ins.Mnemonic == "call" }
func (testOracle) IsReturn(ins *asm.Instr) bool            { return ins.Mnemonic == "ret" }
func (testOracle) IsUnconditionalJump(ins *asm.Instr) bool { return ins.Mnemonic == "jmp" }
func (testOracle) IsConditionalJump(ins *asm.Instr) bool   { return ins.Mnemonic == "je" }
func (testOracle) JumpDestination(ins *asm.Instr) (uint64, bool) { return ins.Target() }

func TestGenerate(t *testing.T) {
    p := x86_64.DefaultArch.CreateProgram()
    l := x86_64.CreateLabel("out")
    p.PUSHQ(x86_64.RBP)
    p.MOVQ(x86_64.RSP, x86_64.RBP)
    p.CMPQ(0, x86_64.RDI)
    p.JE(l)
    p.MOVQ(x86_64.Ptr(x86_64.RDI, 8), x86_64.RAX)
    p.Link(l)
    p.POPQ(x86_64.RBP)
    p.RET()
    code := p.Assemble(0x1000)
    p.Free()

    /* native blocks, then micro-code */
    g := bb.Build(asm.DecodeAll(asm.X86(64), code, 0x1000), testOracle{})
    require.Len(t, g.Blocks, 3)
    ctx := newContext(x86Conv)
    ctx.Fn = ucode.NewFunction("f", 0x1000, 8)
    fn := Generate(ctx, g, X86(64))
    require.NoError(t, fn.Check())
    require.Len(t, fn.Blocks, 3)
    assert.Equal(t, graph.Set{1, 2}, fn.Blocks[0].Succ)
    assert.Equal(t, graph.Set{0, 1}, fn.Blocks[2].Pred)
    assert.True(t, fn.Blocks[2].Exit)
    assert.Equal(t, "rsp", fn.SP)

    /* the conditional jump is the last instruction of the entry block */
    _, ok := fn.Blocks[0].Last().(*ucode.Branch)
    assert.True(t, ok)
    _, ok = fn.Blocks[2].Last().(*ucode.Ret)
    assert.True(t, ok)
    for _, ins := range fn.Instrs() {
        assert.NotZero(t, ins.Meta().Addr)
    }
}

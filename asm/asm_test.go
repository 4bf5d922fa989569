package asm_test

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/benbjohnson/flow"
	"github.com/benbjohnson/flow/asm"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"
)

// Each archive holds an "input" file and either the expected "output" of
// Format or the expected "error".
func TestParse_Testdata(t *testing.T) {
	paths, err := filepath.Glob("testdata/*.txtar")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		path := path
		t.Run(strings.TrimSuffix(filepath.Base(path), ".txtar"), func(t *testing.T) {
			ar, err := txtar.ParseFile(path)
			require.NoError(t, err)

			files := make(map[string]string)
			for _, f := range ar.Files {
				files[f.Name] = string(f.Data)
			}

			prog, err := asm.ParseString(files["input"])
			if want, ok := files["error"]; ok {
				require.EqualError(t, err, strings.TrimSpace(want))
				return
			}
			require.NoError(t, err)
			require.Equal(t, files["output"], asm.FormatString(prog.Methods...))

			// Formatted output parses back to the same instructions.
			other, err := asm.ParseString(files["output"])
			require.NoError(t, err)
			require.Equal(t, files["output"], asm.FormatString(other.Methods...))
		})
	}
}

func TestParse(t *testing.T) {
	t.Run("Program", func(t *testing.T) {
		prog, err := asm.ParseString(`
method inc(int) int
	load 0
	push int 1
	add
	return
end

method main(int) void
	load 0
	call inc
	assign y int
label done
end
`)
		require.NoError(t, err)
		require.Len(t, prog.Methods, 2)

		main := prog.Method("main")
		require.NotNil(t, main)
		require.Equal(t, []flow.ValueType{flow.Integer}, main.Args)
		require.Equal(t, []*flow.Method{prog.Method("inc")}, main.Callees())

		y := prog.Var(main, "y")
		require.NotNil(t, y)
		require.Equal(t, "y", y.Name)
		require.Same(t, main.Instrs[2].(*flow.AssignInstr).Var, y)

		l := prog.Label(main, "done")
		require.NotNil(t, l)
		require.Equal(t, 3, l.Index())
		require.Nil(t, prog.Method("missing"))
	})

	t.Run("Types", func(t *testing.T) {
		prog, err := asm.ParseString(`
method f([int], struct point, [[bool]]) void
	load 1
	store 3
end
`)
		require.NoError(t, err)
		m := prog.Methods[0]
		require.True(t, flow.TypesEqual(m.Args[0], flow.NewArrayType(flow.Integer)))
		require.True(t, flow.TypesEqual(m.Args[1], &flow.StructureType{Name: "point"}))
		require.True(t, flow.TypesEqual(m.Args[2], flow.NewArrayType(flow.NewArrayType(flow.Boolean))))
		require.True(t, flow.TypesEqual(m.Return, flow.Empty))
	})

	t.Run("AssertClassification", func(t *testing.T) {
		prog, err := asm.ParseString(`
method f(bool) void
	load 0
	assert any
	push bool false
	assert false
end
`)
		require.NoError(t, err)
		m := prog.Methods[0]
		require.Equal(t, flow.AnyValue, m.Instrs[1].(*flow.AssertInstr).Expect)
		require.Equal(t, flow.AlwaysFalse, m.Instrs[3].(*flow.AssertInstr).Expect)
	})

	t.Run("ErrBuilder", func(t *testing.T) {
		_, err := asm.ParseString("method f() void\n\tpop\nend\n")
		var e *asm.Error
		require.True(t, errors.As(err, &e))
		require.Equal(t, 2, e.Line)

		var typeErr *flow.TypeError
		require.True(t, errors.As(err, &typeErr))
		require.Equal(t, "pop", typeErr.Op)
	})

	t.Run("ErrDuplicateMethod", func(t *testing.T) {
		_, err := asm.ParseString("method f() void\nend\nmethod f() void\nend\n")
		require.EqualError(t, err, "line 3: method f already defined")
	})

	t.Run("ErrRedeclaredVariable", func(t *testing.T) {
		_, err := asm.ParseString("method f() void\n\tpush int 1\n\tassign x int\n\tpush bool true\n\tassign x bool\nend\n")
		require.EqualError(t, err, "line 5: assign: variable x redeclared as bool")
	})

	t.Run("ErrInvalidLiteral", func(t *testing.T) {
		_, err := asm.ParseString("method f() void\n\tpush int x\nend\n")
		require.EqualError(t, err, `line 2: invalid int: "x"`)
	})

	t.Run("ErrOperands", func(t *testing.T) {
		_, err := asm.ParseString("method f() void\n\tload\nend\n")
		require.EqualError(t, err, "line 2: load: expected 1 operand(s), found 0")
	})

	t.Run("ErrOperandRange", func(t *testing.T) {
		_, err := asm.ParseString("method f() void\n\tpush int 1\n\tassign x\nend\n")
		require.EqualError(t, err, "line 3: assign: expected 2 to 3 operands, found 1")
	})

	t.Run("EndClosesMethod", func(t *testing.T) {
		prog, err := asm.ParseString("method f() void\nend\nmethod g() int\n\tpush int 1\n\treturn\nend\n")
		require.NoError(t, err)
		require.Len(t, prog.Methods, 2)
		require.Equal(t, "g", prog.Methods[1].Name)
	})

	t.Run("ErrAfterEnd", func(t *testing.T) {
		_, err := asm.ParseString("method f() void\nend\n\tpop\n")
		require.EqualError(t, err, `line 3: expected method, found "pop"`)
	})

	t.Run("ErrOutsideMethod", func(t *testing.T) {
		_, err := asm.ParseString("push int 1\n")
		require.EqualError(t, err, `line 1: expected method, found "push"`)
	})

	t.Run("ErrUnterminatedString", func(t *testing.T) {
		_, err := asm.ParseString("method f() void\n\tpush string \"abc\nend\n")
		require.EqualError(t, err, "line 2: unterminated string")
	})
}

func TestParseType(t *testing.T) {
	for _, s := range []string{"bool", "int", "real", "string", "void", "[int]", "[[real]]", "struct point"} {
		typ, err := asm.ParseType(s)
		require.NoError(t, err)
		require.Equal(t, s, flow.TypeString(typ))
	}

	_, err := asm.ParseType("float")
	require.EqualError(t, err, `invalid type: "float"`)
	_, err = asm.ParseType("struct ")
	require.Error(t, err)
}

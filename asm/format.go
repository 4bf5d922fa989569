package asm

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/benbjohnson/flow"
)

// Format writes methods in the textual format. Structured blocks are written
// as labels and jumps; labels are renamed after their instruction index so
// the output can be parsed back into an identical instruction sequence.
func Format(w io.Writer, methods ...*flow.Method) error {
	bw := bufio.NewWriter(w)
	for i, m := range methods {
		if i > 0 {
			fmt.Fprintln(bw)
		}
		formatMethod(bw, m)
	}
	return bw.Flush()
}

// FormatString returns the textual format of methods as a string.
func FormatString(methods ...*flow.Method) string {
	var sb strings.Builder
	Format(&sb, methods...)
	return sb.String()
}

func formatMethod(w io.Writer, m *flow.Method) {
	args := make([]string, len(m.Args))
	for i, typ := range m.Args {
		args[i] = flow.TypeString(typ)
	}
	fmt.Fprintf(w, "method %s(%s) %s\n", m.Name, strings.Join(args, ", "), flow.TypeString(m.Return))

	for _, instr := range m.Instrs {
		switch instr := instr.(type) {
		case *flow.Label:
			fmt.Fprintf(w, "label %s\n", labelName(instr))
		case *flow.BranchInstr:
			fmt.Fprintf(w, "\tbranch %s\n", labelName(instr.Label))
		case *flow.JumpInstr:
			fmt.Fprintf(w, "\tjump %s\n", labelName(instr.Label))
		case *flow.AssignInstr:
			fmt.Fprintf(w, "\tassign %s %s\n", varName(instr.Var), flow.TypeString(instr.Var.Type))
		default:
			fmt.Fprintf(w, "\t%s\n", instr)
		}
	}
	fmt.Fprintln(w, "end")
}

func labelName(l *flow.Label) string {
	return fmt.Sprintf("L%d", l.Index())
}

func varName(p *flow.PlaceholderExpr) string {
	if p.Name == "" {
		return fmt.Sprintf("_%d", p.ID())
	}
	return p.Name
}

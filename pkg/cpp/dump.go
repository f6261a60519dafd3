package cpp

import (
	"github.com/davecgh/go-spew/spew"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var dumpConfig = spew.ConfigState{
	Indent:                  "  ",
	SortKeys:                true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	DisableMethods:          true,
}

type contextDump struct {
	Kind      string
	Name      string
	Line      int
	CondDepth int
	Guard     []string
}

// DebugDump renders the macro table, include registry and context stack.
func (s *Scanner) DebugDump() string {
	var stack []contextDump
	for _, ctx := range s.stack {
		d := contextDump{Line: ctx.lex.loc().Line}
		if ctx.kind == fileContext {
			d.Kind, d.Name, d.CondDepth = "file", ctx.file.Path, ctx.cond.Depth()
		} else {
			d.Kind, d.Name = "rescan", ctx.macro
			d.Guard = maps.Keys(ctx.guard)
			slices.Sort(d.Guard)
		}
		stack = append(stack, d)
	}

	macros := make([]*Macro, 0, s.macros.Len())
	for _, name := range s.macros.Names() {
		macros = append(macros, s.macros.Lookup(name))
	}

	return dumpConfig.Sdump(struct {
		Macros      []*Macro
		Files       []*IncludedFile
		Stack       []contextDump
		Diagnostics []Diagnostic
	}{macros, s.files.Files(), stack, s.diags.List()})
}

package analysis

import (
	"bufio"
	"fmt"

	"stackanalyser/internal/params"
	"stackanalyser/internal/workspace"
)

// ScriptBuilder writes the macro that drives one ImageJ run.
type ScriptBuilder struct {
	Variant Variant
}

// Build writes one command block per exported image to "<script>.ijm" in ws
// and returns its path.
func (b ScriptBuilder) Build(exported []Exported, p params.Parameters, ws *workspace.Workspace) (string, error) {
	f, err := ws.Create(b.Variant.ScriptName() + ".ijm")
	if err != nil {
		return "", fmt.Errorf("create macro: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, e := range exported {
		if _, err := w.WriteString(b.Variant.BuildCommand(e.Image, e.Path, p)); err != nil {
			return "", err
		}
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return f.Name(), f.Close()
}

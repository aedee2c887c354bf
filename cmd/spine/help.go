package main

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/spine/internal/ui"
)

var (
	// Unindented lines ending in ":" such as "Activities:" or "Flags:".
	reSectionHeader = regexp.MustCompile(`(?m)^([A-Z][^\n]*:)\s*$`)

	// "  name   description" rows in command listings.
	reCommandRow = regexp.MustCompile(`(?m)^(  )(\S+)(  )`)

	// Value placeholders after a flag name, e.g. "--page int".
	reFlagValue = regexp.MustCompile(`(--?\S+\s+)(string|int|duration|strings|stringSlice|stringArray)`)

	reDefaultValue = regexp.MustCompile(`\(default "[^"]*"\)`)
)

// colorizedHelpFunc renders cobra's usage text and paints it when stdout
// supports color.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		if !ui.ShouldUseColor() {
			_ = cmd.Usage()
			return
		}
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, colorizeHelp(buf.String()))
	}
}

func colorizeHelp(s string) string {
	s = reSectionHeader.ReplaceAllStringFunc(s, func(m string) string {
		return ui.RenderAccent(strings.TrimSpace(m))
	})
	s = reCommandRow.ReplaceAllStringFunc(s, func(m string) string {
		p := reCommandRow.FindStringSubmatch(m)
		return p[1] + ui.RenderCommand(p[2]) + p[3]
	})
	s = reFlagValue.ReplaceAllStringFunc(s, func(m string) string {
		p := reFlagValue.FindStringSubmatch(m)
		return p[1] + ui.RenderMuted(p[2])
	})
	return reDefaultValue.ReplaceAllStringFunc(s, ui.RenderMuted)
}

package main

import (
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/BaSui01/instructflow/instructor"
)

// =============================================================================
// 🗂️ modes 命令
// =============================================================================

// runModes 打印 Provider × Mode 支持矩阵。指定 --model 时按模型模式匹配，
// 否则只看 Provider 是否支持该模式。
func runModes(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("modes", flag.ContinueOnError)
	model := fs.String("model", "", "Model to check")
	if err := fs.Parse(args); err != nil {
		return err
	}

	caps := instructor.DefaultCapabilities(nil)
	modes := instructor.Modes()

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprint(tw, "PROVIDER")
	for _, m := range modes {
		fmt.Fprintf(tw, "\t%s", m)
	}
	fmt.Fprintln(tw)

	for _, p := range instructor.KnownProviders() {
		fmt.Fprint(tw, p)
		for _, m := range modes {
			ok := caps.SupportsMode(p, m)
			if *model != "" {
				ok = caps.Supports(p, m, *model)
			}
			mark := "-"
			if ok {
				mark = "yes"
			}
			fmt.Fprintf(tw, "\t%s", mark)
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

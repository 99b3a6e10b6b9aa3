package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/orizon-lang/classrt/internal/class"
	"github.com/orizon-lang/classrt/internal/hierarchy"
)

// ClassReport describes the computed chains of one class.
type ClassReport struct {
	Name      string   `json:"name" yaml:"name"`
	Parent    string   `json:"parent,omitempty" yaml:"parent,omitempty"`
	Depth     int      `json:"depth" yaml:"depth"`
	Epoch     uint32   `json:"epoch" yaml:"epoch"`
	Construct []string `json:"construct" yaml:"construct"`
	Destruct  []string `json:"destruct" yaml:"destruct"`
}

func newChainsCmd(a *app) *cobra.Command {
	var output string
	var only string

	cmd := &cobra.Command{
		Use:   "chains <declarations.yaml>",
		Short: "Print the constructor and destructor chains of declared classes",
		Long: `The chains command initializes every declared class and prints, per class,
its hierarchy depth, the epoch it was initialized in, the constructors in
call order (base first) and the destructors in call order (derived first).

Declaration format:
  version: 1.0.0
  classes:
    - name: A
      construct: true
    - name: B
      parent: A
      destruct: true

Example:
  classinfo chains classes.yaml
  classinfo chains classes.yaml --class B --output yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := loadHierarchy(args[0])
			if err != nil {
				return err
			}
			classes := h.Classes
			if only != "" {
				c, ok := h.Lookup(only)
				if !ok {
					return cerr.Newf("class %q is not declared in %s", only, args[0])
				}
				classes = []*class.Class{c}
			}

			rt := a.runtimeFor()
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := rt.Start(ctx, classes...); err != nil {
				return err
			}
			reports := buildReports(classes)
			if err := rt.Shutdown(ctx); err != nil {
				return err
			}

			return writeReports(cmd.OutOrStdout(), output, reports)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, yaml or json")
	cmd.Flags().StringVar(&only, "class", "", "report a single class")
	return cmd
}

// buildReports reads the chains of initialized classes.
func buildReports(classes []*class.Class) []ClassReport {
	reports := make([]ClassReport, 0, len(classes))
	for _, c := range classes {
		r := ClassReport{
			Name:      c.Name,
			Depth:     c.Depth(),
			Epoch:     c.Stamp(),
			Construct: nonNil(hierarchy.ConstructOrder(c)),
			Destruct:  nonNil(hierarchy.DestructOrder(c)),
		}
		if c.Parent != nil {
			r.Parent = c.Parent.Name
		}
		reports = append(reports, r)
	}
	return reports
}

func nonNil(calls []string) []string {
	if calls == nil {
		return []string{}
	}
	return calls
}

func writeReports(w io.Writer, format string, reports []ClassReport) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(reports); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		var sb strings.Builder
		for _, r := range reports {
			fmt.Fprintf(&sb, "%s (depth %d, epoch %d)\n", r.Name, r.Depth, r.Epoch)
			fmt.Fprintf(&sb, "  construct: %s\n", formatChain(r.Construct))
			fmt.Fprintf(&sb, "  destruct:  %s\n", formatChain(r.Destruct))
		}
		return writeOut(w, sb.String())
	default:
		return cerr.Newf("unknown output format %q", format)
	}
}

func formatChain(calls []string) string {
	if len(calls) == 0 {
		return "(none)"
	}
	return strings.Join(calls, " -> ")
}

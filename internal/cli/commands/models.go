package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/restful/internal/api/rest"
	"github.com/conduit-lang/restful/internal/cli/ui"
	"github.com/conduit-lang/restful/internal/orm/schema"
)

// NewModelsCommand creates the models command
func NewModelsCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models [type]",
		Short: "List the resource types the API exposes",
		Long: `Without arguments, list every resource type with its identifier and
relationships, followed by the models that cannot be exposed. With a type
name, show that type's attributes and relationships.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			meta, err := schema.Load(cfg.Schema.Path)
			if err != nil {
				return err
			}
			registry := rest.BuildRegistry(meta, rest.TypeNamer(cfg.API.ModelNames), nil)

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				listModels(out, registry)
				return nil
			}
			return describeModel(out, registry, args[0])
		},
	}
}

func listModels(out io.Writer, registry *rest.Registry) {
	table := ui.NewTable(out, color.NoColor, "TYPE", "MODEL", "ID", "RELATIONSHIPS")
	for _, typ := range registry.Types() {
		info, _ := registry.Lookup(typ)
		table.AddRow(typ, info.Model.Name, info.IDField.Name+" ("+info.IDField.Type.String()+")", strings.Join(relationshipNames(info), ", "))
	}
	table.Render()

	skipped := registry.Skipped()
	if len(skipped) == 0 {
		return
	}
	fmt.Fprintln(out)
	names := make([]string, 0, len(skipped))
	for typ := range skipped {
		names = append(names, typ)
	}
	sort.Strings(names)
	for _, typ := range names {
		ui.WriteWarning(out, color.NoColor, "%s is not exposed: %v", typ, skipped[typ])
	}
}

func describeModel(out io.Writer, registry *rest.Registry, typ string) error {
	info, err := registry.Lookup(typ)
	if err != nil {
		ui.WriteProblem(out, ui.Problem{
			Context:     "type not found",
			Message:     fmt.Sprintf("Cannot find resource type %q: %v", typ, err),
			Suggestions: ui.Suggest(typ, registry.Types()),
			Hints:       []string{"restful models"},
		}, color.NoColor)
		return fmt.Errorf("unknown resource type %q", typ)
	}

	ui.KeyValues(out, color.NoColor,
		[2]string{"Type", info.Type},
		[2]string{"Model", info.Model.Name},
		[2]string{"Table", info.Model.TableName()},
		[2]string{"ID", info.IDField.Name},
	)
	fmt.Fprintln(out)

	fields := ui.NewTable(out, color.NoColor, "ATTRIBUTE", "TYPE", "FLAGS")
	for _, f := range info.Model.ScalarFields() {
		typeName := f.Type.String()
		if f.Array {
			typeName += "[]"
		}
		fields.AddRow(f.Name, typeName, strings.Join(fieldFlags(f), ", "))
	}
	fields.Render()

	if len(info.Relationships) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	rels := ui.NewTable(out, color.NoColor, "RELATIONSHIP", "TARGET", "CARDINALITY")
	for _, name := range relationshipNames(info) {
		rel := info.Relationships[name]
		cardinality := "to-one"
		if rel.IsCollection {
			cardinality = "to-many"
		} else if rel.IsOptional {
			cardinality = "to-one, optional"
		}
		rels.AddRow(name, rel.Type, cardinality)
	}
	rels.Render()
	return nil
}

func relationshipNames(info *rest.ModelInfo) []string {
	names := make([]string, 0, len(info.Relationships))
	for name := range info.Relationships {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func fieldFlags(f *schema.Field) []string {
	var flags []string
	if f.ID {
		flags = append(flags, "id")
	}
	if f.Optional {
		flags = append(flags, "optional")
	}
	if f.Unique {
		flags = append(flags, "unique")
	}
	if f.Default != "" {
		flags = append(flags, "default "+f.Default)
	}
	if f.Validate != "" {
		flags = append(flags, "validate "+f.Validate)
	}
	return flags
}

package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/restful/internal/cli/config"
	"github.com/conduit-lang/restful/internal/cli/ui"
)

// exampleSchema is written by init when no schema exists yet
const exampleSchema = `# Models served by restful. See "restful models" for the resulting API.
models:
  - name: User
    fields:
      - {name: id, type: int, id: true, default: autoincrement}
      - {name: email, type: string, unique: true, validate: email}
      - {name: name, type: string, optional: true}
      - {name: posts, model: Post, array: true, back_link: author}
  - name: Post
    fields:
      - {name: id, type: int, id: true, default: autoincrement}
      - {name: title, type: string, validate: "min=1"}
      - {name: published, type: bool, default: "false"}
      - {name: createdAt, type: timestamp, default: now}
      - {name: authorId, type: int, optional: true}
      - {name: author, model: User, foreign_key: authorId, optional: true}
`

var defaultDatabaseURLs = map[string]string{
	"sqlite3":  "file:restful.db?_foreign_keys=on",
	"postgres": "postgres://localhost:5432/restful?sslmode=disable",
	"pgx":      "postgres://localhost:5432/restful?sslmode=disable",
}

type initAnswers struct {
	SchemaPath  string
	Driver      string
	DatabaseURL string
	Port        string
	Cache       string
	WriteSchema bool
}

// NewInitCommand creates the init command
func NewInitCommand(opts *globalOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create " + config.FileName + " and an example schema",
		Long: `Ask for the schema location, store and cache settings, then write them to
` + config.FileName + `. With --yes the defaults are used without prompting.
Existing files are never replaced.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := opts.configPath
			if target == "" {
				target = config.FileName
			}
			if _, err := os.Stat(target); err == nil {
				return fmt.Errorf("%s already exists", target)
			}

			answers := defaultAnswers()
			if !yes {
				if err := askInit(&answers); err != nil {
					return err
				}
			}

			cfg, err := answers.config()
			if err != nil {
				return err
			}
			if err := config.Write(target, cfg); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			ui.WriteSuccess(out, color.NoColor, "wrote %s", target)

			schemaPath := cfg.Schema.Path
			if !filepath.IsAbs(schemaPath) {
				schemaPath = filepath.Join(filepath.Dir(target), schemaPath)
			}
			if _, err := os.Stat(schemaPath); errors.Is(err, os.ErrNotExist) {
				if !answers.WriteSchema {
					ui.WriteWarning(out, color.NoColor, "%s does not exist yet", cfg.Schema.Path)
					return nil
				}
				if err := os.WriteFile(schemaPath, []byte(exampleSchema), 0o644); err != nil {
					return fmt.Errorf("failed to write example schema: %w", err)
				}
				ui.WriteSuccess(out, color.NoColor, "wrote example schema %s", cfg.Schema.Path)
			}
			fmt.Fprintln(out, "\nNext: restful models, then restful serve")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "accept the defaults without prompting")
	return cmd
}

func defaultAnswers() initAnswers {
	cfg := config.Default()
	return initAnswers{
		SchemaPath:  cfg.Schema.Path,
		Driver:      cfg.Database.Driver,
		Port:        strconv.Itoa(cfg.Server.Port),
		Cache:       cfg.Cache.Backend,
		WriteSchema: true,
	}
}

func askInit(a *initAnswers) error {
	questions := []*survey.Question{
		{
			Name:     "SchemaPath",
			Prompt:   &survey.Input{Message: "Schema file:", Default: a.SchemaPath},
			Validate: survey.Required,
		},
		{
			Name: "Driver",
			Prompt: &survey.Select{
				Message: "Store:",
				Options: []string{"memory", "sqlite3", "postgres", "pgx"},
				Default: a.Driver,
				Description: func(value string, index int) string {
					switch value {
					case "memory":
						return "in-process, lost on restart"
					case "pgx":
						return "PostgreSQL through pgx"
					case "postgres":
						return "PostgreSQL through lib/pq"
					}
					return ""
				},
			},
		},
		{
			Name:     "Port",
			Prompt:   &survey.Input{Message: "Port:", Default: a.Port},
			Validate: validatePort,
		},
		{
			Name: "Cache",
			Prompt: &survey.Select{
				Message: "Response cache:",
				Options: []string{"none", "memory", "redis"},
				Default: a.Cache,
			},
		},
	}
	if err := survey.Ask(questions, a); err != nil {
		return err
	}

	if a.Driver != "memory" {
		prompt := &survey.Input{Message: "Database URL:", Default: defaultDatabaseURLs[a.Driver]}
		if err := survey.AskOne(prompt, &a.DatabaseURL, survey.WithValidator(survey.Required)); err != nil {
			return err
		}
	}

	if _, err := os.Stat(a.SchemaPath); errors.Is(err, os.ErrNotExist) {
		prompt := &survey.Confirm{Message: "Write an example schema to " + a.SchemaPath + "?", Default: true}
		if err := survey.AskOne(prompt, &a.WriteSchema); err != nil {
			return err
		}
	}
	return nil
}

func validatePort(ans interface{}) error {
	s, _ := ans.(string)
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("%q is not a valid port", s)
	}
	return nil
}

func (a initAnswers) config() (*config.Config, error) {
	cfg := config.Default()
	cfg.Schema.Path = a.SchemaPath
	cfg.Database.Driver = a.Driver
	cfg.Database.URL = a.DatabaseURL
	cfg.Database.Migrate = a.Driver != "memory"
	cfg.Cache.Backend = a.Cache

	port, err := strconv.Atoi(a.Port)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q", a.Port)
	}
	cfg.Server.Port = port
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

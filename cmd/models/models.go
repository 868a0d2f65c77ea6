// Package models implements the models command group, which manages the
// local model repository.
package models

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/c43892/storyteller/internal/conf"
	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/httpclient"
	"github.com/c43892/storyteller/internal/modelrepo"
	"github.com/c43892/storyteller/internal/pipeline"
)

// Command creates the models command and its subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage installed language models",
	}

	cmd.AddCommand(
		listCommand(settings),
		installCommand(settings),
		downloadCommand(settings),
		addCommand(settings),
		removeCommand(settings),
		renameCommand(settings),
		tagCommand(settings),
	)
	return cmd
}

func openRepository(settings *conf.Settings) (*modelrepo.Repository, error) {
	return pipeline.OpenRepository(settings, nil)
}

func listCommand(settings *conf.Settings) *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository(settings)
			if err != nil {
				return err
			}
			if asYAML {
				out, err := yaml.Marshal(repo.Models())
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			}
			return printTable(cmd.OutOrStdout(), repo.Models())
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Print models as YAML")
	return cmd
}

func printTable(w io.Writer, list []modelrepo.ModelInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tLANGUAGE\tPATH")
	for _, m := range list {
		lang := "-"
		if tag, err := modelrepo.ParseModelTag(m.Tag); err == nil {
			lang = tag.Language.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.Name, lang, m.Path)
	}
	return tw.Flush()
}

func installCommand(settings *conf.Settings) *cobra.Command {
	var entry string
	cmd := &cobra.Command{
		Use:   "install <archive.zip>",
		Short: "Install a model from a zip archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository(settings)
			if err != nil {
				return err
			}
			src, err := modelrepo.NewZipSource(afero.NewOsFs(), args[0], entry)
			if err != nil {
				return err
			}
			info, err := repo.InstallModel(cmd.Context(), src)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Installed %s (%s) at %s\n", info.Name, info.ID, info.Path)
			return nil
		},
	}
	cmd.Flags().StringVar(&entry, "entry", "", "Directory inside the archive holding the model")
	return cmd
}

func downloadCommand(settings *conf.Settings) *cobra.Command {
	var entry string
	cmd := &cobra.Command{
		Use:   "download <url>",
		Short: "Download and install a zipped model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository(settings)
			if err != nil {
				return err
			}

			cfg := httpclient.DefaultConfig()
			cfg.DefaultTimeout = settings.Download.Timeout
			cfg.UserAgent = settings.Download.UserAgent
			client := httpclient.New(&cfg)
			defer client.Close()

			src, err := modelrepo.NewHTTPSource(client, args[0], entry)
			if err != nil {
				return err
			}
			info, err := repo.InstallModel(cmd.Context(), src)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Installed %s (%s) at %s\n", info.Name, info.ID, info.Path)
			return nil
		},
	}
	cmd.Flags().StringVar(&entry, "entry", "", "Directory inside the archive holding the model")
	return cmd
}

func addCommand(settings *conf.Settings) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "add <dir>",
		Short: "Register an existing model directory in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository(settings)
			if err != nil {
				return err
			}
			info, err := repo.AddExistingModel(args[0], name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", info.Name, info.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name, defaults to the directory name")
	return cmd
}

func removeCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Forget a model, leaving its files on disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository(settings)
			if err != nil {
				return err
			}
			return repo.Remove(args[0])
		},
	}
}

func renameCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename a model",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository(settings)
			if err != nil {
				return err
			}
			return repo.SetName(args[0], args[1])
		},
	}
}

func tagCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "tag <id> <language>",
		Short: "Tag a model with its language",
		Long:  "Tag a model with its language and the current modification time of its directory.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lang, err := language.Parse(args[1])
			if err != nil {
				return errors.New(err).
					Component("cli").
					Category(errors.CategoryInvalidArgument).
					Context("language", args[1]).
					Build()
			}

			repo, err := openRepository(settings)
			if err != nil {
				return err
			}
			info, err := repo.Get(args[0])
			if err != nil {
				return err
			}
			stat, err := afero.NewOsFs().Stat(info.Path)
			if err != nil {
				return errors.New(err).
					Component("cli").
					Category(errors.CategoryNotFound).
					FileContext(info.Path, "stat_model").
					Build()
			}
			return repo.SetTag(info.ID, modelrepo.NewModelTag(lang, stat.ModTime()).String())
		},
	}
}

package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/feedback-cli/internal/catalog"
	"github.com/sells-group/feedback-cli/internal/model"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect and edit the tag catalog",
	Long:  "Every change to the enabled catalog changes its signature, so cached classifications are not reused afterwards.",
}

// -- catalog list --

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog tags",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "maintenance")
		if err != nil {
			return err
		}
		defer env.Close()

		cat, err := env.Pipeline.Catalog(ctx)
		if err != nil {
			return err
		}
		formatCatalog(os.Stdout, cat.Entries())
		fmt.Fprintf(os.Stderr, "signature %s\n", cat.Signature())
		return nil
	},
}

// -- catalog pending --

var catalogPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List tags proposed by the oracle that are not in the catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "maintenance")
		if err != nil {
			return err
		}
		defer env.Close()

		pending, err := env.Store.ListPending(ctx)
		if err != nil {
			return eris.Wrap(err, "catalog pending")
		}
		if len(pending) == 0 {
			fmt.Fprintln(os.Stderr, "No pending tags.")
			return nil
		}
		formatPending(os.Stdout, pending)
		return nil
	},
}

// -- catalog promote --

var catalogPromoteCmd = &cobra.Command{
	Use:   "promote <tag>",
	Short: "Add a pending tag to the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		category, _ := cmd.Flags().GetString("category")
		synonyms, _ := cmd.Flags().GetString("synonyms")
		if !model.Category(category).Valid() {
			return eris.Errorf("catalog promote: --category must be one of %s", categoryList())
		}

		env, err := initEnv(ctx, "maintenance")
		if err != nil {
			return err
		}
		defer env.Close()

		entry, err := env.Pipeline.Promote(ctx, args[0], model.Category(category), model.SplitSynonyms(synonyms))
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Promoted %s (%s).\n", entry.Tag, entry.Category)
		return nil
	},
}

// -- catalog enable / disable --

func toggleCmd(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <tag>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			env, err := initEnv(ctx, "maintenance")
			if err != nil {
				return err
			}
			defer env.Close()

			return env.Pipeline.SetEnabled(ctx, args[0], enabled)
		},
	}
}

var (
	catalogDisableCmd = toggleCmd("disable", "Stop using a catalog tag", false)
	catalogEnableCmd  = toggleCmd("enable", "Use a disabled catalog tag again", true)
)

// -- catalog import / export --

var catalogImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Add or update catalog tags from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		entries, err := catalog.LoadYAML(args[0])
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "maintenance")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Pipeline.Import(ctx, entries); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Imported %d tags.\n", len(entries))
		return nil
	},
}

var catalogExportCmd = &cobra.Command{
	Use:   "export [file.yaml]",
	Short: "Write the catalog as YAML to a file or stdout",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "maintenance")
		if err != nil {
			return err
		}
		defer env.Close()

		cat, err := env.Pipeline.Catalog(ctx)
		if err != nil {
			return err
		}

		if len(args) == 0 {
			return catalog.WriteYAML(os.Stdout, cat.Entries())
		}
		f, err := os.Create(args[0])
		if err != nil {
			return eris.Wrap(err, "catalog export: create file")
		}
		defer f.Close() //nolint:errcheck
		return catalog.WriteYAML(f, cat.Entries())
	},
}

func init() {
	catalogPromoteCmd.Flags().String("category", "", "category of the new tag ("+categoryList()+")")
	catalogPromoteCmd.Flags().String("synonyms", "", "pipe-separated synonyms, e.g. \"cola|fila\"")

	catalogCmd.AddCommand(
		catalogListCmd,
		catalogPendingCmd,
		catalogPromoteCmd,
		catalogDisableCmd,
		catalogEnableCmd,
		catalogImportCmd,
		catalogExportCmd,
	)
	rootCmd.AddCommand(catalogCmd)
}

func categoryList() string {
	names := make([]string, 0, 5)
	for _, c := range model.AllCategories() {
		names = append(names, string(c))
	}
	return strings.Join(names, "|")
}

// formatCatalog writes a tabular view of catalog entries to w.
func formatCatalog(out io.Writer, entries []model.CatalogEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TAG\tCATEGORY\tENABLED\tSYNONYMS")
	_, _ = fmt.Fprintln(w, "---\t--------\t-------\t--------")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", e.Tag, e.Category, e.Enabled, e.SynonymString())
	}
	_ = w.Flush()
}

// formatPending writes a tabular view of pending tags to w.
func formatPending(out io.Writer, pending []model.PendingTag) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TAG\tFIRST SEEN\tEXAMPLE")
	_, _ = fmt.Fprintln(w, "---\t----------\t-------")
	for _, p := range pending {
		example := strings.ReplaceAll(p.ExampleText, "\n", " ")
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", p.Tag, p.FirstSeenAt.Format(time.DateTime), example)
	}
	_ = w.Flush()
}

package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all tag events, the processed index, pending tags and the cache",
	Long:  "Clears every store except the catalog. The next run reclassifies the whole dataset. This cannot be undone.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return eris.New("reset is irreversible; pass --yes to confirm")
		}

		env, err := initEnv(ctx, "maintenance")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Pipeline.Reset(ctx); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Tag state cleared.")
		return nil
	},
}

var requeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Forget rows so the next run classifies them again",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if fb, _ := cmd.Flags().GetBool("fallback"); !fb {
			return eris.New("nothing selected; pass --fallback to requeue rows classified by the keyword matcher")
		}

		env, err := initEnv(ctx, "maintenance")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Pipeline.Requeue(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Requeued %d rows.\n", n)
		return nil
	},
}

func init() {
	resetCmd.Flags().Bool("yes", false, "confirm the reset")
	requeueCmd.Flags().Bool("fallback", false, "requeue rows whose last classification used the fallback matcher")
	rootCmd.AddCommand(resetCmd, requeueCmd)
}

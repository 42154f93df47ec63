package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"stamp-cli/internal/prompt"
	"stamp-cli/internal/usecase"
)

func claimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Make and list identity claims",
	}
	cmd.AddCommand(claimNewCmd())
	cmd.AddCommand(claimListCmd())
	return cmd
}

// claimNewCmd は主張の追加コマンド。
func claimNewCmd() *cobra.Command {
	var private bool
	var p usecase.Proposal
	cmd := &cobra.Command{
		Use:   "new <name> <value>",
		Short: "Add a claim to the identity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := application
			ident, err := a.currentIdentity(cmd.Context())
			if err != nil {
				return err
			}
			result, err := a.identities.MakeClaim(cmd.Context(), ident.ID, args[0], args[1], private, a.unlocker(), p)
			proposalAudit(cmd, "MAKE_CLAIM", string(ident.ID), result, err)
			if err != nil {
				return err
			}
			return printProposal(result)
		},
	}
	cmd.Flags().BoolVar(&private, "private", false, "Seal the claim value with the master key")
	proposalFlags(cmd, &p)
	return cmd
}

// claimListCmd は主張一覧コマンド。非公開の値は表示しない。
func claimListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the claims of the identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ident, err := application.currentIdentity(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(ident.Claims)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tVALUE")
			for _, c := range ident.Claims {
				value := c.Value
				if c.Private != nil {
					value = prompt.RenderMuted("(private)")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID.Short(), c.Name, value)
			}
			return w.Flush()
		},
	}
}

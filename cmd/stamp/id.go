package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"stamp-cli/internal/middleware"
	"stamp-cli/internal/usecase"
)

func idCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "id",
		Short: "Create and list identities",
	}
	cmd.AddCommand(idNewCmd())
	cmd.AddCommand(idListCmd())
	return cmd
}

// idNewCmd はアイデンティティの作成コマンド。
func idNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Create a new identity protected by a passphrase",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a := application

			ident, err := a.identities.Create(ctx, a.passphrase.WithConfirm())
			if err != nil {
				middleware.WriteAuditLog(ctx, "CREATE_IDENTITY", "", "", middleware.ResultFailed)
				return err
			}
			middleware.WriteAuditLog(ctx, "CREATE_IDENTITY", string(ident.ID), string(ident.ID), middleware.ResultSuccess)

			if jsonOutput() {
				return printJSON(map[string]interface{}{"id": ident.ID, "created": ident.Created})
			}
			fmt.Printf("Created identity %s\n", ident.ID)
			return nil
		},
	}
}

// idListCmd はアイデンティティ一覧コマンド。
func idListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List identities",
		RunE: func(cmd *cobra.Command, args []string) error {
			idents, err := application.identities.List(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput() {
				type item struct {
					ID      string    `json:"id"`
					Created time.Time `json:"created"`
					Keys    int       `json:"keys"`
					Claims  int       `json:"claims"`
				}
				items := make([]item, len(idents))
				for i, ident := range idents {
					items[i] = item{ID: string(ident.ID), Created: ident.Created, Keys: len(ident.Keychain), Claims: len(ident.Claims)}
				}
				return printJSON(items)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tKEYS\tCLAIMS")
			for _, ident := range idents {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", ident.ID, ident.Created.Format(time.RFC3339), len(ident.Keychain), len(ident.Claims))
			}
			return w.Flush()
		},
	}
}

// proposalFlags は変更系コマンドに共通の --stage と --sign-with を登録する。
func proposalFlags(cmd *cobra.Command, p *usecase.Proposal) {
	cmd.Flags().BoolVar(&p.Stage, "stage", false, "Stage the transaction instead of applying it")
	cmd.Flags().StringVar(&p.SignWith, "sign-with", "", "Name or ID prefix of the key to sign with")
}

// printProposal は提案結果を表示する。
func printProposal(r *usecase.ProposalResult) error {
	if jsonOutput() {
		return printJSON(r)
	}
	switch {
	case r.Applied:
		fmt.Printf("Applied %s %s\n", r.Kind, r.ID)
	case r.Ready:
		fmt.Printf("Staged %s %s (ready, run `stamp stage apply %s`)\n", r.Kind, r.ID, r.ID.Short())
	default:
		fmt.Printf("Staged %s %s (needs more signatures, run `stamp stage sign %s`)\n", r.Kind, r.ID, r.ID.Short())
	}
	return nil
}

// proposalAudit は提案結果の監査ログを出力する。
func proposalAudit(cmd *cobra.Command, operation, identityID string, r *usecase.ProposalResult, err error) {
	txID := ""
	if r != nil {
		txID = string(r.ID)
		if r.Staged {
			operation = "STAGE"
		}
	}
	middleware.WriteAuditLog(cmd.Context(), operation, identityID, txID, middleware.Result(err))
}

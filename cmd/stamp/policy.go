package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"stamp-cli/internal/domain"
	"stamp-cli/internal/usecase"
)

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage the signing policy of an identity",
	}
	cmd.AddCommand(policySetCmd())
	return cmd
}

// policySetCmd は署名ポリシーの設定コマンド。
func policySetCmd() *cobra.Command {
	var thresholdCount int
	var keys, kinds []string
	var p usecase.Proposal
	cmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Replace the signing policy with an M-of-keys policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(keys) == 0 {
				return fmt.Errorf("at least one --key is required")
			}
			if thresholdCount < 1 || thresholdCount > len(keys) {
				return fmt.Errorf("--threshold must be between 1 and %d", len(keys))
			}
			policy := domain.Policy{Name: args[0], Threshold: thresholdCount}
			for _, k := range kinds {
				policy.Kinds = append(policy.Kinds, domain.TransactionKind(k))
			}

			a := application
			ident, err := a.currentIdentity(cmd.Context())
			if err != nil {
				return err
			}
			result, err := a.identities.SetPolicy(cmd.Context(), ident.ID, policy, keys, a.unlocker(), p)
			proposalAudit(cmd, "SET_POLICY", string(ident.ID), result, err)
			if err != nil {
				return err
			}
			return printProposal(result)
		},
	}
	cmd.Flags().IntVar(&thresholdCount, "threshold", 1, "Number of distinct key signatures required")
	cmd.Flags().StringSliceVar(&keys, "key", nil, "Key name or ID prefix allowed to sign (repeatable)")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "Transaction kinds the policy covers (default: all)")
	proposalFlags(cmd, &p)
	return cmd
}

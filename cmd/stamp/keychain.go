package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"stamp-cli/internal/domain"
	"stamp-cli/internal/middleware"
	"stamp-cli/internal/prompt"
	"stamp-cli/internal/threshold"
	"stamp-cli/internal/usecase"
)

func keychainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keychain",
		Short: "Manage the keys of an identity",
	}
	cmd.AddCommand(keychainNewCmd())
	cmd.AddCommand(keychainListCmd())
	cmd.AddCommand(keychainRevokeCmd())
	cmd.AddCommand(keychainDeleteCmd())
	cmd.AddCommand(keychainKeyfileCmd())
	cmd.AddCommand(keychainPasswdCmd())
	return cmd
}

// keychainNewCmd は鍵の追加コマンド。
func keychainNewCmd() *cobra.Command {
	var keyType, description string
	var p usecase.Proposal
	cmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Generate a new key and add it to the keychain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			capability, err := domain.ParseCapability(keyType)
			if err != nil {
				return err
			}
			a := application
			ident, err := a.currentIdentity(cmd.Context())
			if err != nil {
				return err
			}
			result, err := a.identities.AddKey(cmd.Context(), ident.ID, capability, args[0], description, a.unlocker(), p)
			proposalAudit(cmd, "ADD_KEY", string(ident.ID), result, err)
			if err != nil {
				return err
			}
			return printProposal(result)
		},
	}
	cmd.Flags().StringVar(&keyType, "type", string(domain.CapabilitySign), "Key type: "+capabilityNames())
	cmd.Flags().StringVar(&description, "desc", "", "Key description")
	proposalFlags(cmd, &p)
	return cmd
}

func capabilityNames() string {
	names := make([]string, len(domain.Capabilities))
	for i, c := range domain.Capabilities {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

// keychainListCmd は鍵一覧コマンド。
func keychainListCmd() *cobra.Command {
	var keyType string
	var revoked bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the keys in the keychain",
		RunE: func(cmd *cobra.Command, args []string) error {
			var capability domain.Capability
			if keyType != "" {
				c, err := domain.ParseCapability(keyType)
				if err != nil {
					return err
				}
				capability = c
			}
			ident, err := application.currentIdentity(cmd.Context())
			if err != nil {
				return err
			}
			keys, err := application.identities.Keys(cmd.Context(), ident.ID, capability, revoked)
			if err != nil {
				return err
			}

			if jsonOutput() {
				return printJSON(keys)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tID\tSTATUS\tDESCRIPTION")
			for _, k := range keys {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", k.Name, k.Capability, k.ID, keyStatus(k), k.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&keyType, "type", "", "Only list keys of this type")
	cmd.Flags().BoolVar(&revoked, "revoked", false, "Include revoked keys")
	return cmd
}

func keyStatus(k domain.Subkey) string {
	switch {
	case k.Revoked:
		return "revoked"
	case !k.HasPrivate():
		return "reference"
	default:
		return "full"
	}
}

// keychainRevokeCmd は鍵の失効コマンド。
func keychainRevokeCmd() *cobra.Command {
	var reason string
	var p usecase.Proposal
	cmd := &cobra.Command{
		Use:   "revoke <key>",
		Short: "Revoke a key by name or ID prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := application
			ident, err := a.currentIdentity(cmd.Context())
			if err != nil {
				return err
			}
			result, err := a.identities.RevokeKey(cmd.Context(), ident.ID, args[0], reason, a.unlocker(), p)
			proposalAudit(cmd, "REVOKE_KEY", string(ident.ID), result, err)
			if err != nil {
				return err
			}
			return printProposal(result)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "unspecified", "Revocation reason")
	proposalFlags(cmd, &p)
	return cmd
}

// keychainDeleteCmd は鍵の削除コマンド。
func keychainDeleteCmd() *cobra.Command {
	var p usecase.Proposal
	cmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a key from the keychain by name or ID prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := application
			ident, err := a.currentIdentity(cmd.Context())
			if err != nil {
				return err
			}
			result, err := a.identities.DeleteKey(cmd.Context(), ident.ID, args[0], a.unlocker(), p)
			proposalAudit(cmd, "DELETE_KEY", string(ident.ID), result, err)
			if err != nil {
				return err
			}
			return printProposal(result)
		},
	}
	proposalFlags(cmd, &p)
	return cmd
}

// keychainKeyfileCmd はマスター鍵の分散バックアップコマンド。
func keychainKeyfileCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keyfile <M/N>",
		Short: "Split the master key into N shares, any M of which recover it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a := application
			ident, err := a.currentIdentity(ctx)
			if err != nil {
				return err
			}
			lines, err := a.recovery.Keyfile(ctx, ident.ID, args[0], a.unlocker())
			middleware.WriteAuditLog(ctx, "KEYFILE", string(ident.ID), "", middleware.Result(err))
			if err != nil {
				return err
			}

			text := strings.Join(lines, "\n") + "\n"
			if out == "" {
				fmt.Print(text)
				return nil
			}
			if err := os.WriteFile(out, []byte(text), 0o600); err != nil {
				return fmt.Errorf("failed to write keyfile: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Wrote %d shares to %s\n", len(lines), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Write the shares to this file instead of stdout")
	return cmd
}

// keychainPasswdCmd はパスフレーズの変更コマンド。
// シェアを引数または --keyfile で渡した場合は現在のパスフレーズの代わりにシェアから復元する。
func keychainPasswdCmd() *cobra.Command {
	var keyfile string
	cmd := &cobra.Command{
		Use:   "passwd [share...]",
		Short: "Change the master passphrase, optionally recovering with keyfile shares",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a := application
			ident, err := a.currentIdentity(ctx)
			if err != nil {
				return err
			}

			current := a.unlocker()
			shares, err := collectShares(keyfile, args)
			if err != nil {
				return err
			}
			if len(shares) > 0 {
				current = usecase.NewShareUnlocker(a.recovery, shares)
			}

			err = a.recovery.ChangePassphrase(ctx, ident.ID, current, a.passphrase.WithConfirm())
			middleware.WriteAuditLog(ctx, "PASSWD", string(ident.ID), "", middleware.Result(err))
			if err != nil {
				return err
			}
			fmt.Println(prompt.RenderAccent("Passphrase changed for " + ident.ID.Short()))
			return nil
		},
	}
	cmd.Flags().StringVar(&keyfile, "keyfile", "", "File with one base64 share per line (use - for stdin)")
	return cmd
}

// collectShares は --keyfile のシェアと引数のシェアをまとめる。どちらも無ければ nil を返す。
func collectShares(keyfile string, args []string) ([]domain.Share, error) {
	var shares []domain.Share
	if keyfile != "" {
		fromFile, err := readShares(keyfile)
		if err != nil {
			return nil, err
		}
		shares = append(shares, fromFile...)
	}
	for i, arg := range args {
		share, err := threshold.DecodeShare(arg)
		if err != nil {
			return nil, fmt.Errorf("share argument %d: %w", i+1, err)
		}
		shares = append(shares, share)
	}
	return shares, nil
}

func readShares(path string) ([]domain.Share, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(os.Stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keyfile: %w", err)
	}
	return threshold.DecodeShares(string(b))
}

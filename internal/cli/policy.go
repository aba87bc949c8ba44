// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-frostsigner.
//
// go-frostsigner is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-frostsigner/pkg/policy"
	"github.com/jeremyhahn/go-frostsigner/pkg/types"
)

var (
	policyHost  string
	policyKinds []int
)

// policyCmd manages remembered decisions in the daemon's storage
var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage remembered site decisions",
	Long: `Inspect and edit the policy table in the daemon's persistent storage.
Changes are picked up by a running daemon on its next lookup.`,
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List policies",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		withPolicies(cmd.Context(), func(store *policy.Store, printer *Printer) error {
			var (
				list []policy.Policy
				err  error
			)
			if policyHost != "" {
				list, err = store.ListHost(policyHost)
			} else {
				list, err = store.List()
			}
			if err != nil {
				return err
			}
			return printer.PrintPolicies(list)
		})
	},
}

var policySetCmd = &cobra.Command{
	Use:   "set <host> <operation> <allow|deny>",
	Short: "Remember a decision for a host",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		op, accept, err := parseTriple(args[1], args[2])
		if err != nil {
			handleError(err)
		}
		var conditions *policy.Conditions
		if len(policyKinds) > 0 {
			conditions = &policy.Conditions{Kinds: policyKinds}
		}
		withPolicies(cmd.Context(), func(store *policy.Store, printer *Printer) error {
			if err := store.Upsert(args[0], op, accept, conditions); err != nil {
				return err
			}
			return printer.PrintSuccess(fmt.Sprintf("%s %s for %s", decision(accept), op, args[0]))
		})
	},
}

var policyRevokeCmd = &cobra.Command{
	Use:   "revoke <host> <operation> <allow|deny>",
	Short: "Revoke one policy",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		op, accept, err := parseTriple(args[1], args[2])
		if err != nil {
			handleError(err)
		}
		withPolicies(cmd.Context(), func(store *policy.Store, printer *Printer) error {
			if err := store.Revoke(args[0], op, accept); err != nil {
				return err
			}
			return printer.PrintSuccess(fmt.Sprintf("Revoked %s %s for %s", decision(accept), op, args[0]))
		})
	},
}

var policyRevokeHostCmd = &cobra.Command{
	Use:   "revoke-host <host>",
	Short: "Revoke every policy for a host",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withPolicies(cmd.Context(), func(store *policy.Store, printer *Printer) error {
			n, err := store.RevokeHost(args[0])
			if err != nil {
				return err
			}
			return printer.PrintSuccess(fmt.Sprintf("Revoked %d policies for %s", n, args[0]))
		})
	},
}

func init() {
	policyListCmd.Flags().StringVar(&policyHost, "host", "", "only list policies for this host")
	policySetCmd.Flags().IntSliceVar(&policyKinds, "kinds", nil, "restrict signEvent policies to these event kinds")

	policyCmd.AddCommand(policyListCmd)
	policyCmd.AddCommand(policySetCmd)
	policyCmd.AddCommand(policyRevokeCmd)
	policyCmd.AddCommand(policyRevokeHostCmd)
}

// withPolicies opens the store, runs fn and closes the storage.
func withPolicies(ctx context.Context, fn func(store *policy.Store, printer *Printer) error) {
	if ctx == nil {
		ctx = context.Background()
	}
	store, backend, err := getConfig().OpenPolicies(ctx)
	if err != nil {
		handleError(err)
	}
	err = fn(store, NewPrinter(getConfig().OutputFormat, os.Stdout))
	_ = backend.Close()
	if err != nil {
		handleError(err)
	}
}

// parseTriple validates an operation name and an allow/deny decision.
func parseTriple(operation, decision string) (types.Operation, bool, error) {
	op := types.Operation(operation)
	known := false
	for _, o := range types.Operations() {
		if o == op {
			known = true
			break
		}
	}
	if !known {
		return "", false, fmt.Errorf("%w: %s", types.ErrUnknownOperation, operation)
	}

	switch strings.ToLower(decision) {
	case "allow", "accept":
		return op, true, nil
	case "deny", "reject":
		return op, false, nil
	}
	accept, err := strconv.ParseBool(decision)
	if err != nil {
		return "", false, fmt.Errorf("decision must be allow or deny, got %q", decision)
	}
	return op, accept, nil
}

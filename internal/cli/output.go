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
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jeremyhahn/go-frostsigner/pkg/policy"
	"github.com/jeremyhahn/go-frostsigner/pkg/wallet"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText  OutputFormat = "text"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatTable OutputFormat = "table"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// PrintPolicies prints the policy table
func (p *Printer) PrintPolicies(policies []policy.Policy) error {
	switch p.format {
	case OutputFormatJSON:
		if policies == nil {
			policies = []policy.Policy{}
		}
		return p.printJSON(map[string]any{
			"policies": policies,
		})
	case OutputFormatTable:
		if len(policies) == 0 {
			fmt.Fprintln(p.writer, "No policies found")
			return nil
		}
		fmt.Fprintf(p.writer, "%-30s %-20s %-8s %-15s %-20s\n", "HOST", "OPERATION", "DECISION", "KINDS", "CREATED")
		fmt.Fprintln(p.writer, strings.Repeat("-", 97))
		for _, pol := range policies {
			fmt.Fprintf(p.writer, "%-30s %-20s %-8s %-15s %-20s\n",
				pol.Host, pol.Operation, decision(pol.Accept), kinds(pol.Conditions), created(pol.CreatedAt))
		}
		return nil
	case OutputFormatText:
		if len(policies) == 0 {
			fmt.Fprintln(p.writer, "No policies found")
			return nil
		}
		fmt.Fprintln(p.writer, "Policies:")
		for _, pol := range policies {
			fmt.Fprintf(p.writer, "  - %s %s %s (kinds: %s)\n", pol.Host, decision(pol.Accept), pol.Operation, kinds(pol.Conditions))
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintAccount prints the signer's public key and Taproot account
func (p *Printer) PrintAccount(pubkey string, account *wallet.Account) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"pubkey":  pubkey,
			"account": account,
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "Public key:    %s\n", pubkey)
		fmt.Fprintf(p.writer, "Network:       %s\n", account.Network)
		fmt.Fprintf(p.writer, "Address:       %s\n", account.Address)
		fmt.Fprintf(p.writer, "Output key:    %s\n", account.OutputKey)
		fmt.Fprintf(p.writer, "Script pubkey: %s\n", account.PkScript)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintToken prints an issued bearer token
func (p *Printer) PrintToken(subject, token string, ttl time.Duration) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"subject":    subject,
			"token":      token,
			"expires_in": int64(ttl.Seconds()),
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintln(p.writer, token)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"status":  "success",
			"message": message,
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"status": "error",
			"error":  err.Error(),
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

func (p *Printer) printJSON(data any) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func decision(accept bool) string {
	if accept {
		return "allow"
	}
	return "deny"
}

func kinds(c *policy.Conditions) string {
	if c.MatchesAll() {
		return "all"
	}
	parts := make([]string, len(c.Kinds))
	for i, k := range c.Kinds {
		parts[i] = fmt.Sprint(k)
	}
	return strings.Join(parts, ",")
}

func created(unix int64) string {
	if unix == 0 {
		return "-"
	}
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}

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
	"os"
	"time"

	"github.com/spf13/cobra"
)

var tokenTTL time.Duration

// tokenCmd issues a bearer token for the approval UI
var tokenCmd = &cobra.Command{
	Use:   "token [subject]",
	Short: "Issue a JWT for the prompt and policy API",
	Long: `Issue an HS256 token signed with auth.jwt.secret. The approval UI sends
it as a bearer token to the prompt, policy and settings endpoints.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		subject := "ui"
		if len(args) == 1 {
			subject = args[0]
		}

		cfg, err := getConfig().LoadDaemonConfig()
		if err != nil {
			handleError(err)
		}
		issuer, err := cfg.Auth.JWTAuthenticator()
		if err != nil {
			handleError(err)
		}

		ttl := tokenTTL
		if ttl <= 0 {
			ttl = cfg.Auth.TokenTTL()
		}
		token, err := issuer.Issue(subject, ttl)
		if err != nil {
			handleError(err)
		}
		printVerbose("Issued token for %s valid for %s", subject, ttl)
		_ = NewPrinter(getConfig().OutputFormat, os.Stdout).PrintToken(subject, token, ttl)
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default auth.jwt.ttl)")
}

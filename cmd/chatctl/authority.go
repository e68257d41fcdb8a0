package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/sales-knowledge-assistant/internal/config"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/authority"
	"github.com/kirillkom/sales-knowledge-assistant/internal/infrastructure/crm"
)

func authorityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "authority <user-id>",
		Short: "Fetch a user's CRM authority and print the derived filter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			client := crm.NewAuthorityClient(cfg.CRMAuthorityURL, crm.Options{
				Timeout: time.Duration(cfg.CRMAuthorityTimeoutSec) * time.Second,
			})
			auth, role := client.Fetch(cmd.Context(), args[0])
			return printAuthority(cmd.OutOrStdout(), args[0], role, auth)
		},
	}
}

func printAuthority(out io.Writer, userID, role string, auth *authority.Authority) error {
	fmt.Fprintf(out, "user: %s\n", userID)
	if role != "" {
		fmt.Fprintf(out, "role: %s\n", role)
	}
	if auth.IsBypass() {
		fmt.Fprintln(out, "access: unrestricted")
		return nil
	}
	if auth.IsEmpty() {
		fmt.Fprintln(out, "access: exempt records only")
	}

	stats := auth.Stats()
	types := make([]string, 0, len(stats))
	for t := range stats {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(out, "  %s: %d\n", t, stats[t])
	}

	body, err := json.MarshalIndent(auth.Filter(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode filter: %w", err)
	}
	fmt.Fprintf(out, "filter:\n%s\n", body)
	return nil
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/p4mcp/p4-mcp-server/internal/telemetry"
)

func newConsentCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:       "consent [grant|revoke|show]",
		Short:     "Record or show the usage telemetry consent",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"grant", "revoke", "show"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(path) == "" {
				path = telemetry.DefaultConsentPath()
			}
			action := "show"
			if len(args) == 1 {
				action = strings.ToLower(strings.TrimSpace(args[0]))
			}

			var (
				consent telemetry.Consent
				err     error
			)
			switch action {
			case "grant":
				consent, err = telemetry.SaveConsent(path, true)
			case "revoke":
				consent, err = telemetry.SaveConsent(path, false)
			case "show":
				consent, err = telemetry.LoadConsent(path)
			default:
				return fmt.Errorf("unknown consent action %q", action)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "telemetry_consent=%t user_id=%s path=%s\n",
				consent.TelemetryConsent, consent.UserIDOrUnknown(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Consent file (default ~/.p4mcp_telemetry_consent.json)")
	return cmd
}

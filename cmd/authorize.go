package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var authorizeCmd = &cobra.Command{
	Use:   "authorize",
	Short: "Start an OAuth 2.0 authorization for the bot account",
	Long: `Prints the provider URL for a new PKCE authorization attempt. Open it while
signed in as the bot account; "mentionbot serve" receives the callback.

With --state and --code the attempt is completed here instead, which is useful
when the callback URL is not reachable and the parameters are copied by hand.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		state, _ := cmd.Flags().GetString("state")
		code, _ := cmd.Flags().GetString("code")
		if state != "" || code != "" {
			pair, err := a.flow.Complete(cmd.Context(), state, code)
			if err != nil {
				return fmt.Errorf("complete authorization: %w", err)
			}
			return printPair(cmd.OutOrStdout(), a.client.ClientID(), pair, false)
		}

		authURL, err := a.flow.Begin(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), authURL)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(authorizeCmd)
	authorizeCmd.Flags().String("state", "", "State returned on the callback")
	authorizeCmd.Flags().String("code", "", "Authorization code returned on the callback")
}

package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/markb/mentionbot/internal/webhook"
)

var signCmd = &cobra.Command{
	Use:   "sign METHOD URL [key=value ...]",
	Short: "Print an OAuth 1.0a Authorization header",
	Long: `Signs METHOD and URL (without query string) together with the given
request parameters using the configured consumer and access credentials.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		signer, err := newSigner(cfg)
		if err != nil {
			return err
		}

		params := make(map[string]string, len(args)-2)
		for _, kv := range args[2:] {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return fmt.Errorf("parameter %q is not key=value", kv)
			}
			params[k] = v
		}

		header, err := signer.BuildAuthorizationHeader(strings.ToUpper(args[0]), args[1], params)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), header)
		return nil
	},
}

var crcCmd = &cobra.Command{
	Use:   "crc TOKEN",
	Short: "Print the webhook CRC response for TOKEN",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateWebhook(); err != nil {
			return err
		}
		digest, err := webhook.ComputeChallengeResponse(args[0], cfg.OAuth1.ConsumerSecret)
		if err != nil {
			return err
		}
		out, err := json.Marshal(map[string]string{"response_token": "sha256=" + digest})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(crcCmd)
}

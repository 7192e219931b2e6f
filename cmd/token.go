package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/markb/mentionbot/internal/tokens"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Show the stored token pair (masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		pair, err := a.manager.Current(cmd.Context())
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		return printPair(cmd.OutOrStdout(), a.client.ClientID(), pair, asJSON)
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rotate the stored token pair now",
	Long: `Redeems the stored refresh token. If another process already rotated the
pair, its result is reported instead of rotating again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		current, err := a.manager.Current(cmd.Context())
		if err != nil {
			return err
		}
		pair, err := a.manager.RefreshAccessToken(cmd.Context(), *current)
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		return printPair(cmd.OutOrStdout(), a.client.ClientID(), pair, asJSON)
	},
}

type pairView struct {
	ClientID     string `json:"client_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IssuedAt     string `json:"issued_at,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
	Version      int64  `json:"version"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// printPair writes the pair with both tokens masked.
func printPair(w io.Writer, clientID string, pair *tokens.Pair, asJSON bool) error {
	m := pair.Masked()
	v := pairView{
		ClientID:     clientID,
		AccessToken:  m.AccessToken,
		RefreshToken: m.RefreshToken,
		TokenType:    m.TokenType,
		Scope:        m.Scope,
		IssuedAt:     formatTime(m.IssuedAt),
		ExpiresAt:    formatTime(m.ExpiresAt),
		Version:      m.Version,
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "client_id\t%s\n", v.ClientID)
	fmt.Fprintf(tw, "access_token\t%s\n", v.AccessToken)
	fmt.Fprintf(tw, "refresh_token\t%s\n", v.RefreshToken)
	fmt.Fprintf(tw, "token_type\t%s\n", v.TokenType)
	fmt.Fprintf(tw, "scope\t%s\n", v.Scope)
	fmt.Fprintf(tw, "issued_at\t%s\n", v.IssuedAt)
	fmt.Fprintf(tw, "expires_at\t%s\n", v.ExpiresAt)
	fmt.Fprintf(tw, "version\t%d\n", v.Version)
	return tw.Flush()
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(refreshCmd)
	tokenCmd.Flags().Bool("json", false, "Print as JSON")
	refreshCmd.Flags().Bool("json", false, "Print as JSON")
}

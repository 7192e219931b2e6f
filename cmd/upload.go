package cmd

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/markb/mentionbot/internal/authenticator"
	"github.com/markb/mentionbot/internal/twitter"
)

var uploadCmd = &cobra.Command{
	Use:   "upload FILE",
	Short: "Upload an image through the OAuth 1.0a media endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		auth, err := newOAuth1Authenticator(cfg)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		owners, _ := cmd.Flags().GetStringSlice("owner")

		// Tweets are not created by this command, so no bearer source is needed.
		client := twitter.NewClient(auth, authenticator.StaticBearer(""))
		media, err := client.UploadMedia(cmd.Context(), base64.StdEncoding.EncodeToString(data), owners)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), media.MediaIDString)
		return nil
	},
}

var replyCmd = &cobra.Command{
	Use:   "reply TWEET_ID TEXT",
	Short: "Reply to a tweet as the bot account",
	Long: `Posts TEXT as a reply to TWEET_ID using the stored OAuth 2.0 access token,
refreshing it first when it is expired (or always, with ALWAYS_REFRESH).
With --image the file is uploaded first and attached.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		var uploadAuth authenticator.Authenticator = authenticator.StaticBearer("")
		image, _ := cmd.Flags().GetString("image")
		if image != "" {
			if uploadAuth, err = newOAuth1Authenticator(cfg); err != nil {
				return err
			}
		}
		client := twitter.NewClient(uploadAuth, &authenticator.Bearer{Source: a.manager})

		var mediaIDs []string
		if image != "" {
			data, err := os.ReadFile(image)
			if err != nil {
				return err
			}
			owners, _ := cmd.Flags().GetStringSlice("owner")
			media, err := client.UploadMedia(cmd.Context(), base64.StdEncoding.EncodeToString(data), owners)
			if err != nil {
				return err
			}
			mediaIDs = append(mediaIDs, media.MediaIDString)
		}

		tweet, err := client.CreateReply(cmd.Context(), args[1], args[0], mediaIDs)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tweet.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(replyCmd)
	uploadCmd.Flags().StringSlice("owner", nil, "Additional owner user id (repeatable)")
	replyCmd.Flags().String("image", "", "Image file to attach")
	replyCmd.Flags().StringSlice("owner", nil, "Additional owner user id for the image (repeatable)")
}

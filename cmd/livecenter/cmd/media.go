package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/livecenter/pkg/apierr"
)

var mediaOut string

var mediaCmd = &cobra.Command{
	Use:   "media URL",
	Short: "Download media with the session credentials",
	Long: `Fetches an image or other media object. Relative references such as
/media/avatars/1.png are resolved against the backend origin.`,
	Example: `  livecenter media /media/avatars/1.png --out avatar.png`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.Media.NeedsAuth(args[0]) {
			a.Logger().Debug("media is public", "url", a.Media.URL(args[0]))
		}

		m, err := a.Media.Fetch(cmdContext(cmd), args[0])
		if err != nil {
			var apiErr *apierr.Error
			if errors.As(err, &apiErr) {
				return fmt.Errorf("%s", apiErr.Message)
			}
			return err
		}

		if mediaOut == "" {
			_, err = cmd.OutOrStdout().Write(m.Data)
			return err
		}

		if err := os.WriteFile(mediaOut, m.Data, 0o644); err != nil {
			return fmt.Errorf("failed to write media: %w", err)
		}
		cmd.Printf("Saved %s (%s, %d bytes)\n", mediaOut, m.ContentType, len(m.Data))
		return nil
	},
}

func init() {
	mediaCmd.Flags().StringVarP(&mediaOut, "out", "o", "", "write to this file instead of stdout")
	rootCmd.AddCommand(mediaCmd)
}

package cmd

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Start a fresh login",
	Long: `Clears the stored session and starts a login. In redirect mode the login URL
is printed; finish with "livecenter callback <url>". In dev mode a token is
minted locally.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Session.ForceReauthenticate(cmdContext(cmd), a.Navigator.CurrentRoute())
	},
}

var callbackCmd = &cobra.Command{
	Use:   "callback URL",
	Short: "Complete a login with the URL the login page returned to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmdContext(cmd)
		if err := a.Session.CompleteCallback(ctx, args[0]); err != nil {
			return err
		}

		cmd.Printf("Logged in, continuing to %s\n", a.Navigator.CurrentRoute())
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Session.Logout(cmdContext(cmd))
	},
}

type statusOutput struct {
	Authenticated bool       `json:"authenticated"`
	UserID        string     `json:"user_id,omitempty"`
	Username      string     `json:"username,omitempty"`
	Role          string     `json:"role,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	RedirectPath  string     `json:"redirect_path,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current session as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		s := a.Session.Snapshot(cmdContext(cmd))

		out := statusOutput{Authenticated: s.IsAuthenticated, RedirectPath: s.RedirectPath}
		if s.User != nil {
			out.UserID = s.User.ID
			out.Username = s.User.Username
			out.Role = s.User.Role
		}
		if !s.TokenExpiry.IsZero() {
			exp := s.TokenExpiry.UTC()
			out.ExpiresAt = &exp
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep watching the session and clear it when the token expires",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}

		printBanner(cmd.OutOrStdout())
		return a.Run(cmdContext(cmd))
	},
}

func init() {
	rootCmd.AddCommand(loginCmd, callbackCmd, logoutCmd, statusCmd, watchCmd)
}

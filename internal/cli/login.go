package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/notifyer/notifyer/internal/auth"
	"github.com/notifyer/notifyer/internal/identity"
	"github.com/notifyer/notifyer/internal/session"
	"github.com/notifyer/notifyer/internal/tokencache"
)

// loginCmd represents the login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Run a device-code login now",
	Long: `Start a device-code login regardless of the current token state.

The user code and verification URL are printed here and also relayed to
the configured Telegram chat. The command blocks until the login is
completed in the browser or the code expires.`,
	RunE: runLogin,
}

func init() {
	RootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Auth.Timeout)
	defer cancel()

	sess := session.New(a.store, a.logger)
	sc, _ := a.cfg.Section("")
	if err := sess.Restore(ctx, sc.Handle(), a.cfg.Auth.CachePath); err != nil {
		return err
	}

	bridge := tokencache.NewBridge(a.cfg.Auth.CachePath, a.store, a.logger)
	provider, err := identity.NewClient(a.cfg.Auth, bridge, a.logger)
	if err != nil {
		return err
	}
	mgr := auth.NewManager(sess, provider, a.sender, a.store, a.cfg.Auth.CachePath, a.logger)

	flow, err := provider.StartDeviceLogin(ctx)
	if err != nil {
		return err
	}
	details := flow.Details()
	fmt.Printf("Open %s and enter code %s (expires in %s)\n",
		details.VerificationURI, details.UserCode, details.ExpiresIn.Round(time.Second))

	result, err := flow.Wait(ctx)
	if err != nil {
		return err
	}
	cred, err := mgr.StoreResult(ctx, result)
	if err != nil {
		return err
	}
	fmt.Printf("Signed in as %s, token valid until %s\n",
		result.Account.Username, cred.ExtExpiresOn.Format("2006-01-02 15:04"))
	return nil
}

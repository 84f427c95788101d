package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/notifyer/notifyer/internal/auth"
	"github.com/notifyer/notifyer/internal/identity"
	"github.com/notifyer/notifyer/internal/session"
	"github.com/notifyer/notifyer/internal/tokencache"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Inspect configuration and token state",
	Long: `Check the configuration, the durable record store and the token
state without delivering anything.

Exits non-zero when the stored grant is unusable and the next run would
need a device login.`,
	RunE: runCheck,
}

func init() {
	RootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	fmt.Printf("Config:   %s\n", globalFlags.Config)
	fmt.Printf("Sections: %d (notebook %q)\n", len(a.cfg.Notes.Sections), a.cfg.Notes.Notebook)

	sc, _ := a.cfg.Section("")
	sess := session.New(a.store, a.logger)
	if err := sess.Restore(ctx, sc.Handle(), a.cfg.Auth.CachePath); err != nil {
		return err
	}

	if _, err := os.Stat(a.cfg.Auth.CachePath); err == nil {
		fmt.Printf("Cache:    %s (present)\n", a.cfg.Auth.CachePath)
	} else {
		fmt.Printf("Cache:    %s (missing)\n", a.cfg.Auth.CachePath)
	}

	bridge := tokencache.NewBridge(a.cfg.Auth.CachePath, a.store, a.logger)
	provider, err := identity.NewClient(a.cfg.Auth, bridge, a.logger)
	if err != nil {
		return err
	}
	mgr := auth.NewManager(sess, provider, nil, a.store, a.cfg.Auth.CachePath, a.logger)

	accounts, err := provider.Accounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		fmt.Println("Account:  none (device login required)")
		return fmt.Errorf("no signed-in account")
	}
	fmt.Printf("Account:  %s\n", accounts[0].Username)

	if mgr.HasValidToken() {
		var cred auth.Credential
		sess.GetItem(auth.SessionKey, &cred)
		fmt.Printf("Token:    valid until %s\n", cred.ExtExpiresOn.Format("2006-01-02 15:04"))
		return nil
	}

	fmt.Println("Token:    expired (silent refresh will run on next invocation)")
	return nil
}

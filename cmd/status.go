// File: cmd/status.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stallwire/stallwire/api/schemas"
	"github.com/stallwire/stallwire/internal/config"
	"github.com/stallwire/stallwire/internal/observability"
	"github.com/stallwire/stallwire/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Inspect the stored session for the configured profile.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewConfigFromViper(viper.GetViper())
		if err != nil {
			return err
		}

		st, err := store.New(cfg.Session.CookieDir, observability.GetLogger())
		if err != nil {
			return err
		}

		state, err := st.Load(cfg.Session.Profile)
		if err != nil {
			if schemas.IsKind(err, schemas.KindStorageUnavailable) {
				return err
			}
			fmt.Printf("profile %q: no stored session\n", cfg.Session.Profile)
			return nil
		}

		valid := "invalidated"
		if state.Valid {
			valid = "valid"
		}
		fmt.Printf("profile %q: %s, %d cookies, created %s, last validated %s\n",
			state.ProfileID, valid, len(state.Cookies),
			state.CreatedAt.Format("2006-01-02 15:04:05"),
			state.LastValidatedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

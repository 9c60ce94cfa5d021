package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/contextcache/contextcache/internal/storage"
	"github.com/contextcache/contextcache/internal/storage/sqlite"
	"github.com/contextcache/contextcache/internal/types"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Local administrative operations",
}

var bootstrapEmail string

// bootstrapCmd promotes (or creates) the first service admin. It talks to
// the database directly so a fresh deployment can mint its admin before the
// HTTP surface has anyone to authenticate.
var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create or promote the initial service admin",
	RunE: func(cmd *cobra.Command, args []string) error {
		if bootstrapEmail == "" {
			return fmt.Errorf("--email is required")
		}
		cfg := loadConfig()
		store, err := sqlite.New(cmd.Context(), cfg.DBPath, sqlite.Options{})
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		ctx := cmd.Context()
		user, err := store.GetUserByEmail(ctx, bootstrapEmail)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			user = &types.User{
				ID:          uuid.NewString(),
				Email:       bootstrapEmail,
				IsAdmin:     true,
				IsUnlimited: true,
				CreatedAt:   time.Now().UTC(),
			}
			if err := store.CreateUser(ctx, user); err != nil {
				return err
			}
			fmt.Printf("created admin %s (%s)\n", user.Email, user.ID)
		case err != nil:
			return err
		default:
			if err := store.SetUserAdmin(ctx, user.ID, true); err != nil {
				return err
			}
			if err := store.SetUserUnlimited(ctx, user.ID, true); err != nil {
				return err
			}
			fmt.Printf("promoted %s (%s) to admin\n", user.Email, user.ID)
		}
		fmt.Println("sign in via POST /auth/request-link with this email")
		return nil
	},
}

func init() {
	bootstrapCmd.Flags().StringVar(&bootstrapEmail, "email", "", "admin email address")
	adminCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(adminCmd)
}

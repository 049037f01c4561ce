package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/edutrack/backend/internal/config"
	"github.com/edutrack/backend/internal/database"
	"github.com/edutrack/backend/internal/models"
	"github.com/edutrack/backend/pkg/utils"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// edutrack-admin performs the privileged operations the HTTP API refuses:
// creating admin accounts and changing roles. It connects straight to the
// database, so access to it is access to everything.

var db *gorm.DB

var rootCmd = &cobra.Command{
	Use:           "edutrack-admin",
	Short:         "EduTrack administrative tasks",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		var err error
		db, err = database.Connect(cfg.DB)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run schema migrations and seed the bootstrap admin",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := database.Migrate(db); err != nil {
			return err
		}
		if err := database.SeedAdminUser(db); err != nil {
			return err
		}
		fmt.Println("migrations applied")
		return nil
	},
}

var (
	flagEmail    string
	flagPassword string
	flagFullName string
)

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an admin account",
	RunE: func(cmd *cobra.Command, args []string) error {
		email := strings.ToLower(strings.TrimSpace(flagEmail))
		if email == "" || flagPassword == "" {
			return fmt.Errorf("--email and --password are required")
		}

		var existing models.User
		if db.First(&existing, "email = ?", email).Error == nil {
			return fmt.Errorf("user %s already exists", email)
		}

		hash, err := utils.HashPassword(flagPassword)
		if err != nil {
			return err
		}
		admin := models.User{
			Email:        email,
			PasswordHash: hash,
			FullName:     flagFullName,
			Role:         models.UserRoleAdmin,
		}
		if err := db.Create(&admin).Error; err != nil {
			return err
		}
		fmt.Printf("created admin %s (%s)\n", email, admin.ID)
		return nil
	},
}

var flagRole string

var setRoleCmd = &cobra.Command{
	Use:   "set-role",
	Short: "Change a user's role",
	RunE: func(cmd *cobra.Command, args []string) error {
		email := strings.ToLower(strings.TrimSpace(flagEmail))
		role := models.UserRole(flagRole)
		if email == "" || !models.ValidRole(flagRole) {
			return fmt.Errorf("--email and a valid --role (student, tutor, admin) are required")
		}

		var user models.User
		if err := db.First(&user, "email = ?", email).Error; err != nil {
			return fmt.Errorf("user %s not found", email)
		}
		if err := db.Model(&user).Update("role", role).Error; err != nil {
			return err
		}
		fmt.Printf("%s is now %s\n", email, role)
		return nil
	},
}

func init() {
	createAdminCmd.Flags().StringVar(&flagEmail, "email", "", "Admin email address")
	createAdminCmd.Flags().StringVar(&flagPassword, "password", "", "Admin password")
	createAdminCmd.Flags().StringVar(&flagFullName, "name", "", "Full name")

	setRoleCmd.Flags().StringVar(&flagEmail, "email", "", "User email address")
	setRoleCmd.Flags().StringVar(&flagRole, "role", "", "New role: student, tutor or admin")

	rootCmd.AddCommand(migrateCmd, createAdminCmd, setRoleCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

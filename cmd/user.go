package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/calebgardner/trackd/internal/auth"
	"github.com/calebgardner/trackd/internal/models"
	"github.com/calebgardner/trackd/internal/output"
)

var (
	userEmail     string
	userFirstName string
	userLastName  string
	userPassword  string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return userListRun()
	},
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Add a new user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return userAddRun(args[0])
	},
}

var userListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		return userListRun()
	},
}

func init() {
	userAddCmd.Flags().StringVar(&userEmail, "email", "", "Email address (required)")
	userAddCmd.Flags().StringVar(&userFirstName, "first-name", "", "First name")
	userAddCmd.Flags().StringVar(&userLastName, "last-name", "", "Last name")
	userAddCmd.Flags().StringVar(&userPassword, "password", "", "Password (required)")
	_ = userAddCmd.MarkFlagRequired("email")
	_ = userAddCmd.MarkFlagRequired("password")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	rootCmd.AddCommand(userCmd)
}

func userAddRun(username string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	hash, err := auth.HashPassword(userPassword)
	if err != nil {
		return err
	}

	user := &models.User{
		Username:     username,
		Email:        userEmail,
		FirstName:    userFirstName,
		LastName:     userLastName,
		PasswordHash: hash,
	}
	if err := s.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	ui.Success("Created user %s (%s)", output.Cyan(username), shortID(user.ID))
	return nil
}

func userListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	users, err := s.ListUsers(context.Background())
	if err != nil {
		return err
	}

	if len(users) == 0 {
		ui.Info("No users found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Username", "Name", "Email"})
	for _, u := range users {
		_ = table.Append([]string{shortID(u.ID), u.Username, u.FullName(), u.Email})
	}
	_ = table.Render()
	return nil
}

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Kioku/internal/kioku/store"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage speaker identities",
}

var usersPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List users still waiting for an external handle",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		users, err := a.Resolver.PendingHandles(cmd.Context())
		if err != nil {
			return err
		}
		if len(users) == 0 {
			fmt.Println("No pending users.")
			return nil
		}
		for _, u := range users {
			fmt.Printf("%d\t%s\n", u.ID, u.DisplayName)
		}
		return nil
	},
}

var usersSetHandleCmd = &cobra.Command{
	Use:   "set-handle <user-id> <handle>",
	Short: "Assign an external handle, merging with the user that already holds it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user id %q", args[0])
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Resolver.AssignHandle(cmd.Context(), id, args[1])
		if err != nil {
			return err
		}
		if res.Merged {
			fmt.Printf("User %d merged into %d: %d message(s) and %d conversation(s) moved\n",
				res.AbsorbedID, res.SurvivorID, res.MovedMessages, res.MovedConversations)
			return nil
		}
		fmt.Printf("User %d now has handle %s\n", res.SurvivorID, args[1])
		return nil
	},
}

var usersDeclineCmd = &cobra.Command{
	Use:   "decline <user-id>",
	Short: "Record that a user's handle will not be collected",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user id %q", args[0])
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Resolver.DeclineHandle(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("User %d removed from the pending list\n", id)
		return nil
	},
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every user with handle and merged aliases",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		users, err := a.Store.ListUsers(cmd.Context())
		if err != nil {
			return err
		}
		for _, u := range users {
			aliases, err := a.Resolver.Aliases(cmd.Context(), u.ID)
			if err != nil {
				return err
			}
			fmt.Printf("%d\t%s\t%s\t%s\n", u.ID, u.DisplayName, handleLabel(u), strings.Join(aliases, ","))
		}
		return nil
	},
}

var usersAddCmd = &cobra.Command{
	Use:   "add <display-name> <handle>",
	Short: "Register a speaker with a known handle before it appears in a transcript",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		u, err := a.Resolver.Register(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("User %d registered as %s\n", u.ID, u.Handle.String)
		return nil
	},
}

func handleLabel(u *store.User) string {
	switch {
	case u.NeedsHandle():
		return "(pending)"
	case !u.Handle.Valid:
		return "(declined)"
	default:
		return u.Handle.String
	}
}

func init() {
	usersCmd.AddCommand(usersListCmd, usersPendingCmd, usersAddCmd, usersSetHandleCmd, usersDeclineCmd)
	rootCmd.AddCommand(usersCmd)
}

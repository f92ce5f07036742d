package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/careline/careline/internal/client"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List your chat sessions",
	RunE:  runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	if flagUsername == "" {
		return errors.New("--username is required")
	}

	ctx := cmd.Context()
	api := client.NewAPIClient(flagServer)
	if _, err := api.Login(ctx, flagUsername); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	list := client.NewSessionList(api)
	if err := list.Refresh(ctx); err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	entries := list.Entries()
	if len(entries) == 0 {
		fmt.Println("暂无会话")
		return nil
	}
	for _, e := range entries {
		title := e.Title
		if title == "" {
			title = "(未命名)"
		}
		fmt.Printf("%s  %-20s  %d 条消息  %s\n",
			e.SessionID, title, e.MessageCount, e.LastActivity.Format("2006-01-02 15:04"))
	}
	return nil
}

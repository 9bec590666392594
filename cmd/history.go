package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"rag-portal/internal/assessment"
	"rag-portal/internal/db"
	"rag-portal/internal/helper"
)

var (
	historyUser     string
	historyLineUser string
	historyThread   string
	historyAll      bool
	historyJSON     bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the stored conversation of a user",
	Long: `Prints the chat log of a web user (--user) or a LINE user (--line-user).
System prompts and other hidden turns are only shown with --all.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVarP(&historyUser, "user", "u", "", "web username (default web.default_user)")
	historyCmd.Flags().StringVar(&historyLineUser, "line-user", "", "LINE user id")
	historyCmd.Flags().StringVarP(&historyThread, "thread", "t", "", "only this thread: qa, chat or line")
	historyCmd.Flags().BoolVar(&historyAll, "all", false, "include hidden turns")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print the rows as JSON")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	bdb, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer bdb.Close()

	users := db.NewUserRepository(bdb)
	var user *db.User
	if historyLineUser != "" {
		user, err = users.FindByLineID(ctx, historyLineUser)
	} else {
		name := historyUser
		if name == "" {
			name = cfg.Web.DefaultUser
		}
		user, err = users.FindByUsername(ctx, name)
	}
	if errors.Is(err, db.ErrNotFound) {
		fmt.Fprintln(cmd.OutOrStdout(), "No such user.")
		return nil
	}
	if err != nil {
		return err
	}

	chatLogs := db.NewChatLogRepository(bdb)
	var logs []db.ChatLog
	if historyThread != "" {
		logs, err = chatLogs.FindThread(ctx, user.ID, historyThread)
	} else {
		logs, err = chatLogs.FindByUser(ctx, user.ID)
	}
	if err != nil {
		return err
	}
	if !historyAll {
		logs = assessment.Visible(logs)
	}

	if historyJSON {
		helper.PrettyPrint(cmd.OutOrStdout(), logs)
		return nil
	}
	if len(logs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No messages.")
		return nil
	}
	for _, l := range logs {
		fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s %s: %s\n",
			l.CreatedAt.Format("2006-01-02 15:04:05"), l.Thread, l.Role, strings.TrimSpace(l.Message))
		if f := l.File(); f != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "    file: %s\n", f)
		}
	}
	return nil
}

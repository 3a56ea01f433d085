package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"llmqa-console/internal/feed"
	"llmqa-console/internal/qa"
)

func newAskCmd(opts *options) *cobra.Command {
	var (
		sessionID string
		format    string
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "提问一次并输出回答",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			resp, err := opts.client().Ask(cmd.Context(), qa.AskParams{
				Question:  strings.Join(args, " "),
				SessionID: sessionID,
			})
			if err != nil {
				return errors.New(feed.Describe(err))
			}

			out := cmd.OutOrStdout()
			if format != "text" {
				return writeStructured(out, format, resp)
			}
			fmt.Fprintln(out, assistantStyle.Render("AI助手：")+" "+resp.Answer)
			if resp.SessionID != "" {
				fmt.Fprintln(out, metaStyle.Render(fmt.Sprintf("session: %s  %.0fms", resp.SessionID, resp.QueryTimeMs)))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "沿用已有的会话ID")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "输出格式 text|json|yaml")
	return cmd
}

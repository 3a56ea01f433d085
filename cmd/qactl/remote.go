package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd(opts *options) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "查看问答服务状态",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			status, err := opts.client().ServiceStatus(cmd.Context())
			if err != nil {
				return err
			}
			if format != "text" {
				return writeStructured(cmd.OutOrStdout(), format, status)
			}
			writeMap(cmd.OutOrStdout(), status)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "输出格式 text|json|yaml")
	return cmd
}

func newHotCmd(opts *options) *cobra.Command {
	var (
		limit    int
		category string
	)
	cmd := &cobra.Command{
		Use:   "hot",
		Short: "列出热门问题",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			questions, err := opts.client().HotQuestions(cmd.Context(), limit, category)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, q := range questions {
				fmt.Fprintf(out, "%s %s\n", keyStyle.Render(fmt.Sprintf("%2d.", i+1)), q)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "返回数量")
	cmd.Flags().StringVar(&category, "category", "", "问题分类")
	return cmd
}

func newHistoryCmd(opts *options) *cobra.Command {
	var (
		page   int
		limit  int
		format string
	)
	cmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "查看远端会话历史",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			turns, err := opts.client().SessionHistory(cmd.Context(), args[0], page, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if format != "text" {
				return writeStructured(out, format, turns)
			}
			if len(turns) == 0 {
				fmt.Fprintln(out, systemStyle.Render("没有历史记录"))
				return nil
			}
			for _, t := range turns {
				ts := time.UnixMilli(t.Timestamp).Format("2006-01-02 15:04:05")
				fmt.Fprintln(out, metaStyle.Render(ts))
				fmt.Fprintln(out, userStyle.Render("用户：")+" "+t.Question)
				fmt.Fprintln(out, assistantStyle.Render("AI助手：")+" "+t.Answer)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "页码")
	cmd.Flags().IntVar(&limit, "limit", 10, "每页条数")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "输出格式 text|json|yaml")
	return cmd
}

func newStatsCmd(opts *options) *cobra.Command {
	var (
		days   int
		format string
	)
	cmd := &cobra.Command{
		Use:   "stats [session-id]",
		Short: "查看会话统计，不指定会话时查看全局统计",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			sessionID := ""
			if len(args) == 1 {
				sessionID = args[0]
			}
			stats, err := opts.client().SessionStatistics(cmd.Context(), sessionID, days)
			if err != nil {
				return err
			}
			if format != "text" {
				return writeStructured(cmd.OutOrStdout(), format, stats)
			}
			writeMap(cmd.OutOrStdout(), stats)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "全局统计的天数")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "输出格式 text|json|yaml")
	return cmd
}

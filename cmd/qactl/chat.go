package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"llmqa-console/internal/feed"
	"llmqa-console/internal/model"
	"llmqa-console/internal/qa"
	"llmqa-console/internal/service"
	"llmqa-console/internal/storage"
)

const chatHelp = `/retry  重新发送上一次失败的问题
/clear  清空对话历史（保留会话ID）
/new    清空并开始新会话
/context 查看发送给后端的上下文
/help   显示帮助
/quit   退出`

func newChatCmd(opts *options) *cobra.Command {
	var remoteClear bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "交互式多轮问答",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *opts.cfg
			cfg.Session.CleanupInterval = 0

			svc := service.NewQAService(&cfg, opts.client(), storage.NewMemoryStorage(), nil)
			defer svc.Close()

			conv, err := svc.CreateConversation("")
			if err != nil {
				return err
			}
			return runChat(cmd, svc, conv.ID, remoteClear)
		},
	}
	cmd.Flags().BoolVar(&remoteClear, "remote-clear", false, "/clear 和 /new 时同时清理远端会话")
	return cmd
}

func runChat(cmd *cobra.Command, svc *service.QAService, id string, remoteClear bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	printMessage := func(m model.Message) {
		if m.Type != model.MessageUser {
			fmt.Fprintln(out, renderMessage(m))
		}
	}

	fmt.Fprintln(out, systemStyle.Render("输入问题开始对话，/help 查看命令"))
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, userStyle.Render("> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(out, systemStyle.Render(chatHelp))
		case "/context":
			text, err := svc.Context(id)
			if err != nil {
				return err
			}
			if text == "" {
				text = "（暂无历史）"
			}
			fmt.Fprintln(out, text)
		case "/clear", "/new":
			conv, err := svc.ClearConversation(ctx, id, service.ClearOptions{
				NewSession: line == "/new",
				Remote:     remoteClear,
			})
			if err != nil {
				printError(out, err)
				continue
			}
			fmt.Fprintln(out, systemStyle.Render("对话已清空 "+conv.Session.SessionID()))
		case "/retry":
			res, err := svc.Retry(ctx, id, printMessage)
			if err != nil {
				if errors.Is(err, service.ErrNoPendingQuestion) {
					fmt.Fprintln(out, systemStyle.Render("没有需要重试的问题"))
					continue
				}
				printError(out, err)
				continue
			}
			printRetryHint(out, res)
		default:
			res, err := svc.AskObserved(ctx, id, line, printMessage)
			if err != nil {
				printError(out, err)
				continue
			}
			printRetryHint(out, res)
		}
	}
}

// printRetryHint 仅在失败可重试时提示
func printRetryHint(w io.Writer, res *service.AskResult) {
	if res != nil && res.Failure != nil && res.Failure.Retryable() {
		fmt.Fprintln(w, systemStyle.Render("输入 /retry 重新发送"))
	}
}

func printError(w io.Writer, err error) {
	text := err.Error()
	var qe *qa.Error
	if errors.As(err, &qe) {
		text = feed.Describe(qe)
	}
	fmt.Fprintln(w, errorStyle.Render("系统：")+" "+text)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"llmqa-console/internal/config"
	"llmqa-console/internal/qa"
	"llmqa-console/pkg/logger"
)

type options struct {
	configPath string
	baseURL    string
	token      string
	logLevel   string

	cfg *config.Config
}

func (o *options) client() *qa.Client {
	return qa.NewClient(o.cfg.QA, o.cfg.Request)
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "qactl",
		Short: "商城后台智能问答命令行客户端",
		Long: `qactl 直接访问 /llm/qa 问答服务。

Quick Start:
  qactl ask "订单在哪里查询?"          # 单次提问
  qactl chat                          # 交互式多轮对话
  qactl history <session-id> -f yaml  # 查看远端会话历史`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if opts.baseURL != "" {
				cfg.QA.BaseURL = opts.baseURL
			}
			if opts.token != "" {
				cfg.QA.Token = opts.token
			}
			if err := logger.InitWithOutput(opts.logLevel, cfg.Log.Format, cmd.ErrOrStderr()); err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "配置文件路径（默认使用内置配置）")
	root.PersistentFlags().StringVar(&opts.baseURL, "base-url", "", "问答服务地址，覆盖配置文件中的 qa.base_url")
	root.PersistentFlags().StringVar(&opts.token, "token", "", "管理员 token")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "日志级别")

	root.AddCommand(
		newAskCmd(opts),
		newChatCmd(opts),
		newStatusCmd(opts),
		newHotCmd(opts),
		newHistoryCmd(opts),
		newStatsCmd(opts),
	)
	return root
}

package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/httprunner/CaptureAgent/internal/config"
	"github.com/httprunner/CaptureAgent/internal/env"
)

var rootCmd = &cobra.Command{
	Use:   "captureagent",
	Short: "Configure a camera fleet and capture synchronized frames",
	Long: `captureagent 配置多台相机（像素格式、触发、快门、增益），在所有设备配置完成后统一开始采集，
按序取帧、校验、保存并释放缓冲区；会话、帧与设备快照写入 SQLite/JSONL。`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if path := strings.TrimSpace(rootEnvFile); path != "" {
			if err := env.Load(path); err != nil {
				return err
			}
		}
		return setLogLevel(firstNonEmpty(rootLogLevel, config.String(config.EnvLogLevel, "")))
	},
}

var (
	rootEnvFile  string
	rootLogLevel string
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	rootCmd.PersistentFlags().StringVar(&rootEnvFile, "env-file", "", "显式加载的 .env 文件（默认向上查找 .env）")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "日志级别覆盖 CAPTURE_LOG_LEVEL（debug/info/warn/error）")
	rootCmd.AddCommand(
		newCaptureCmd(),
		newDevicesCmd(),
		newNodesCmd(),
		newJournalCmd(),
	)
	_ = env.Ensure()
}

func setLogLevel(level string) error {
	if level == "" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		return nil
	}
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(parsed)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("captureagent command failed")
	}
}

package cmd

import (
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kasuganosora/cardbench/pkg/config"
	"github.com/kasuganosora/cardbench/pkg/logging"

	// 注册引擎工厂
	_ "github.com/kasuganosora/cardbench/pkg/engine/memengine"
	_ "github.com/kasuganosora/cardbench/pkg/engine/shell"
	_ "github.com/kasuganosora/cardbench/pkg/engine/sqldb"
)

const (
	configFlag   = "config"
	engineFlag   = "engine"
	logLevelFlag = "log-level"
	tolerantFlag = "tolerant"
)

// RootCmd 根命令，所有子命令在这里注册
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "cardbench",
		Short:        "cardbench measures how well a query optimizer estimates selectivity.",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String(configFlag, "", "path to a yaml or json config file")
	cmd.PersistentFlags().String(engineFlag, "", "engine type: memory, shell, postgres or mysql")
	cmd.PersistentFlags().String(logLevelFlag, "", "log level: debug, info, warn or error")

	cmd.AddCommand(
		generateCmd(),
		planCmd(),
		runCmd(),
		reportCmd(),
	)
	return cmd
}

// loadConfig 合并默认值、配置文件、环境变量与命令行参数
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString(configFlag)
	if err != nil {
		return nil, err
	}
	v, err := config.NewViper(path)
	if err != nil {
		return nil, err
	}
	if err := bindFlag(v, cmd, "engine.type", engineFlag); err != nil {
		return nil, err
	}
	if err := bindFlag(v, cmd, "log.level", logLevelFlag); err != nil {
		return nil, err
	}
	if err := bindFlag(v, cmd, "harness.tolerant", tolerantFlag); err != nil {
		return nil, err
	}
	return config.FromViper(v)
}

// bindFlag 仅在命令行显式设置时覆盖配置
func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) error {
	f := cmd.Flags().Lookup(flag)
	if f == nil || !f.Changed {
		return nil
	}
	return v.BindPFlag(key, f)
}

// setup 加载配置并创建 logger
func setup(cmd *cobra.Command) (*config.Config, *logrus.Logger, io.Closer, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, closer, nil
}

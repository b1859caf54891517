// Package main запускает сервис аналитики ухода за ребенком.
// Сервис реализует:
// - анализ паттернов сна и режима дня
// - прогноз следующего сна, кормления и активности
// - облачный анализ с кэшем, ограничителем и переходом на локальный анализ
// - экспорт метрик в Prometheus
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"babycare-insights/internal/config"
	"babycare-insights/internal/logger"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app общее состояние команд после загрузки конфигурации
type app struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "babycare-insights",
		Short:         "Sleep, routine and prediction analytics for baby care records",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.Service)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			a.cfg, a.logger = cfg, log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to config file (yaml, toml or json)")

	root.AddCommand(serveCommand(a), analyzeCommand(a))
	return root
}

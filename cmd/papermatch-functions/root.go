package main

import (
	"github.com/spf13/cobra"

	"github.com/papermatch/papermatch-functions/pkg/config"
)

type rootOptions struct {
	configFile string
	envFiles   []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "papermatch-functions",
		Short:         "Credit economy functions for papermatch",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "papermatch.yaml", "optional YAML config file")
	rootCmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "optional .env files")

	rootCmd.AddCommand(serveCmd(opts))
	rootCmd.AddCommand(migrateCmd(opts))
	rootCmd.AddCommand(grantCmd(opts))
	rootCmd.AddCommand(balanceCmd(opts))

	return rootCmd
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(config.LoadOptions{
		ConfigFile: o.configFile,
		EnvFiles:   o.envFiles,
	})
}

package main

import (
	"os"

	"github.com/spf13/cobra"
)

var buildOut string

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Rebuild the bond yield data file from MOEX",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if buildOut != "" {
			cfg.Data.Path = buildOut
		}

		b := newBuilder(cfg)
		b.Client.Progress = os.Stderr
		_, err = b.Build(cmd.Context())
		return err
	},
}

func init() {
	buildCmd.Flags().StringVarP(&buildOut, "out", "o", "", "output path (defaults to data.path)")
	rootCmd.AddCommand(buildCmd)
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"skillswap/config"
	"skillswap/logger"
)

var rootCmd = &cobra.Command{
	Use:   "skillswap",
	Short: "Peer skill-exchange server",
	Long:  `skillswap matches people who want to learn a skill with people who offer it, brokers consent before contact details are shared, and relays chat between connected users.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		if err := logger.SetLogLevel(loaded.LogLevel); err != nil {
			return err
		}
		logger.SetLogFormat(loaded.LogFormat)
		cfg = loaded
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
		os.Exit(1)
	},
}

// cfg is resolved once per invocation before any subcommand runs.
var cfg *config.Config

func main() {
	config.SetDefaults(viper.GetViper())

	rootCmd.PersistentFlags().String("control-socket", "", "Path of the management socket (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: fmt or json")

	viper.BindPFlag("control_socket", rootCmd.PersistentFlags().Lookup("control-socket"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(announceCmd)
	rootCmd.AddCommand(shutdownCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// alfisd runs the resolver as a foreground daemon. It drives the same
// controller the mobile bindings use, which makes it the reference harness
// for development and packaging.
package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/HodlOnToYourButts/Alfis-android/client/internal"
	"github.com/HodlOnToYourButts/Alfis-android/client/internal/config"
	"github.com/HodlOnToYourButts/Alfis-android/client/internal/eventbus"
	"github.com/HodlOnToYourButts/Alfis-android/client/internal/logbuf"
	"github.com/HodlOnToYourButts/Alfis-android/util"
)

const startupTimeout = 5 * time.Second

var (
	configPath string
	dataDir    string
	logFile    string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:          "alfisd",
		Short:        "Blockchain-backed DNS resolver daemon",
		SilenceUsage: true,
		RunE:         run,
	}

	genConfigCmd = &cobra.Command{
		Use:   "gen-config",
		Short: "Write the default configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.GenerateDefault(configPath); err != nil {
				return err
			}
			cmd.Printf("wrote default configuration to %s\n", configPath)
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "alfis.toml", "config file location")
	rootCmd.Flags().StringVarP(&dataDir, "data-dir", "d", ".", "directory holding the blockchain database")
	rootCmd.Flags().StringVar(&logFile, "log-file", "console", "log file location, \"console\" logs to stderr")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "log level")
	rootCmd.AddCommand(genConfigCmd)
}

func run(cmd *cobra.Command, args []string) error {
	if err := util.InitLog(logLevel, logFile); err != nil {
		return err
	}

	controller := internal.NewController(logbuf.New(), eventbus.Default())
	if !controller.Start(configPath, dataDir) {
		// initialization may still be in flight after the start grace period
		deadline := time.Now().Add(startupTimeout)
		for controller.State() == internal.StateStarting && time.Now().Before(deadline) {
			time.Sleep(100 * time.Millisecond)
		}
		if !controller.IsRunning() {
			return errors.New("service failed to start, check the log for details")
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infof("received %s, shutting down", sig)

	if !controller.Stop() {
		return errors.New("service was not running at shutdown")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

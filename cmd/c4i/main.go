// Command c4i is the c4 command-line client: each subcommand starts its
// own Client from the config, then installs Dedalus programs or dumps table
// contents; it cannot attach to a Client that is already running. It is the
// rough equivalent of the original's c4i REPL binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bloom-lang/c4/logger"
	"github.com/bloom-lang/c4/server/c4/runtime"
	"github.com/bloom-lang/c4/server/conf"
)

var (
	configPath string
	bindHost   string
	bindPort   int
)

func main() {
	root := &cobra.Command{
		Use:   "c4i",
		Short: "c4i runs and administers a c4 deductive-database client",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to an ini config file")
	root.PersistentFlags().StringVar(&bindHost, "host", "", "override the configured bind host")
	root.PersistentFlags().IntVar(&bindPort, "port", 0, "override the configured bind port")

	root.AddCommand(serveCmd(), installCmd(), dumpCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*conf.Config, error) {
	cfg, err := conf.Load(configPath)
	if err != nil {
		return nil, err
	}
	if bindHost != "" {
		cfg.BindHost = bindHost
	}
	if bindPort != 0 {
		cfg.BindPort = bindPort
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	var programs []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "start a client and block, installing any given programs first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := logger.Init(logger.Config{Path: cfg.LogPath, Level: cfg.LogLevel}); err != nil {
				logger.Warnf("continuing with default log config: %v", err)
			}

			c, err := runtime.New(cfg)
			if err != nil {
				return err
			}
			if err := c.Start(); err != nil {
				return err
			}
			for _, p := range programs {
				if err := c.InstallFile(p); err != nil {
					return fmt.Errorf("install %s: %w", p, err)
				}
			}
			select {}
		},
	}
	cmd.Flags().StringSliceVarP(&programs, "install", "i", nil, "program file to install at startup; may repeat")
	return cmd
}

func installCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <program.olg>",
		Short: "start a client from this config and install a Dedalus program into it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := runtime.New(cfg)
			if err != nil {
				return err
			}
			if err := c.Start(); err != nil {
				return err
			}
			defer c.Terminate()
			return c.InstallFile(args[0])
		},
	}
}

func dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <table>",
		Short: "print every tuple currently in a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := runtime.New(cfg)
			if err != nil {
				return err
			}
			if err := c.Start(); err != nil {
				return err
			}
			defer c.Terminate()
			text, err := c.DumpTable(args[0])
			if err != nil {
				return err
			}
			fmt.Print(text)
			return nil
		},
	}
}

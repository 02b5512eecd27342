// Package apicmder provides the conversation API server cobra command.
package apicmder

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chatrelay/api"
	"github.com/papercomputeco/chatrelay/pkg/config"
	"github.com/papercomputeco/chatrelay/pkg/logger"
)

type apiCommander struct {
	listen         string
	backend        string
	backendTimeout time.Duration
	logFile        string
	debug          bool
}

const apiLongDesc string = `Run the chatrelay conversation API server for listing, creating,
renaming and deleting conversations and reading their messages.`

const apiShortDesc string = "Run the conversation API server"

var apiFlags = []string{
	config.FlagAPIListenStandalone,
	config.FlagUpstream,
	config.FlagUpstreamTimeout,
}

func NewAPICmd() *cobra.Command {
	cmder := &apiCommander{}

	cmd := &cobra.Command{
		Use:   "api",
		Short: apiShortDesc,
		Long:  apiLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, config.Flags, apiFlags)

			cmder.listen = v.GetString("api.listen")
			cmder.backend = v.GetString("relay.upstream")
			cmder.backendTimeout = v.GetDuration("relay.upstream_timeout")
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			cmder.logFile, _ = cmd.Flags().GetString("log-file")

			return cmder.run()
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagAPIListenStandalone, &cmder.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagUpstream, &cmder.backend)
	config.AddDurationFlag(cmd, config.Flags, config.FlagUpstreamTimeout, &cmder.backendTimeout)

	return cmd
}

func (c *apiCommander) run() error {
	log, closeLog, err := logger.NewService("api", c.debug, c.logFile, os.Stdout)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	server, err := api.NewServer(api.Config{
		ListenAddr:     c.listen,
		BackendURL:     c.backend,
		BackendTimeout: c.backendTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	defer server.Shutdown()

	log.Info("starting API server",
		"listen", c.listen,
		"backend", c.backend,
	)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Run()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		log.Info("received signal, shutting down", "signal", sig.String())
		return nil
	}
}

// Package servecmder provides the serve command with subcommands for running services.
package servecmder

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chatrelay/api"
	apicmder "github.com/papercomputeco/chatrelay/cmd/chatrelay/serve/api"
	relaycmder "github.com/papercomputeco/chatrelay/cmd/chatrelay/serve/relay"
	"github.com/papercomputeco/chatrelay/pkg/config"
	"github.com/papercomputeco/chatrelay/pkg/logger"
	"github.com/papercomputeco/chatrelay/relay"
)

type ServeCommander struct {
	relayListen     string
	apiListen       string
	upstream        string
	upstreamTimeout time.Duration
	logFile         string
	debug           bool
}

const serveLongDesc string = `Run chatrelay services.

Use subcommands to run individual services or all services together:
  chatrelay serve          Run both the relay and the API server together
  chatrelay serve relay    Run just the streaming relay
  chatrelay serve api      Run just the conversation API server

Both servers talk to the same backend (--upstream). Flags override
CHATRELAY_* environment variables, which override config.toml.`

const serveShortDesc string = "Run chatrelay services"

var serveFlags = []string{
	config.FlagRelayListen,
	config.FlagAPIListen,
	config.FlagUpstream,
	config.FlagUpstreamTimeout,
}

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, config.Flags, serveFlags)

			cmder.relayListen = v.GetString("relay.listen")
			cmder.apiListen = v.GetString("api.listen")
			cmder.upstream = v.GetString("relay.upstream")
			cmder.upstreamTimeout = v.GetDuration("relay.upstream_timeout")
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			return cmder.run()
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagRelayListen, &cmder.relayListen)
	config.AddStringFlag(cmd, config.Flags, config.FlagAPIListen, &cmder.apiListen)
	config.AddStringFlag(cmd, config.Flags, config.FlagUpstream, &cmder.upstream)
	config.AddDurationFlag(cmd, config.Flags, config.FlagUpstreamTimeout, &cmder.upstreamTimeout)
	cmd.PersistentFlags().StringVar(&cmder.logFile, "log-file", "", "Also write JSON logs to this file")

	cmd.AddCommand(relaycmder.NewRelayCmd())
	cmd.AddCommand(apicmder.NewAPICmd())

	return cmd
}

func (c *ServeCommander) run() error {
	log, closeLog, err := logger.NewService("serve", c.debug, c.logFile, os.Stdout)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	g, err := relay.New(relay.Config{
		ListenAddr:      c.relayListen,
		UpstreamURL:     c.upstream,
		UpstreamTimeout: c.upstreamTimeout,
	}, log.With(logger.ComponentKey, "relay"))
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}
	defer g.Close()

	log.Info("starting relay",
		"relay_addr", c.relayListen,
		"upstream", c.upstream,
		"upstream_timeout", c.upstreamTimeout,
	)

	apiServer, err := api.NewServer(api.Config{
		ListenAddr:     c.apiListen,
		BackendURL:     c.upstream,
		BackendTimeout: c.upstreamTimeout,
	}, log.With(logger.ComponentKey, "api"))
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	defer apiServer.Shutdown()

	log.Info("starting api server",
		"api_addr", c.apiListen,
	)

	// Channel to capture errors from goroutines
	errChan := make(chan error, 2)

	go func() {
		if err := g.Run(); err != nil {
			errChan <- fmt.Errorf("relay error: %w", err)
		}
	}()

	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
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

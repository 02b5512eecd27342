// Package relaycmder provides the streaming relay cobra command.
package relaycmder

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chatrelay/pkg/config"
	"github.com/papercomputeco/chatrelay/pkg/logger"
	"github.com/papercomputeco/chatrelay/relay"
)

type relayCommander struct {
	listen          string
	upstream        string
	upstreamTimeout time.Duration
	logFile         string
	debug           bool
}

const relayLongDesc string = `Run the chatrelay streaming relay.

The relay accepts POST /chat/stream, opens one upstream stream per request
and passes the server-sent events through to the client unchanged.`

const relayShortDesc string = "Run the streaming relay"

var relayFlags = []string{
	config.FlagRelayListenStandalone,
	config.FlagUpstream,
	config.FlagUpstreamTimeout,
}

func NewRelayCmd() *cobra.Command {
	cmder := &relayCommander{}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: relayShortDesc,
		Long:  relayLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, config.Flags, relayFlags)

			cmder.listen = v.GetString("relay.listen")
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
			cmder.logFile, _ = cmd.Flags().GetString("log-file")

			return cmder.run()
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagRelayListenStandalone, &cmder.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagUpstream, &cmder.upstream)
	config.AddDurationFlag(cmd, config.Flags, config.FlagUpstreamTimeout, &cmder.upstreamTimeout)

	return cmd
}

func (c *relayCommander) run() error {
	log, closeLog, err := logger.NewService("relay", c.debug, c.logFile, os.Stdout)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	g, err := relay.New(relay.Config{
		ListenAddr:      c.listen,
		UpstreamURL:     c.upstream,
		UpstreamTimeout: c.upstreamTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}
	defer g.Close()

	log.Info("starting relay",
		"listen", c.listen,
		"upstream", c.upstream,
	)

	errChan := make(chan error, 1)
	go func() {
		errChan <- g.Run()
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

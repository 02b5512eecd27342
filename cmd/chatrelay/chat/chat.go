// Package chatcmder provides the chat command: an interactive terminal
// client that streams answers through the chatrelay relay.
package chatcmder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chatrelay/pkg/chat"
	"github.com/papercomputeco/chatrelay/pkg/chatapi"
	"github.com/papercomputeco/chatrelay/pkg/cliui"
	"github.com/papercomputeco/chatrelay/pkg/config"
	"github.com/papercomputeco/chatrelay/pkg/dotdir"
	"github.com/papercomputeco/chatrelay/pkg/logger"
	"github.com/papercomputeco/chatrelay/pkg/reducer"
	"github.com/papercomputeco/chatrelay/pkg/transcript"
)

type chatCommander struct {
	relayTarget    string
	apiTarget      string
	userID         string
	conversationID string
	resume         bool
	configDir      string
	debug          bool

	in     io.Reader
	out    *cliui.Output
	logger *slog.Logger

	relay   *chatapi.Client
	api     *chatapi.Client
	dotdirs *dotdir.Manager

	transcript *transcript.Transcript
}

const chatLongDesc string = `Start an interactive chat session through the chatrelay relay.

Answers stream into the terminal as they are generated. A new conversation
is created by the backend on the first answer; its id is remembered so
"chatrelay chat --continue" picks it back up.

Commands typed at the prompt:
  /new     Start a new conversation
  /exit    Quit (Ctrl+D works too)

Ctrl+C while an answer is streaming abandons that answer.

Examples:
  chatrelay chat --user-id alice
  chatrelay chat --user-id alice --continue
  chatrelay chat --user-id alice --conversation 3f1c...`

const chatShortDesc string = "Interactive chat through the chatrelay relay"

var chatFlags = []string{
	config.FlagRelayTarget,
	config.FlagAPITarget,
	config.FlagUserID,
}

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, config.Flags, chatFlags)

			cmder.relayTarget = v.GetString("client.relay_target")
			cmder.apiTarget = v.GetString("client.api_target")
			cmder.userID = strings.TrimSpace(v.GetString("client.user_id"))
			if cmder.userID == "" {
				return errors.New("a user id is required: pass --user-id or run \"chatrelay config set client.user_id <id>\"")
			}
			if cmder.resume && cmder.conversationID != "" {
				return errors.New("--continue and --conversation are mutually exclusive")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			cmder.in = cmd.InOrStdin()
			cmder.out = cliui.NewOutput(cmd.OutOrStdout())
			cmder.logger = logger.New(
				logger.WithWriter(cmd.ErrOrStderr()),
				logger.WithPretty(true),
				logger.WithDebug(cmder.debug),
				logger.WithComponent("chat"),
			)

			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagRelayTarget, &cmder.relayTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagAPITarget, &cmder.apiTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagUserID, &cmder.userID)
	cmd.Flags().StringVarP(&cmder.conversationID, "conversation", "c", "", "Resume the conversation with this id")
	cmd.Flags().BoolVar(&cmder.resume, "continue", false, "Resume the last conversation of this user")

	return cmd
}

func (c *chatCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var err error
	c.relay, err = chatapi.New(c.relayTarget, chatapi.WithLogger(c.logger))
	if err != nil {
		return fmt.Errorf("relay target: %w", err)
	}
	c.api, err = chatapi.New(c.apiTarget, chatapi.WithLogger(c.logger))
	if err != nil {
		return fmt.Errorf("api target: %w", err)
	}
	c.dotdirs = dotdir.NewManager()

	if c.resume {
		session, err := c.dotdirs.LoadSession(c.configDir)
		if err != nil {
			return fmt.Errorf("loading session: %w", err)
		}
		if session != nil && session.UserID == c.userID {
			c.conversationID = session.ConversationID
		}
	}

	c.out.Println("")
	if err := c.open(ctx); err != nil {
		return err
	}
	c.out.Printf("  %s\n\n", cliui.DimStyle.Render("Type your message and press Enter. /new for a new conversation, /exit or Ctrl+D to quit."))

	scanner := bufio.NewScanner(c.in)

	for {
		c.out.Print(cliui.UserPrompt)
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "/exit":
			c.out.Println("")
			return nil
		case "/new":
			c.conversationID = ""
			if err := c.dotdirs.ClearSession(c.configDir); err != nil {
				c.logger.Warn("could not clear session", "error", err)
			}
			c.out.Println("")
			if err := c.open(ctx); err != nil {
				return err
			}
			continue
		}

		c.send(ctx, input)
		c.out.Println("")
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	c.out.Println("")
	return nil
}

// open resets the transcript for the current conversation, loading and
// printing its history when resuming.
func (c *chatCommander) open(ctx context.Context) error {
	if c.conversationID == "" {
		c.transcript = transcript.New()
		c.out.Printf("  %s New conversation\n", cliui.DimStyle.Render("●"))
		return nil
	}

	var messages []chat.Message
	err := c.out.Step("Loading conversation "+cliui.IDStyle.Render(c.conversationID), func() error {
		var err error
		messages, err = c.api.ListMessages(ctx, c.conversationID)
		return err
	})
	if err != nil {
		return fmt.Errorf("loading conversation %s: %w", c.conversationID, err)
	}

	c.transcript = transcript.FromMessages(messages)
	c.out.Printf("  %s Resuming %s %s\n\n",
		cliui.DimStyle.Render("●"),
		cliui.IDStyle.Render(c.conversationID),
		cliui.DimStyle.Render(fmt.Sprintf("(%d messages)", c.transcript.Len())),
	)
	printTurns(c.out, c.transcript.Turns())

	return nil
}

// send streams one answer. Failures are reported in the terminal and never
// end the session.
func (c *chatCommander) send(ctx context.Context, input string) {
	streamCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	req := chat.NewRequest(c.userID, c.conversationID, input)
	resp, err := c.relay.OpenStream(streamCtx, req, nil)
	if err != nil {
		c.logger.Debug("could not open stream", "error", err)
		c.out.Printf("  %s %s\n", cliui.FailMark, cliui.ErrorStyle.Render(unavailableMessage(err)))
		return
	}
	defer resp.Body.Close()

	if _, err := c.transcript.AppendUser(input); err != nil {
		c.logger.Error("could not record message", "error", err)
		return
	}

	renderer := newStreamRenderer(c.out)
	renderer.onCreated = func(id string) { c.conversationCreated(ctx, id) }
	renderer.onPreview = func(id string) { c.saveSession(id) }

	r := reducer.New(c.transcript, renderer,
		reducer.WithLogger(c.logger),
		reducer.WithConversationID(c.conversationID),
	)

	state := r.Run(streamCtx, resp.Body)
	if state == reducer.StateCancelled {
		renderer.cancelled()
	}
}

// conversationCreated routes the session to a conversation the backend just
// created and refreshes the conversation list to show its title.
func (c *chatCommander) conversationCreated(ctx context.Context, id string) {
	c.conversationID = id
	c.saveSession(id)

	title := ""
	conversations, err := c.api.ListConversations(ctx, c.userID)
	if err != nil {
		c.logger.Debug("could not refresh conversations", "error", err)
	}
	for _, conv := range conversations {
		if conv.ID == id {
			title = conv.Title
			break
		}
	}

	if title == "" {
		c.out.Printf("  %s %s\n", cliui.DimStyle.Render("● Conversation"), cliui.IDStyle.Render(id))
		return
	}
	c.out.Printf("  %s %s %s\n",
		cliui.DimStyle.Render("● Conversation"),
		cliui.NameStyle.Render(title),
		cliui.DimStyle.Render("("+id+")"),
	)
}

func (c *chatCommander) saveSession(id string) {
	if id == "" {
		return
	}

	err := c.dotdirs.SaveSession(&dotdir.SessionState{
		ConversationID: id,
		UserID:         c.userID,
		UpdatedAt:      time.Now().UTC(),
	}, c.configDir)
	if err != nil {
		c.logger.Warn("could not save session", "error", err)
	}
}

func unavailableMessage(err error) string {
	var unavailable *chat.UpstreamUnavailableError
	if errors.As(err, &unavailable) && unavailable.StatusCode != 0 {
		return fmt.Sprintf("The chat service is unavailable (status %d). Please try again.", unavailable.StatusCode)
	}
	return "Could not reach the chat service. Please try again."
}

// Command redstone-watch sends one message to a redstone server and renders
// the streamed turn in the terminal. Without a message argument it prompts
// for one.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/redstone-dev/redstone/internal/scheduler"
	"github.com/redstone-dev/redstone/internal/tui"
	"github.com/redstone-dev/redstone/internal/wsclient"
)

type options struct {
	server    string
	token     string
	clientID  string
	stack     string
	workflow  string
	workspace string
	session   string
	apply     bool
	message   string
}

func newRootCmd() *cobra.Command {
	var o options

	cmd := &cobra.Command{
		Use:          "redstone-watch [message]",
		Short:        "Send a message to a redstone server and watch the turn",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			o.message = strings.TrimSpace(strings.Join(args, " "))
			if o.message == "" {
				if err := prompt(&o); err != nil {
					return err
				}
			}
			if o.message == "" {
				return errors.New("a message is required")
			}
			if o.clientID == "" {
				o.clientID = uuid.NewString()
			}
			return run(cmd.Context(), o)
		},
	}

	cmd.Flags().StringVar(&o.server, "server", "http://localhost:8080", "Redstone server URL")
	cmd.Flags().StringVar(&o.token, "token", os.Getenv("REDSTONE_TOKEN"), "Bearer token (default $REDSTONE_TOKEN)")
	cmd.Flags().StringVar(&o.clientID, "client", "", "Client id (default random)")
	cmd.Flags().StringVar(&o.stack, "stack", "", "Built-in stack slug")
	cmd.Flags().StringVar(&o.workflow, "workflow", "", "Custom workflow id")
	cmd.Flags().StringVar(&o.workspace, "workspace", "", "Workspace id")
	cmd.Flags().StringVar(&o.session, "session", "", "Continue an existing session")
	cmd.Flags().BoolVar(&o.apply, "apply", false, "Apply file changes to the workspace")
	return cmd
}

// prompt asks for whatever the command line left out.
func prompt(o *options) error {
	form := huh.NewForm(huh.NewGroup(promptFields(o)...))
	if err := form.Run(); err != nil {
		return fmt.Errorf("prompt: %w", err)
	}
	o.message = strings.TrimSpace(o.message)
	return nil
}

// promptFields builds the form. A stack is only offered when no stack or
// workflow flag was given.
func promptFields(o *options) []huh.Field {
	fields := []huh.Field{
		huh.NewText().
			Title("Message").
			Description("What should the agents do?").
			Value(&o.message).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("message cannot be empty")
				}
				return nil
			}),
	}
	if o.stack == "" && o.workflow == "" {
		fields = append(fields, huh.NewSelect[string]().
			Title("Stack").
			Options(stackOptions()...).
			Value(&o.stack))
	}
	fields = append(fields, huh.NewConfirm().
		Title("Apply file changes to the workspace?").
		Value(&o.apply))
	return fields
}

func stackOptions() []huh.Option[string] {
	stacks := scheduler.Stacks()
	opts := make([]huh.Option[string], 0, len(stacks))
	for _, s := range stacks {
		label := fmt.Sprintf("%s (%s, %s tier)", s.Name, s.Focus, s.Tier)
		opt := huh.NewOption(label, s.Slug)
		if s.Slug == scheduler.DefaultStackSlug {
			opt = opt.Selected(true)
		}
		opts = append(opts, opt)
	}
	return opts
}

// endpoint builds the WebSocket URL for the client.
func endpoint(server, clientID string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/agents/ws/" + url.PathEscape(clientID)
	return u.String(), nil
}

func main() {
	// The TUI owns the terminal; only errors go to stderr.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).Level(zerolog.ErrorLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, o options) error {
	wsURL, err := endpoint(o.server, o.clientID)
	if err != nil {
		return err
	}

	// ctx also bounds the reconnect loop for the life of the client.
	client, err := wsclient.Dial(ctx, wsURL, wsclient.Options{Token: o.token, MaxElapsedTime: 2 * time.Minute})
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Send(wsclient.Message{
		Content:      o.message,
		SessionID:    o.session,
		Stack:        o.stack,
		WorkflowID:   o.workflow,
		WorkspaceID:  o.workspace,
		ApplyChanges: o.apply,
	}); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	p := tea.NewProgram(tui.New(client.Events(), client.Cancel), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/easybali/travelchat/pkg/chat"
	"github.com/easybali/travelchat/pkg/client"
	"github.com/easybali/travelchat/pkg/duplex"
	"github.com/easybali/travelchat/pkg/menu"
	"github.com/easybali/travelchat/pkg/persistence/history"
	"github.com/easybali/travelchat/pkg/render"
	"github.com/easybali/travelchat/pkg/session"
)

var (
	botPrefix  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208")).Render("assistant")
	userPrefix = lipgloss.NewStyle().Bold(true).Render("you")
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

var chatCmd = &cobra.Command{
	Use:   "chat [tool]",
	Short: "Open a conversation with a travel tool",
	Long: `Open a conversation with one of the travel tools (see "travelchat tools"),
or join an order-service session with --session.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func init() {
	f := chatCmd.Flags()
	f.String("session", "", "order-service session id (duplex chat)")
	f.String("message", "", "first line of an order-service conversation")
	f.String("ask", "", "send this message immediately on open")
	f.String("user", "", "override the stored user id")
	f.Bool("resume", false, "resume stored history instead of starting with the tool greeting")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadSettings()

	store := openStore(cfg)
	defer func() { _ = store.Close() }()

	identity := client.NewUserIDProvider(cfg.UserIDFile)
	api := client.New(client.Config{BaseURL: cfg.BaseURL})

	sessionID, _ := cmd.Flags().GetString("session")
	ask, _ := cmd.Flags().GetString("ask")
	userOverride, _ := cmd.Flags().GetString("user")
	resume, _ := cmd.Flags().GetBool("resume")

	inputs, err := buildInputs(cmd, args, identity, sessionID, ask, userOverride, resume)
	if err != nil {
		return err
	}
	if inputs == nil {
		// A submenu tool; entries were already printed.
		return nil
	}

	renderer := render.New()
	sess := session.New(session.Options{
		Inputs:   *inputs,
		Store:    store,
		API:      api,
		Identity: identity,
		Duplex:   duplex.Config{BaseURL: cfg.BaseURL},
		OnMessage: func(m chat.Message) {
			printMessage(renderer, m)
		},
		OnConnectionState: func(st duplex.State) {
			fmt.Println(dimStyle.Render("· connection " + st.String()))
		},
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sess.Start(ctx)
	if sess.Resolution().Source == session.SourceNone {
		return errors.New("nothing to chat with: pass a tool name or --session")
	}
	fmt.Println(dimStyle.Render("— " + sess.Resolution().ActiveTab + " — type a message, ctrl-d to leave —"))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			cancel()
		case <-egCtx.Done():
		}
		return nil
	})
	eg.Go(func() error {
		defer cancel()
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if err := sess.Send(egCtx, line); err != nil {
				switch {
				case errors.Is(err, session.ErrBusy):
					fmt.Println(dimStyle.Render("· still waiting for a reply"))
				case errors.Is(err, session.ErrClosed):
					return nil
				default:
					log.Warn().Err(err).Msg("send failed")
				}
			}
			if egCtx.Err() != nil {
				return nil
			}
		}
		return scanner.Err()
	})

	err = eg.Wait()
	sess.Close()
	return err
}

// buildInputs maps CLI arguments onto the session's initialization sources:
// tool name -> props, --ask -> legacy navigation handoff, --session -> duplex.
func buildInputs(cmd *cobra.Command, args []string, identity session.Identity, sessionID, ask, userOverride string, resume bool) (*session.Inputs, error) {
	if sessionID != "" {
		message, _ := cmd.Flags().GetString("message")
		if message == "" {
			message = "Connected to your order session."
		}
		return &session.Inputs{Nav: &session.Navigation{SessionID: sessionID, Message: message}}, nil
	}
	if len(args) == 0 {
		return nil, errors.New("pass a tool name or --session (see \"travelchat tools\")")
	}
	tool, ok := menu.Lookup(args[0])
	if !ok {
		return nil, errors.Errorf("unknown tool %q", args[0])
	}
	if tool.Submenu != "" {
		return nil, printSubmenu(cmd.Context(), tool.Submenu)
	}
	if tool.Kind == "" {
		return nil, errors.Errorf("tool %q does not open a chat", tool.Name)
	}
	userID := userOverride
	if userID == "" {
		userID = identity.UserID()
	}
	if ask != "" {
		// Legacy handoff: a user message arrives with the navigation and is
		// auto-sent once the session mounts.
		userMsg := chat.NewUserMessage(ask)
		return &session.Inputs{Nav: &session.Navigation{
			Kind:               tool.Kind,
			UserID:             userID,
			ActiveTab:          tool.Name,
			InitialUserMessage: &userMsg,
		}}, nil
	}
	in := &session.Inputs{Kind: tool.Kind, UserID: userID, ToolName: tool.Name}
	if !resume && tool.Greeting != "" {
		greeting := chat.NewBotMessage(tool.Greeting)
		in.InitialBotMessage = &greeting
	}
	return in, nil
}

func printSubmenu(ctx context.Context, name string) error {
	cfg := loadSettings()
	api := client.New(client.Config{BaseURL: cfg.BaseURL})
	entries, err := api.GetSubMenu(ctx, name)
	if err != nil {
		return errors.Wrapf(err, "load %s", name)
	}
	fmt.Println(lipgloss.NewStyle().Bold(true).Render(name))
	for _, e := range entries {
		label, _ := e["name"].(string)
		if label == "" {
			label = fmt.Sprintf("%v", e)
		}
		fmt.Println("  · " + label)
	}
	return nil
}

func openStore(cfg settings) history.Store {
	store, err := history.NewSQLiteStore(cfg.HistoryDB)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.HistoryDB).Msg("could not open history db, conversations will not persist")
		return history.NewMemoryStore()
	}
	return store
}

func printMessage(renderer *render.Renderer, m chat.Message) {
	ts := dimStyle.Render(m.Timestamp)
	if m.Sender == chat.SenderBot {
		fmt.Printf("%s %s\n%s\n", botPrefix, ts, renderer.Render(m.Text))
		return
	}
	fmt.Printf("%s %s\n%s\n", userPrefix, ts, m.Text)
}

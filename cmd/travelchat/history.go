package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/easybali/travelchat/pkg/chat"
	"github.com/easybali/travelchat/pkg/client"
	"github.com/easybali/travelchat/pkg/menu"
	"github.com/easybali/travelchat/pkg/persistence/history"
	"github.com/easybali/travelchat/pkg/render"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect or erase stored conversations",
}

func init() {
	show := &cobra.Command{
		Use:   "show",
		Short: "Print a stored conversation",
		RunE:  func(cmd *cobra.Command, args []string) error { return historyOp(cmd, false) },
	}
	clear := &cobra.Command{
		Use:   "clear",
		Short: "Erase a stored conversation",
		RunE:  func(cmd *cobra.Command, args []string) error { return historyOp(cmd, true) },
	}
	for _, c := range []*cobra.Command{show, clear} {
		c.Flags().String("tool", "", "tool name or conversation kind")
		c.Flags().String("session", "", "order-service session id")
	}
	historyCmd.AddCommand(show, clear)
}

func historyOp(cmd *cobra.Command, erase bool) error {
	cfg := loadSettings()
	store := openStore(cfg)
	defer func() { _ = store.Close() }()

	key, err := historyKey(cmd, cfg)
	if err != nil {
		return err
	}
	if erase {
		return store.Clear(cmd.Context(), key)
	}
	msgs, err := store.Load(cmd.Context(), key)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Println(dimStyle.Render("no stored messages"))
		return nil
	}
	renderer := render.New()
	for _, m := range msgs {
		printMessage(renderer, m)
	}
	return nil
}

func historyKey(cmd *cobra.Command, cfg settings) (history.Key, error) {
	sessionID, _ := cmd.Flags().GetString("session")
	toolName, _ := cmd.Flags().GetString("tool")
	switch {
	case sessionID != "":
		return history.DuplexKey(sessionID), nil
	case toolName != "":
		kind, err := chat.ParseKind(toolName)
		if err != nil {
			tool, ok := menu.Lookup(toolName)
			if !ok || tool.Kind == "" {
				return history.Key{}, errors.Errorf("unknown tool %q", toolName)
			}
			kind = tool.Kind
		}
		userID := client.NewUserIDProvider(cfg.UserIDFile).UserID()
		return history.APIKey(userID, kind), nil
	default:
		return history.Key{}, errors.New("pass --tool or --session")
	}
}

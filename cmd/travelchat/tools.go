package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/easybali/travelchat/pkg/menu"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the available travel tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		tools, err := menu.Load()
		if err != nil {
			return err
		}
		nameStyle := lipgloss.NewStyle().Bold(true)
		for _, t := range tools {
			detail := ""
			switch {
			case t.Kind != "":
				detail = dimStyle.Render("chat · " + string(t.Kind))
			case t.Submenu != "":
				detail = dimStyle.Render("menu")
			}
			fmt.Printf("%-28s %s\n", nameStyle.Render(t.Name), detail)
		}
		return nil
	},
}

// travelchat is a terminal chat client for the easybali travel assistant.
// The interesting part lives in pkg/session and pkg/duplex; this binary is
// the mounting chrome around them.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:           "travelchat",
	Short:         "Chat with the easybali travel assistant",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(viper.GetString("log-level"))
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("log-level", "warn", "log level (trace, debug, info, warn, error)")
	pf.String("base-url", "http://localhost:8000", "backend base URL")
	pf.String("history-db", "", "path to the chat history database (default: config dir)")
	cobra.CheckErr(viper.BindPFlags(pf))

	viper.SetEnvPrefix("TRAVELCHAT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if dir, err := configDir(); err == nil {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(dir)
		_ = viper.ReadInConfig()
	}

	rootCmd.AddCommand(chatCmd, toolsCmd, historyCmd)
}

func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).Level(lvl)
	return nil
}

func configDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "travelchat"), nil
}

// settings is the resolved runtime configuration.
type settings struct {
	BaseURL    string
	HistoryDB  string
	UserIDFile string
}

func loadSettings() settings {
	s := settings{
		BaseURL:   viper.GetString("base-url"),
		HistoryDB: viper.GetString("history-db"),
	}
	if dir, err := configDir(); err == nil {
		if s.HistoryDB == "" {
			s.HistoryDB = filepath.Join(dir, "history.db")
		}
		s.UserIDFile = filepath.Join(dir, "user-id")
		_ = os.MkdirAll(dir, 0o755)
	}
	return s
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

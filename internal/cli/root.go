// Package cli implements tripctl, a terminal client for TripSync rooms.
package cli

import (
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func Execute(ctx context.Context) error {
	return NewRootCmd(viper.New()).ExecuteContext(ctx)
}

func NewRootCmd(v *viper.Viper) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "tripctl",
		Short:         "tripctl: create and join TripSync planning rooms",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := zerolog.WarnLevel
			if v.GetBool("verbose") {
				level = zerolog.DebugLevel
			}
			log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
		},
	}

	v.SetEnvPrefix("tripctl")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	pf := rootCmd.PersistentFlags()
	pf.String("server", "http://localhost:8080", "TripSync server base URL")
	pf.String("name", "", "display name used for login and in rooms")
	pf.BoolP("verbose", "v", false, "debug logging")
	_ = v.BindPFlags(pf)

	rootCmd.AddCommand(
		newRoomCmd(v),
		newJoinCmd(v),
	)
	return rootCmd
}

func displayName(v *viper.Viper) string {
	if n := strings.TrimSpace(v.GetString("name")); n != "" {
		return n
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "guest"
}

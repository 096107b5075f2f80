package cli

import (
	"fmt"

	"github.com/dkeye/tripsync/internal/app/lifecycle"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRoomCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Create and look up rooms",
	}
	cmd.AddCommand(
		newRoomCreateCmd(v),
		newRoomResolveCmd(v),
	)
	return cmd
}

func newRoomCreateCmd(v *viper.Viper) *cobra.Command {
	var (
		req      lifecycle.CreateRoomRequest
		amount   float64
		currency string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a room owned by you",
		RunE: func(cmd *cobra.Command, _ []string) error {
			api := NewAPI(v.GetString("server"))
			if _, err := api.Login(cmd.Context(), displayName(v)); err != nil {
				return err
			}
			if amount > 0 || currency != "" {
				req.Budget = &lifecycle.BudgetRequest{Amount: amount, Currency: currency}
			}
			res, err := api.CreateRoom(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "room\t%s\n", res.Room.ID)
			_, _ = fmt.Fprintf(out, "join code\t%s\n", res.JoinCode)
			_, _ = fmt.Fprintf(out, "share link\t%s\n", res.ShareLink)
			for _, a := range res.SuggestedActions {
				_, _ = fmt.Fprintf(out, "- %s\n", a)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.TripName, "trip", "", "trip name")
	f.StringVar(&req.Destination, "destination", "", "destination")
	f.StringVar(&req.StartDate, "start", "", "start date (YYYY-MM-DD)")
	f.StringVar(&req.EndDate, "end", "", "end date (YYYY-MM-DD)")
	f.StringVar(&req.Description, "description", "", "free-text description")
	f.StringSliceVar(&req.Tags, "tag", nil, "tag (repeatable)")
	f.IntVar(&req.MaxParticipants, "max", 0, "maximum participants (default 10)")
	f.BoolVar(&req.IsPublic, "public", false, "make the room public")
	f.Float64Var(&amount, "budget", 0, "budget amount")
	f.StringVar(&currency, "currency", "", "budget currency")
	return cmd
}

func newRoomResolveCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <join-code>",
		Short: "Show the room behind a join code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := NewAPI(v.GetString("server")).ResolveJoinCode(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			r := res.Room
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\t%d participant(s)\n",
				r.ID, r.Name, r.Destination, r.Status, len(r.Participants))
			return nil
		},
	}
}

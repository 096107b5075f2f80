package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dkeye/tripsync/internal/adapters/wsclient"
	"github.com/dkeye/tripsync/internal/domain"
	"github.com/dkeye/tripsync/internal/protocol"
	"github.com/dkeye/tripsync/internal/session"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newJoinCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "join <join-code | room-id>",
		Short: "Join a room and open an interactive session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			api := NewAPI(v.GetString("server"))
			me, err := api.Login(ctx, displayName(v))
			if err != nil {
				return err
			}

			var res *JoinResponse
			if strings.HasPrefix(args[0], "room_") {
				res, err = api.Room(ctx, domain.RoomID(args[0]))
			} else {
				res, err = api.ResolveJoinCode(ctx, args[0])
			}
			if err != nil {
				return err
			}
			endpoint, err := api.WebsocketURL()
			if err != nil {
				return err
			}

			out := &syncWriter{w: cmd.OutOrStdout()}
			client := session.NewClient(wsclient.Dialer{Cookie: api.CookieHeader()}, session.Options{})
			Watch(client, out, me.ID)

			creds := session.Credentials{RoomID: res.Room.ID, UserID: me.ID, UserName: me.DisplayName}
			if err := client.Connect(ctx, endpoint, creds); err != nil {
				return err
			}
			fmt.Fprintf(out, "joined %s (%s) as %s; /help for commands\n", res.Room.Name, res.Room.ID, me.DisplayName)

			sh := &Shell{P: client, Out: out}
			return sh.Run(ctx, cmd.InOrStdin())
		},
	}
}

// Subscriber is the subscription side of a Session Client.
type Subscriber interface {
	OnMessage(kind protocol.Kind, h session.Handler) error
	OnTyping(h func(user domain.UserID, name string, typing bool))
	OnSyncResponse(h func(protocol.SyncResponsePayload))
	OnError(h func(protocol.ErrorPayload))
	OnStateChange(h func(session.State))
	OnDisconnected(h func(error))
}

// Watch prints room activity to out. Events authored by self are not echoed.
func Watch(s Subscriber, out io.Writer, self domain.UserID) {
	line := func(env protocol.Envelope, format string, args ...any) {
		if env.UserID == self {
			return
		}
		fmt.Fprintf(out, "[%s] %s "+format+"\n",
			append([]any{env.Timestamp.Local().Format("15:04"), env.UserName}, args...)...)
	}
	_ = s.OnMessage(protocol.KindJoin, func(env protocol.Envelope, _ protocol.Payload) {
		line(env, "joined")
	})
	_ = s.OnMessage(protocol.KindLeave, func(env protocol.Envelope, _ protocol.Payload) {
		line(env, "left")
	})
	_ = s.OnMessage(protocol.KindChat, func(env protocol.Envelope, p protocol.Payload) {
		line(env, ": %s", p.(protocol.ChatPayload).Message)
	})
	_ = s.OnMessage(protocol.KindVote, func(env protocol.Envelope, p protocol.Payload) {
		v := p.(protocol.VotePayload)
		line(env, "voted %s on %s", v.VoteType, v.ActivityID)
	})
	_ = s.OnMessage(protocol.KindComment, func(env protocol.Envelope, p protocol.Payload) {
		c := p.(protocol.CommentPayload)
		if c.ActivityID != "" {
			line(env, "commented on %s: %s", c.ActivityID, c.Content)
			return
		}
		line(env, "commented: %s", c.Content)
	})
	_ = s.OnMessage(protocol.KindUpdate, func(env protocol.Envelope, p protocol.Payload) {
		u := p.(protocol.UpdatePayload)
		switch {
		case u.Status != "":
			line(env, "set status to %s", u.Status)
		case len(u.Itinerary) > 0:
			line(env, "updated the itinerary (%d item(s))", len(u.Itinerary))
		default:
			line(env, "updated the trip")
		}
	})
	s.OnTyping(func(user domain.UserID, name string, typing bool) {
		if user == self || !typing {
			return
		}
		fmt.Fprintf(out, "%s is typing...\n", name)
	})
	s.OnSyncResponse(func(p protocol.SyncResponsePayload) {
		if p.Room == nil {
			return
		}
		fmt.Fprintf(out, "synced %s: %s, %d participant(s), %d online\n",
			p.Room.Name, p.Room.Status, len(p.Room.Participants), len(p.Presence))
	})
	s.OnError(func(e protocol.ErrorPayload) {
		fmt.Fprintf(out, "! %s: %s\n", e.Code, e.Message)
	})
	s.OnStateChange(func(st session.State) {
		if st == session.Reconnecting || st == session.Connected {
			fmt.Fprintf(out, "* %s\n", st)
		}
	})
	s.OnDisconnected(func(err error) {
		fmt.Fprintf(out, "* disconnected: %v\n", err)
	})
}

// syncWriter serializes writes from handler goroutines and the shell.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

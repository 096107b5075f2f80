package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dkeye/tripsync/internal/domain"
	"github.com/dkeye/tripsync/internal/protocol"
)

// Participant is the part of a Session Client the shell drives.
type Participant interface {
	SendChat(message string) error
	SendVote(activityID string, kind domain.VoteKind) error
	SendComment(content, activityID, parentID string) error
	SendTyping(typing bool) error
	SendUpdate(u protocol.UpdatePayload) error
	RequestSync() error
	Pending() int
	Disconnect(ctx context.Context) error
}

const shellHelp = `commands:
  <text>                         chat
  /vote <activity> <kind>        upvote | downvote | interested | not_interested
  /comment [@activity] <text>    comment, optionally on an activity
  /typing                        toggle typing indicator
  /sync                          request a full room snapshot
  /status <status>               planning | confirmed | completed | cancelled (owner only)
  /pending                       show queued events
  /quit                          leave the room`

// Shell turns input lines into Session Client actions until /quit or EOF.
type Shell struct {
	P      Participant
	Out    io.Writer
	typing bool
}

func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		quit, err := s.Exec(sc.Text())
		if err != nil {
			fmt.Fprintf(s.Out, "! %v\n", err)
		}
		if quit {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return s.P.Disconnect(ctx)
}

// Exec runs one input line and reports whether the shell should stop.
func (s *Shell) Exec(line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, s.P.SendChat(line)
	}
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(s.Out, shellHelp)
	case "/vote":
		args := strings.Fields(rest)
		if len(args) != 2 {
			return false, fmt.Errorf("usage: /vote <activity> <kind>")
		}
		return false, s.P.SendVote(args[0], domain.VoteKind(args[1]))
	case "/comment":
		activity := ""
		if strings.HasPrefix(rest, "@") {
			activity, rest, _ = strings.Cut(strings.TrimPrefix(rest, "@"), " ")
		}
		return false, s.P.SendComment(strings.TrimSpace(rest), activity, "")
	case "/typing":
		s.typing = !s.typing
		return false, s.P.SendTyping(s.typing)
	case "/sync":
		return false, s.P.RequestSync()
	case "/status":
		return false, s.P.SendUpdate(protocol.UpdatePayload{Status: domain.RoomStatus(rest)})
	case "/pending":
		fmt.Fprintf(s.Out, "%d event(s) queued\n", s.P.Pending())
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
	return false, nil
}

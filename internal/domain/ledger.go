package domain

import "time"

type VoteKind string

const (
	VoteUp            VoteKind = "upvote"
	VoteDown          VoteKind = "downvote"
	VoteInterested    VoteKind = "interested"
	VoteNotInterested VoteKind = "not_interested"
)

// Value maps a vote kind onto the numeric ledger value.
func (k VoteKind) Value() (int, error) {
	switch k {
	case VoteUp, VoteInterested:
		return 1, nil
	case VoteDown, VoteNotInterested:
		return -1, nil
	}
	return 0, ErrInvalidVoteKind
}

type Vote struct {
	UserID     UserID    `json:"userId"`
	ActivityID string    `json:"activityId"`
	Kind       VoteKind  `json:"kind"`
	Value      int       `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}

type Comment struct {
	ID         string    `json:"id"`
	UserID     UserID    `json:"userId"`
	Content    string    `json:"content"`
	ActivityID string    `json:"activityId,omitempty"`
	ParentID   string    `json:"parentId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type voteKey struct {
	user     UserID
	activity string
}

// CastVote appends v to the history. The current tally treats (user, activity) as an upsert.
func (r *Room) CastVote(v Vote) error {
	val, err := v.Kind.Value()
	if err != nil {
		return err
	}
	v.Value = val
	r.Votes = append(r.Votes, v)
	return nil
}

// CurrentVotes returns one vote per (user, activity): the latest by timestamp,
// with ledger order breaking ties.
func (r *Room) CurrentVotes() []Vote {
	idx := make(map[voteKey]int, len(r.Votes))
	out := make([]Vote, 0, len(r.Votes))
	for _, v := range r.Votes {
		k := voteKey{v.UserID, v.ActivityID}
		if i, ok := idx[k]; ok {
			if !v.Timestamp.Before(out[i].Timestamp) {
				out[i] = v
			}
			continue
		}
		idx[k] = len(out)
		out = append(out, v)
	}
	return out
}

func (r *Room) CurrentVote(uid UserID, activityID string) (Vote, bool) {
	for _, v := range r.CurrentVotes() {
		if v.UserID == uid && v.ActivityID == activityID {
			return v, true
		}
	}
	return Vote{}, false
}

// Tally sums the current vote values for one activity.
func (r *Room) Tally(activityID string) int {
	sum := 0
	for _, v := range r.CurrentVotes() {
		if v.ActivityID == activityID {
			sum += v.Value
		}
	}
	return sum
}

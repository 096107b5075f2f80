// Package lifecycle mints collaboration rooms and resolves their join artifacts.
package lifecycle

//go:generate mockgen -destination=mock_ports_test.go -package=lifecycle github.com/dkeye/tripsync/internal/core IdentityResolver,RoomRepository

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/dkeye/tripsync/internal/core"
	"github.com/dkeye/tripsync/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	dateLayout        = "2006-01-02"
	maxInsertAttempts = 3
)

// Caller is the authenticated identity behind a request. An empty UserID means anonymous.
type Caller struct {
	UserID domain.UserID
}

type BudgetRequest struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

type CreateRoomRequest struct {
	TripName        string         `json:"tripName"`
	Destination     string         `json:"destination"`
	StartDate       string         `json:"startDate"`
	EndDate         string         `json:"endDate"`
	Budget          *BudgetRequest `json:"budget,omitempty"`
	MaxParticipants int            `json:"maxParticipants,omitempty"`
	IsPublic        bool           `json:"isPublic,omitempty"`
	Description     string         `json:"description,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
}

type CreateRoomResult struct {
	Room             *domain.Room `json:"room"`
	ShareLink        string       `json:"shareLink"`
	JoinCode         string       `json:"joinCode"`
	SuggestedActions []string     `json:"suggestedActions"`
}

type Service struct {
	rooms    core.RoomRepository
	identity core.IdentityResolver
	codes    CodeGenerator
	baseURL  string
	clock    clockwork.Clock
}

type Option func(*Service)

func WithCodeGenerator(g CodeGenerator) Option { return func(s *Service) { s.codes = g } }

func WithClock(c clockwork.Clock) Option { return func(s *Service) { s.clock = c } }

func NewService(rooms core.RoomRepository, identity core.IdentityResolver, baseURL string, opts ...Option) *Service {
	if rooms == nil || identity == nil {
		panic("lifecycle: room repository and identity resolver are required")
	}
	s := &Service{
		rooms:    rooms,
		identity: identity,
		codes:    RandomCodes{},
		baseURL:  strings.TrimRight(baseURL, "/"),
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRoom validates the request, resolves the caller and persists a new room owned by them.
// Nothing is written unless validation and identity resolution succeed.
func (s *Service) CreateRoom(ctx context.Context, caller Caller, req CreateRoomRequest) (*CreateRoomResult, error) {
	start, end, err := validate(req)
	if err != nil {
		return nil, err
	}
	if caller.UserID == "" {
		return nil, domain.ErrUnauthenticated
	}
	user, err := s.identity.LookupUser(ctx, caller.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("user %s: %w", caller.UserID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("resolve caller: %w", err)
	}
	logger := log.With().Str("module", "lifecycle").Str("owner", string(user.ID)).Logger()

	now := s.clock.Now().UTC()
	room := &domain.Room{
		Name:            strings.TrimSpace(req.TripName),
		Destination:     strings.TrimSpace(req.Destination),
		Description:     req.Description,
		StartDate:       start,
		EndDate:         end,
		OwnerID:         user.ID,
		Status:          domain.StatusPlanning,
		IsPublic:        req.IsPublic,
		MaxParticipants: req.MaxParticipants,
		Tags:            slices.Clone(req.Tags),
		Participants: []domain.Participant{{
			UserID:      user.ID,
			DisplayName: user.DisplayName,
			Role:        domain.RoleOwner,
			JoinedAt:    now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if room.MaxParticipants <= 0 {
		room.MaxParticipants = domain.DefaultMaxParticipants
	}
	if req.Budget != nil {
		room.Budget = &domain.Budget{Amount: req.Budget.Amount, Currency: strings.ToUpper(req.Budget.Currency)}
	}

	var stored *domain.Room
	for attempt := 0; attempt < maxInsertAttempts; attempt++ {
		code, err := s.uniqueJoinCode(ctx)
		if err != nil {
			return nil, err
		}
		room.ID = domain.NewRoomID()
		room.JoinCode = code
		room.ShareLink = s.ShareLink(room.ID)

		stored, err = s.rooms.Create(ctx, room)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrDuplicateJoinCode) {
			logger.Error().Err(err).Msg("failed to persist room")
			return nil, fmt.Errorf("persist room: %w", err)
		}
		logger.Warn().Str("join_code", code).Int("attempt", attempt+1).Msg("join code taken on insert, regenerating")
		stored = nil
	}
	if stored == nil {
		return nil, fmt.Errorf("persist room: %w", domain.ErrDuplicateJoinCode)
	}

	logger.Info().Str("room", string(stored.ID)).Str("join_code", stored.JoinCode).Msg("room created")
	return &CreateRoomResult{
		Room:      stored,
		ShareLink: stored.ShareLink,
		JoinCode:  stored.JoinCode,
		SuggestedActions: []string{
			"Share the join code or link with your travel companions",
			"Add the first activities to the itinerary",
			"Set a budget so everyone can track spending",
		},
	}, nil
}

// ShareLink is the capability URL for a room: it carries the room id and needs no lookup.
func (s *Service) ShareLink(id domain.RoomID) string {
	link, err := url.JoinPath(s.baseURL, "rooms", string(id), "join")
	if err != nil {
		return s.baseURL + "/rooms/" + string(id) + "/join"
	}
	return link
}

// ResolveJoinCode finds a room by its human join code, ignoring case and surrounding spaces.
func (s *Service) ResolveJoinCode(ctx context.Context, code string) (*domain.Room, error) {
	code = NormalizeJoinCode(code)
	if code == "" {
		return nil, domain.ErrNotFound
	}
	return s.rooms.FindByJoinCode(ctx, code)
}

func (s *Service) Room(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	return s.rooms.FindByID(ctx, id)
}

func (s *Service) uniqueJoinCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.codes.Generate()
		if err != nil {
			return "", fmt.Errorf("generate join code: %w", err)
		}
		exists, err := s.rooms.JoinCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check join code: %w", err)
		}
		if !exists {
			return code, nil
		}
		log.Warn().Str("module", "lifecycle").Str("join_code", code).Int("attempt", attempt+1).Msg("join code exists, retrying")
	}
	return "", fmt.Errorf("no unique join code after %d attempts: %w", maxCodeAttempts, domain.ErrDuplicateJoinCode)
}

func validate(req CreateRoomRequest) (time.Time, time.Time, error) {
	v := &domain.ValidationError{}
	if strings.TrimSpace(req.TripName) == "" {
		v.Add("tripName")
	}
	if strings.TrimSpace(req.Destination) == "" {
		v.Add("destination")
	}
	start, startOK := parseDate(req.StartDate)
	if !startOK {
		v.Add("startDate")
	}
	end, endOK := parseDate(req.EndDate)
	if !endOK {
		v.Add("endDate")
	}
	if startOK && endOK && end.Before(start) {
		v.Add("endDate")
	}
	if req.MaxParticipants < 0 {
		v.Add("maxParticipants")
	}
	if req.Budget != nil && (req.Budget.Amount < 0 || strings.TrimSpace(req.Budget.Currency) == "") {
		v.Add("budget")
	}
	if err := v.OrNil(); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

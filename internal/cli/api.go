package cli

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkeye/tripsync/internal/app/lifecycle"
	"github.com/dkeye/tripsync/internal/domain"
	"github.com/go-resty/resty/v2"
)

// API talks to the TripSync HTTP endpoints. The session cookie from Login is kept
// in the client's jar and reused for later calls and the websocket handshake.
type API struct {
	base   string
	client *resty.Client
}

type apiError struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields"`
}

type JoinResponse struct {
	Room      *domain.Room `json:"room"`
	ShareLink string       `json:"shareLink"`
}

func NewAPI(baseURL string) *API {
	base := strings.TrimRight(baseURL, "/")
	c := resty.New().
		SetBaseURL(base).
		SetTimeout(10*time.Second).
		SetHeader("Accept", "application/json")
	return &API{base: base, client: c}
}

func (a *API) Login(ctx context.Context, displayName string) (*domain.User, error) {
	var u domain.User
	var fail apiError
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"displayName": displayName}).
		SetResult(&u).
		SetError(&fail).
		Post("/api/login")
	if err := check(resp, err, &fail); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return &u, nil
}

func (a *API) CreateRoom(ctx context.Context, req lifecycle.CreateRoomRequest) (*lifecycle.CreateRoomResult, error) {
	var res lifecycle.CreateRoomResult
	var fail apiError
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&res).
		SetError(&fail).
		Post("/api/rooms")
	if err := check(resp, err, &fail); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	return &res, nil
}

func (a *API) ResolveJoinCode(ctx context.Context, code string) (*JoinResponse, error) {
	return a.getRoom(ctx, "/api/join/"+url.PathEscape(lifecycle.NormalizeJoinCode(code)))
}

func (a *API) Room(ctx context.Context, id domain.RoomID) (*JoinResponse, error) {
	return a.getRoom(ctx, "/api/rooms/"+url.PathEscape(string(id)))
}

func (a *API) getRoom(ctx context.Context, path string) (*JoinResponse, error) {
	var res JoinResponse
	var fail apiError
	resp, err := a.client.R().
		SetContext(ctx).
		SetResult(&res).
		SetError(&fail).
		Get(path)
	if err := check(resp, err, &fail); err != nil {
		return nil, err
	}
	return &res, nil
}

// WebsocketURL is the room channel endpoint on the same host.
func (a *API) WebsocketURL() (string, error) {
	u, err := url.Parse(a.base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/ws/room"
	return u.String(), nil
}

// CookieHeader renders the jar's cookies for the API host.
func (a *API) CookieHeader() string {
	u, err := url.Parse(a.base)
	if err != nil || a.client.GetClient().Jar == nil {
		return ""
	}
	var parts []string
	for _, c := range a.client.GetClient().Jar.Cookies(u) {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

func check(resp *resty.Response, err error, fail *apiError) error {
	if err != nil {
		return err
	}
	if !resp.IsError() {
		return nil
	}
	switch resp.StatusCode() {
	case http.StatusBadRequest:
		return &domain.ValidationError{Fields: fail.Fields}
	case http.StatusUnauthorized:
		return domain.ErrUnauthenticated
	case http.StatusForbidden:
		return domain.ErrForbidden
	case http.StatusNotFound:
		return domain.ErrNotFound
	}
	return fmt.Errorf("server returned %s: %s", resp.Status(), fail.Error)
}

// Package api serves the account and room HTTP endpoints.
//
// Every endpoint that changes room membership re-reads the membership of the
// affected users into the router before responding, so live connections see
// the change on their next delivery.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat/internal/auth"
	"github.com/Tyrowin/gochat/internal/store"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

// Refresher reloads router membership for users. *router.Router satisfies it.
type Refresher interface {
	RefreshUsers(ctx context.Context, userIDs ...string) error
}

// Issuer mints tokens for logged-in users. *auth.JWT satisfies it.
type Issuer interface {
	Issue(id auth.Identity) (string, time.Time, error)
}

// API holds the endpoint dependencies.
type API struct {
	store     store.Store
	refresher Refresher
	issuer    Issuer
	verifier  auth.Verifier
	log       zerolog.Logger
}

// New creates the API.
func New(st store.Store, refresher Refresher, issuer Issuer, verifier auth.Verifier, log zerolog.Logger) *API {
	return &API{
		store:     st,
		refresher: refresher,
		issuer:    issuer,
		verifier:  verifier,
		log:       log,
	}
}

// Register mounts the endpoints on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /users", a.createUser)
	mux.HandleFunc("POST /login", a.login)
	mux.Handle("GET /rooms", a.authenticated(a.listRooms))
	mux.Handle("POST /rooms", a.authenticated(a.createRoom))
	mux.Handle("PUT /rooms/exit", a.authenticated(a.exitRoom))
}

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username", "A Username has to be provided.")
		return
	}
	if len(req.Password) < MinPasswordLength {
		writeError(w, http.StatusBadRequest, "password", "A Password with at least 6 characters has to be provided.")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		a.internalError(w, err, "hash password")
		return
	}

	u, err := a.store.CreateUser(r.Context(), req.Username, strings.TrimSpace(req.Email), hash)
	if errors.Is(err, store.ErrUsernameTaken) {
		writeError(w, http.StatusForbidden, "username", "Username is already in use.")
		return
	}
	if err != nil {
		a.internalError(w, err, "create user")
		return
	}

	a.log.Info().Str("user", u.ID).Str("username", u.Username).Msg("user created")
	writeJSON(w, http.StatusOK, userResponse{ID: u.ID, Username: u.Username})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token   string `json:"token"`
	Expires int64  `json:"expires"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	u, err := a.store.UserByName(r.Context(), strings.TrimSpace(req.Username))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "", "Invalid username or password.")
		return
	}
	if err != nil {
		a.internalError(w, err, "load user")
		return
	}
	if err := auth.CheckPassword(u.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "", "Invalid username or password.")
		return
	}

	token, expires, err := a.issuer.Issue(auth.Identity{UserID: u.ID, Username: u.Username})
	if err != nil {
		a.internalError(w, err, "issue token")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, Expires: expires.UnixMilli()})
}

func (a *API) listRooms(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	rooms, err := a.store.RoomsFor(r.Context(), id.UserID)
	if err != nil {
		a.internalError(w, err, "list rooms")
		return
	}
	if rooms == nil {
		rooms = []store.Room{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

type memberRef struct {
	ID string `json:"id"`
}

type createRoomRequest struct {
	Members []memberRef `json:"members"`
}

func (a *API) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Members == nil {
		writeError(w, http.StatusBadRequest, "members", "Members object has to be provided.")
		return
	}

	caller := identityFrom(r.Context())
	members := make([]string, 0, len(req.Members))
	seen := make(map[string]struct{}, len(req.Members))
	callerIncluded := false
	for _, m := range req.Members {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
		if id == caller.UserID {
			callerIncluded = true
		}
	}
	if len(members) < 2 {
		writeError(w, http.StatusBadRequest, "members", "Members object must have at minimum two elements")
		return
	}
	if !callerIncluded {
		writeError(w, http.StatusUnauthorized, "members", "Authorized user is not in members object")
		return
	}

	known, err := a.store.UsersByID(r.Context(), members)
	if err != nil {
		a.internalError(w, err, "look up members")
		return
	}
	if len(known) != len(members) {
		writeError(w, http.StatusBadRequest, "members", "One of the given members is not known.")
		return
	}

	room, err := a.store.CreateRoom(r.Context(), members)
	if errors.Is(err, store.ErrUnknownUser) {
		writeError(w, http.StatusBadRequest, "members", "One of the given members is not known.")
		return
	}
	if err != nil {
		a.internalError(w, err, "create room")
		return
	}

	a.refresh(r.Context(), room.Members...)
	a.log.Info().Str("room", room.ID).Strs("members", room.Members).Msg("room created")
	writeJSON(w, http.StatusOK, room)
}

type exitRoomRequest struct {
	RoomID string `json:"roomId"`
}

func (a *API) exitRoom(w http.ResponseWriter, r *http.Request) {
	var req exitRoomRequest
	if !decodeBody(w, r, &req) {
		return
	}
	roomID := strings.TrimSpace(req.RoomID)
	if roomID == "" {
		writeError(w, http.StatusBadRequest, "roomId", "Room id has to be provided.")
		return
	}

	caller := identityFrom(r.Context())
	remaining, err := a.store.RemoveMember(r.Context(), roomID, caller.UserID)
	if errors.Is(err, store.ErrNotMember) || errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusBadRequest, "roomId", "User does not exist in this room.")
		return
	}
	if err != nil {
		a.internalError(w, err, "leave room")
		return
	}

	if len(remaining) <= 1 {
		if err := a.store.DeleteRoom(r.Context(), roomID); err != nil && !errors.Is(err, store.ErrNotFound) {
			a.internalError(w, err, "delete room")
			return
		}
		a.log.Info().Str("room", roomID).Msg("room deleted")
	}

	a.refresh(r.Context(), append(remaining, caller.UserID)...)
	writeJSON(w, http.StatusOK, "Left room.")
}

// refresh pushes the new membership to the router. The write already
// succeeded, so a failure is logged rather than returned to the caller.
func (a *API) refresh(ctx context.Context, userIDs ...string) {
	if a.refresher == nil {
		return
	}
	if err := a.refresher.RefreshUsers(ctx, userIDs...); err != nil {
		a.log.Error().Err(err).Strs("users", userIDs).Msg("membership refresh failed")
	}
}

func (a *API) internalError(w http.ResponseWriter, err error, op string) {
	a.log.Error().Err(err).Str("op", op).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "", "Internal server error.")
}

// decodeBody reads a JSON body into v and writes a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "", "Request body must be valid JSON.")
		return false
	}
	return true
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat/internal/auth"
	"github.com/Tyrowin/gochat/internal/router"
	"github.com/Tyrowin/gochat/internal/store"
)

type fixture struct {
	srv    *httptest.Server
	store  *store.Memory
	router *router.Router
	jwt    *auth.JWT
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	rt := router.New(st, zerolog.Nop())
	j := auth.NewJWT("0123456789abcdef0123", time.Hour)

	mux := http.NewServeMux()
	New(st, rt, j, j, zerolog.Nop()).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, store: st, router: rt, jwt: j}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

// signup creates a user and returns it with a valid token.
func (f *fixture) signup(t *testing.T, name string) (userResponse, string) {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/users", "", map[string]string{"username": name, "password": "secret1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var u userResponse
	require.NoError(t, json.Unmarshal(body, &u))

	resp, body = f.do(t, http.MethodPost, "/login", "", map[string]string{"username": name, "password": "secret1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var l loginResponse
	require.NoError(t, json.Unmarshal(body, &l))
	return u, l.Token
}

func errorMessage(t *testing.T, body []byte) string {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	require.Len(t, e.Errors, 1)
	return e.Errors[0].ErrorMessage
}

func TestCreateUser(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantError  string
	}{
		{"ok", map[string]string{"username": "alice", "password": "secret1"}, http.StatusOK, ""},
		{"duplicate", map[string]string{"username": "alice", "password": "secret1"}, http.StatusForbidden, "Username is already in use."},
		{"missing username", map[string]string{"password": "secret1"}, http.StatusBadRequest, "A Username has to be provided."},
		{"short password", map[string]string{"username": "bob", "password": "abc"}, http.StatusBadRequest, "A Password with at least 6 characters has to be provided."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, "/users", "", tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, errorMessage(t, body))
				return
			}
			var u userResponse
			require.NoError(t, json.Unmarshal(body, &u))
			assert.Equal(t, "alice", u.Username)
			assert.NotEmpty(t, u.ID)
			assert.NotContains(t, string(body), "secret1")
		})
	}
}

func TestCreateUser_MalformedBody(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/users", bytes.NewBufferString("{"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	u, token := f.signup(t, "alice")

	v, err := f.jwt.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, v.Identity.UserID)
	assert.Equal(t, "alice", v.Identity.Username)

	resp, body := f.do(t, http.MethodPost, "/login", "", map[string]string{"username": "alice", "password": "wrong!!"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid username or password.", errorMessage(t, body))

	resp, _ = f.do(t, http.MethodPost, "/login", "", map[string]string{"username": "nobody", "password": "secret1"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthenticatedRoutesRequireToken(t *testing.T) {
	f := newFixture(t)

	for _, token := range []string{"", "garbage"} {
		resp, _ := f.do(t, http.MethodGet, "/rooms", token, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/rooms", http.NoBody)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Basic abc")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateRoom_Validation(t *testing.T) {
	f := newFixture(t)
	alice, token := f.signup(t, "alice")
	bob, _ := f.signup(t, "bob")
	carol, _ := f.signup(t, "carol")

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantError  string
	}{
		{"missing members", map[string]any{}, http.StatusBadRequest, "Members object has to be provided."},
		{"one member", createRoomRequest{Members: []memberRef{{alice.ID}}}, http.StatusBadRequest, "Members object must have at minimum two elements"},
		{"duplicates collapse", createRoomRequest{Members: []memberRef{{alice.ID}, {alice.ID}}}, http.StatusBadRequest, "Members object must have at minimum two elements"},
		{"caller missing", createRoomRequest{Members: []memberRef{{bob.ID}, {carol.ID}}}, http.StatusUnauthorized, "Authorized user is not in members object"},
		{"unknown member", createRoomRequest{Members: []memberRef{{alice.ID}, {"ghost"}}}, http.StatusBadRequest, "One of the given members is not known."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, "/rooms", token, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantError, errorMessage(t, body))
		})
	}
}

// countingStore records CreateRoom calls.
type countingStore struct {
	store.Store
	creates int
}

func (c *countingStore) CreateRoom(ctx context.Context, members []string) (store.Room, error) {
	c.creates++
	return c.Store.CreateRoom(ctx, members)
}

func TestCreateRoom_UnknownMemberRejectedBeforeCreate(t *testing.T) {
	mem := store.NewMemory()
	st := &countingStore{Store: mem}
	j := auth.NewJWT("0123456789abcdef0123", time.Hour)
	mux := http.NewServeMux()
	New(st, router.New(mem, zerolog.Nop()), j, j, zerolog.Nop()).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()
	f := &fixture{srv: srv, store: mem, jwt: j}

	alice, token := f.signup(t, "alice")
	resp, body := f.do(t, http.MethodPost, "/rooms", token, createRoomRequest{Members: []memberRef{{alice.ID}, {"ghost"}}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "One of the given members is not known.", errorMessage(t, body))
	assert.Zero(t, st.creates)

	ctx := context.Background()
	rooms, err := mem.RoomsOf(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestCreateRoom_RefreshesLiveMembers(t *testing.T) {
	f := newFixture(t)
	alice, token := f.signup(t, "alice")
	bob, _ := f.signup(t, "bob")

	ctx := context.Background()
	nop := router.DelivererFunc(func(string, any) {})
	_, err := f.router.Register(ctx, alice.ID, nop)
	require.NoError(t, err)
	_, err = f.router.Register(ctx, bob.ID, nop)
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodPost, "/rooms", token, createRoomRequest{Members: []memberRef{{alice.ID}, {bob.ID}}})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var room store.Room
	require.NoError(t, json.Unmarshal(body, &room))
	assert.ElementsMatch(t, []string{alice.ID, bob.ID}, room.Members)

	assert.Equal(t, []string{room.ID}, f.router.RoomsOf(alice.ID))
	assert.Equal(t, []string{room.ID}, f.router.RoomsOf(bob.ID))

	resp, body = f.do(t, http.MethodGet, "/rooms", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rooms []store.Room
	require.NoError(t, json.Unmarshal(body, &rooms))
	require.Len(t, rooms, 1)
	assert.Equal(t, room.ID, rooms[0].ID)
}

func TestListRooms_EmptyIsArray(t *testing.T) {
	f := newFixture(t)
	_, token := f.signup(t, "alice")

	resp, body := f.do(t, http.MethodGet, "/rooms", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
}

func TestExitRoom(t *testing.T) {
	f := newFixture(t)
	alice, aliceToken := f.signup(t, "alice")
	bob, bobToken := f.signup(t, "bob")
	carol, _ := f.signup(t, "carol")

	ctx := context.Background()
	room, err := f.store.CreateRoom(ctx, []string{alice.ID, bob.ID, carol.ID})
	require.NoError(t, err)

	nop := router.DelivererFunc(func(string, any) {})
	for _, id := range []string{alice.ID, bob.ID, carol.ID} {
		_, err := f.router.Register(ctx, id, nop)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, len(f.router.RoomUsers(room.ID)))

	resp, body := f.do(t, http.MethodPut, "/rooms/exit", aliceToken, exitRoomRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Room id has to be provided.", errorMessage(t, body))

	resp, body = f.do(t, http.MethodPut, "/rooms/exit", aliceToken, exitRoomRequest{RoomID: room.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.JSONEq(t, `"Left room."`, string(body))
	assert.Empty(t, f.router.RoomsOf(alice.ID))
	assert.ElementsMatch(t, []string{bob.ID, carol.ID}, f.router.RoomUsers(room.ID))

	resp, body = f.do(t, http.MethodPut, "/rooms/exit", aliceToken, exitRoomRequest{RoomID: room.ID})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "User does not exist in this room.", errorMessage(t, body))

	// Bob leaving leaves a single member, which deletes the room.
	resp, _ = f.do(t, http.MethodPut, "/rooms/exit", bobToken, exitRoomRequest{RoomID: room.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, err = f.store.Room(ctx, room.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, f.router.RoomUsers(room.ID))
	assert.Empty(t, f.router.RoomsOf(carol.ID))
}

type failingRefresher struct{ calls int }

func (f *failingRefresher) RefreshUsers(context.Context, ...string) error {
	f.calls++
	return errors.New("db down")
}

func TestCreateRoom_RefreshFailureStillSucceeds(t *testing.T) {
	st := store.NewMemory()
	j := auth.NewJWT("0123456789abcdef0123", time.Hour)
	ref := &failingRefresher{}
	mux := http.NewServeMux()
	New(st, ref, j, j, zerolog.Nop()).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()
	f := &fixture{srv: srv, store: st, jwt: j}

	alice, token := f.signup(t, "alice")
	bob, _ := f.signup(t, "bob")

	resp, _ := f.do(t, http.MethodPost, "/rooms", token, createRoomRequest{Members: []memberRef{{alice.ID}, {bob.ID}}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, ref.calls)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer  abc ", "abc", true},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"Token abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := bearerToken(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.want, got, tt.header)
	}
}

package server

import (
	"net/http"
	"testing"
)

func TestRegisterLoginAndMeFlow(t *testing.T) {
	env := newTestEnvironment(t, environmentOptions{})

	registered := registerUser(t, env.handler, "a@x.com", "alice")
	if registered.User.ID == "" || registered.Token == "" || registered.TokenType != "Bearer" {
		t.Fatalf("unexpected register response %#v", registered)
	}
	if registered.User.Provider != "local" || registered.ExpiresIn != 3600 {
		t.Fatalf("unexpected session details %#v", registered)
	}

	login := performJSON(t, env.handler, http.MethodPost, "/auth/login", map[string]any{
		"email":    "a@x.com",
		"password": "secret-password",
	}, "")
	if login.Code != http.StatusOK {
		t.Fatalf("unexpected login status %d body %s", login.Code, login.Body.String())
	}
	var session sessionResponsePayload
	decodeBody(t, login, &session)
	if session.User.ID != registered.User.ID {
		t.Fatalf("expected login to resolve the registered identity, got %s", session.User.ID)
	}

	me := performJSON(t, env.handler, http.MethodGet, "/auth/me", nil, session.Token)
	if me.Code != http.StatusOK {
		t.Fatalf("unexpected me status %d", me.Code)
	}
	var meResponse struct {
		User userPayload `json:"user"`
	}
	decodeBody(t, me, &meResponse)
	if meResponse.User.Email != "a@x.com" || meResponse.User.Nickname != "alice" {
		t.Fatalf("unexpected me payload %#v", meResponse.User)
	}
}

func TestRegisterReportsConflictField(t *testing.T) {
	env := newTestEnvironment(t, environmentOptions{})
	registerUser(t, env.handler, "a@x.com", "alice")

	cases := []struct {
		email    string
		nickname string
		field    string
	}{
		{email: "a@x.com", nickname: "alice", field: "email"},
		{email: "a@x.com", nickname: "other", field: "email"},
		{email: "b@x.com", nickname: "alice", field: "nickname"},
	}
	for _, testCase := range cases {
		recorder := performJSON(t, env.handler, http.MethodPost, "/auth/register", map[string]any{
			"email":    testCase.email,
			"password": "secret-password",
			"nickname": testCase.nickname,
		}, "")
		if recorder.Code != http.StatusConflict {
			t.Fatalf("%s/%s: expected 409, got %d", testCase.email, testCase.nickname, recorder.Code)
		}
		var body map[string]string
		decodeBody(t, recorder, &body)
		if body["error"] != "conflict" || body["field"] != testCase.field {
			t.Fatalf("%s/%s: unexpected body %#v", testCase.email, testCase.nickname, body)
		}
	}
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	env := newTestEnvironment(t, environmentOptions{})

	bodies := []map[string]any{
		{"email": "not-an-email", "password": "secret-password", "nickname": "alice"},
		{"email": "a@x.com", "password": "short", "nickname": "alice"},
		{"email": "a@x.com", "password": "secret-password"},
	}
	for _, body := range bodies {
		recorder := performJSON(t, env.handler, http.MethodPost, "/auth/register", body, "")
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("body %#v: expected 400, got %d", body, recorder.Code)
		}
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnvironment(t, environmentOptions{})
	registerUser(t, env.handler, "a@x.com", "alice")

	attempts := []map[string]any{
		{"email": "a@x.com", "password": "wrong-password"},
		{"email": "missing@x.com", "password": "secret-password"},
	}
	var bodies []string
	for _, attempt := range attempts {
		recorder := performJSON(t, env.handler, http.MethodPost, "/auth/login", attempt, "")
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %#v: expected 401, got %d", attempt, recorder.Code)
		}
		bodies = append(bodies, recorder.Body.String())
	}
	if bodies[0] != bodies[1] {
		t.Fatalf("expected identical failure bodies, got %q and %q", bodies[0], bodies[1])
	}
}

func TestMeRequiresValidToken(t *testing.T) {
	env := newTestEnvironment(t, environmentOptions{})

	for _, token := range []string{"", "garbage"} {
		recorder := performJSON(t, env.handler, http.MethodGet, "/auth/me", nil, token)
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("token %q: expected 401, got %d", token, recorder.Code)
		}
	}

	orphan, _, err := newTestTokenIssuer(t, nil).IssueToken(t.Context(), "deleted-user", "gone@x.com")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	recorder := performJSON(t, env.handler, http.MethodGet, "/auth/me", nil, orphan)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for token without identity, got %d", recorder.Code)
	}
}

func TestProfileUsesOptionalIdentity(t *testing.T) {
	env := newTestEnvironment(t, environmentOptions{})
	alice := registerUser(t, env.handler, "a@x.com", "alice")
	bob := registerUser(t, env.handler, "b@x.com", "bob")
	path := "/users/" + alice.User.ID

	cases := []struct {
		name      string
		token     string
		wantSelf  bool
		wantEmail string
	}{
		{name: "anonymous", token: ""},
		{name: "garbage token", token: "garbage"},
		{name: "other user", token: bob.Token},
		{name: "self", token: alice.Token, wantSelf: true, wantEmail: "a@x.com"},
	}
	for _, testCase := range cases {
		recorder := performJSON(t, env.handler, http.MethodGet, path, nil, testCase.token)
		if recorder.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", testCase.name, recorder.Code)
		}
		var profile profileResponsePayload
		decodeBody(t, recorder, &profile)
		if profile.IsSelf != testCase.wantSelf || profile.Email != testCase.wantEmail {
			t.Fatalf("%s: unexpected profile %#v", testCase.name, profile)
		}
		if profile.Nickname != "alice" {
			t.Fatalf("%s: unexpected nickname %q", testCase.name, profile.Nickname)
		}
	}

	missing := performJSON(t, env.handler, http.MethodGet, "/users/unknown", nil, "")
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d", missing.Code)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnvironment(t, environmentOptions{})
	recorder := performJSON(t, env.handler, http.MethodGet, "/healthz", nil, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

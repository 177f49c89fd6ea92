package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newKakaoServer(t *testing.T, profileStatus int, profile map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("client_id") != "kakao-client" || r.PostForm.Get("code") != "auth-code" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "kakao-access",
			"token_type":   "bearer",
			"expires_in":   21599,
		})
	})
	mux.HandleFunc("/v2/user/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer kakao-access" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(profileStatus)
		_ = json.NewEncoder(w).Encode(profile)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestKakaoExchanger(t *testing.T, server *httptest.Server) *KakaoExchanger {
	t.Helper()
	exchanger, err := NewKakaoExchanger(KakaoConfig{
		ClientID:    "kakao-client",
		RedirectURL: "https://api.example.com/auth/kakao/callback",
		AuthURL:     server.URL + "/oauth/authorize",
		TokenURL:    server.URL + "/oauth/token",
		UserInfoURL: server.URL + "/v2/user/me",
		HTTPClient:  server.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return exchanger
}

func TestKakaoExchangerReadsProfile(t *testing.T) {
	server := newKakaoServer(t, http.StatusOK, map[string]any{
		"id": 999,
		"kakao_account": map[string]any{
			"email": "ann@kakao.example",
			"profile": map[string]any{
				"nickname":          "Ann",
				"profile_image_url": "https://kakao.example/ann.png",
			},
		},
	})
	exchanger := newTestKakaoExchanger(t, server)

	assertion, err := exchanger.Exchange(context.Background(), "auth-code", "pkce-verifier")
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
	if assertion.Provider != KakaoProviderName || assertion.Subject != "999" {
		t.Fatalf("unexpected provider key %#v", assertion)
	}
	if assertion.Email != "ann@kakao.example" || assertion.DisplayName != "Ann" || assertion.AvatarURL != "https://kakao.example/ann.png" {
		t.Fatalf("unexpected profile %#v", assertion)
	}
}

func TestKakaoExchangerFallsBackWhenEmailWithheld(t *testing.T) {
	server := newKakaoServer(t, http.StatusOK, map[string]any{
		"id": 12345,
		"properties": map[string]any{
			"nickname": "Legacy",
		},
	})
	exchanger := newTestKakaoExchanger(t, server)

	assertion, err := exchanger.Exchange(context.Background(), "auth-code", "pkce-verifier")
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
	if assertion.Email != "kakao_12345@leaf-log.local" {
		t.Fatalf("unexpected placeholder email %q", assertion.Email)
	}
	if assertion.DisplayName != "Legacy" {
		t.Fatalf("expected properties nickname, got %q", assertion.DisplayName)
	}
}

func TestKakaoExchangerReportsProfileFailure(t *testing.T) {
	server := newKakaoServer(t, http.StatusInternalServerError, map[string]any{"msg": "boom"})
	exchanger := newTestKakaoExchanger(t, server)

	if _, err := exchanger.Exchange(context.Background(), "auth-code", "pkce-verifier"); !errors.Is(err, ErrExchangeFailed) {
		t.Fatalf("expected exchange failure, got %v", err)
	}
}

func TestKakaoExchangerRejectsBadCode(t *testing.T) {
	server := newKakaoServer(t, http.StatusOK, map[string]any{"id": 1})
	exchanger := newTestKakaoExchanger(t, server)

	if _, err := exchanger.Exchange(context.Background(), "wrong-code", "pkce-verifier"); !errors.Is(err, ErrExchangeFailed) {
		t.Fatalf("expected exchange failure, got %v", err)
	}
}

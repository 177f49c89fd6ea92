package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/leaflog/leaf-log/backend/internal/users"
	"golang.org/x/oauth2"
)

const (
	// KakaoProviderName tags identities created through Kakao.
	KakaoProviderName = "kakao"

	defaultKakaoAuthURL     = "https://kauth.kakao.com/oauth/authorize"
	defaultKakaoTokenURL    = "https://kauth.kakao.com/oauth/token"
	defaultKakaoUserInfoURL = "https://kapi.kakao.com/v2/user/me"
	// kakaoPlaceholderDomain backs synthetic emails for accounts that withhold theirs.
	kakaoPlaceholderDomain = "leaf-log.local"
)

// KakaoConfig configures the Kakao authorization code flow.
type KakaoConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	HTTPClient   *http.Client
}

// KakaoExchanger exchanges Kakao authorization codes and reads the user profile.
type KakaoExchanger struct {
	oauth       *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

type kakaoProfile struct {
	ID         int64 `json:"id"`
	Properties struct {
		Nickname     string `json:"nickname"`
		ProfileImage string `json:"profile_image"`
	} `json:"properties"`
	Account struct {
		Email   string `json:"email"`
		Profile struct {
			Nickname        string `json:"nickname"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"profile"`
	} `json:"kakao_account"`
}

// NewKakaoExchanger validates configuration. The client secret is optional for Kakao apps.
func NewKakaoExchanger(cfg KakaoConfig) (*KakaoExchanger, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.RedirectURL) == "" {
		return nil, errors.New("providers: kakao client id and redirect url are required")
	}
	authURL := firstNonEmpty(cfg.AuthURL, defaultKakaoAuthURL)
	tokenURL := firstNonEmpty(cfg.TokenURL, defaultKakaoTokenURL)
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &KakaoExchanger{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: firstNonEmpty(cfg.UserInfoURL, defaultKakaoUserInfoURL),
		httpClient:  httpClient,
	}, nil
}

func (k *KakaoExchanger) Name() string {
	return KakaoProviderName
}

func (k *KakaoExchanger) AuthCodeURL(state, verifier string) string {
	return k.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func (k *KakaoExchanger) Exchange(ctx context.Context, code, verifier string) (users.ProviderAssertion, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, k.httpClient)
	token, err := k.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return users.ProviderAssertion{}, fmt.Errorf("%w: kakao token exchange: %w", ErrExchangeFailed, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, k.userInfoURL, nil)
	if err != nil {
		return users.ProviderAssertion{}, err
	}
	response, err := k.oauth.Client(ctx, token).Do(request)
	if err != nil {
		return users.ProviderAssertion{}, fmt.Errorf("%w: kakao profile request: %w", ErrExchangeFailed, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return users.ProviderAssertion{}, fmt.Errorf("%w: kakao profile request returned status %d", ErrExchangeFailed, response.StatusCode)
	}

	var profile kakaoProfile
	if err := json.NewDecoder(response.Body).Decode(&profile); err != nil {
		return users.ProviderAssertion{}, fmt.Errorf("%w: kakao profile decode: %w", ErrExchangeFailed, err)
	}
	if profile.ID == 0 {
		return users.ProviderAssertion{}, fmt.Errorf("%w: kakao profile missing id", ErrExchangeFailed)
	}
	return kakaoAssertion(profile), nil
}

func kakaoAssertion(profile kakaoProfile) users.ProviderAssertion {
	subject := strconv.FormatInt(profile.ID, 10)
	email := strings.TrimSpace(profile.Account.Email)
	if email == "" {
		email = fmt.Sprintf("%s_%s@%s", KakaoProviderName, subject, kakaoPlaceholderDomain)
	}
	return users.ProviderAssertion{
		Provider:    KakaoProviderName,
		Subject:     subject,
		Email:       email,
		DisplayName: firstNonEmpty(profile.Account.Profile.Nickname, profile.Properties.Nickname),
		AvatarURL:   firstNonEmpty(profile.Account.Profile.ProfileImageURL, profile.Properties.ProfileImage),
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

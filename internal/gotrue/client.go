// Package gotrue はホスト型認証サービス（Supabase Auth / GoTrue）のクライアントを提供する。
// パスワード認証、トークン更新、ログアウト、ユーザー取得のHTTP呼び出しと、
// セッションのローカル永続化・自動更新・変化通知を含む。
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/aifa/directorio/internal/model"
)

const (
	// maxResponseSize はレスポンスボディの最大読み取りサイズ。
	maxResponseSize = 1 << 20
	userAgent       = "directorio/1.0"
)

// ClientConfig は認証APIクライアントの設定。
type ClientConfig struct {
	BaseURL       string // 例: https://xyz.supabase.co
	AnonKey       string
	RatePerMinute int // 認証APIへのリクエスト上限（req/min）
}

// Client は認証APIのHTTPクライアント。
// 状態を持たず、セッションの保持はAuthが担う。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	config     ClientConfig
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, config ClientConfig) *Client {
	perMinute := config.RatePerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	burst := perMinute / 6
	if burst < 1 {
		burst = 1
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		config:     config,
		limiter:    rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst),
		now:        time.Now,
	}
}

// tokenResponse はトークンエンドポイントのレスポンス。
type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	RefreshToken string       `json:"refresh_token"`
	User         userResponse `json:"user"`
}

// userResponse はユーザー情報のレスポンス。
type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// errorResponse は認証APIのエラーレスポンス。APIのバージョンにより形式が異なる。
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

// accessClaims はアクセストークンから読み取るクレーム。
// 署名検証は行わない（検証はサーバー側の責務）。
type accessClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// SignInWithPassword はメールアドレスとパスワードでセッションを取得する。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.AuthSession, error) {
	body := map[string]string{"email": email, "password": password}
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", "", body, &resp); err != nil {
		return nil, err
	}
	return c.toSession(&resp)
}

// RefreshSession はリフレッシュトークンで新しいセッションを取得する。
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*model.AuthSession, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is required: %w", model.ErrInvalidCredentials)
	}
	body := map[string]string{"refresh_token": refreshToken}
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", "", body, &resp); err != nil {
		return nil, err
	}
	return c.toSession(&resp)
}

// SignOut はアクセストークンに紐づくセッションをサーバー側で無効化する。
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/auth/v1/logout", accessToken, nil, nil)
}

// GetUser はアクセストークンの持ち主を取得する。
func (c *Client) GetUser(ctx context.Context, accessToken string) (*model.Identity, error) {
	var resp userResponse
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", accessToken, nil, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("auth api returned user without id")
	}
	return &model.Identity{ID: resp.ID, Email: resp.Email}, nil
}

// do は認証APIへのリクエストを実行し、成功時はレスポンスをoutにデコードする。
func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	endpoint, err := url.Parse(c.config.BaseURL + path)
	if err != nil {
		return fmt.Errorf("failed to build auth url: %w", err)
	}

	var reqBody io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.config.AnonKey)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.config.AnonKey)
	}

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("auth api request failed",
			slog.String("method", method),
			slog.String("path", endpoint.Path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("auth api request failed: %w: %w", model.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read auth api response: %w: %w", model.ErrBackendUnavailable, err)
	}

	c.logger.Debug("auth api request",
		slog.String("method", method),
		slog.String("path", endpoint.Path),
		slog.Int("http_status", resp.StatusCode),
		slog.Duration("duration", c.now().Sub(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseError(resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode auth api response: %w", err)
	}
	return nil
}

// parseError はエラーレスポンスをErrorに変換する。
func parseError(statusCode int, data []byte) error {
	apiErr := &Error{StatusCode: statusCode}

	var body errorResponse
	if err := json.Unmarshal(data, &body); err != nil {
		apiErr.Message = http.StatusText(statusCode)
		return apiErr
	}

	switch {
	case body.ErrorCode != "":
		apiErr.Code = body.ErrorCode
	case body.Error != "":
		apiErr.Code = body.Error
	case body.Code != nil:
		apiErr.Code = fmt.Sprint(body.Code)
	}

	for _, m := range []string{body.ErrorDescription, body.Msg, body.Message} {
		if m != "" {
			apiErr.Message = m
			break
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(statusCode)
	}
	return apiErr
}

// toSession はトークンレスポンスをAuthSessionに変換する。
// 有効期限はexpires_at、expires_in、アクセストークンのexpクレームの順に決定する。
func (c *Client) toSession(resp *tokenResponse) (*model.AuthSession, error) {
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("auth api returned empty access token")
	}

	session := &model.AuthSession{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		UserID:       resp.User.ID,
		Email:        resp.User.Email,
	}

	claims, claimsErr := parseAccessClaims(resp.AccessToken)

	switch {
	case resp.ExpiresAt > 0:
		session.ExpiresAt = time.Unix(resp.ExpiresAt, 0)
	case resp.ExpiresIn > 0:
		session.ExpiresAt = c.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	case claimsErr == nil && claims.ExpiresAt != nil:
		session.ExpiresAt = claims.ExpiresAt.Time
	}

	if claimsErr == nil {
		if session.UserID == "" {
			session.UserID = claims.Subject
		}
		if session.Email == "" {
			session.Email = claims.Email
		}
	}

	if session.UserID == "" {
		return nil, fmt.Errorf("auth api returned session without user")
	}
	return session, nil
}

// parseAccessClaims はアクセストークンのクレームを署名検証なしで読み取る。
func parseAccessClaims(token string) (*accessClaims, error) {
	claims := &accessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}
	return claims, nil
}

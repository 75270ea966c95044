// Package panel реализует клиент панели 3x-ui: авторизация с
// cookie-сессией, выдача и продление клиентов на inbound'ах,
// инспекция списка inbound'ов.
//
// Сессия принадлежит экземпляру Client и обновляется прозрачно:
// операция, получившая признак протухшей сессии, повторяет логин и сам
// запрос ровно один раз. Конкурентные наблюдатели протухшей сессии
// дожидаются одного общего логина через singleflight.
package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/magabrotheeeer/portal-vpn/internal/config"
	"github.com/magabrotheeeer/portal-vpn/internal/lib/sl"
)

// Client клиент панели 3x-ui.
type Client struct {
	log        *slog.Logger
	baseURL    string
	username   string
	password   string
	httpClient *http.Client

	sf singleflight.Group

	mu     sync.RWMutex
	cookie string
}

// New создает новый клиент панели из конфигурации.
func New(log *slog.Logger, cfg config.Panel) *Client {
	return &Client{
		log:        log,
		baseURL:    normalizeBaseURL(cfg.PanelURL),
		username:   cfg.PanelUsername,
		password:   cfg.PanelPassword,
		httpClient: &http.Client{Timeout: cfg.PanelTimeout},
	}
}

// normalizeBaseURL убирает завершающий "/" и суффикс "/panel":
// в конфиге часто указывают URL страницы панели, а не корень API.
func normalizeBaseURL(url string) string {
	url = strings.TrimSuffix(url, "/")
	url = strings.TrimSuffix(url, "/panel")
	return url
}

// Authenticate выполняет логин и сохраняет cookie сессии.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.refreshSession(ctx, c.session())
	return err
}

func (c *Client) session() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cookie
}

// refreshSession обновляет сессию, если она всё ещё равна stale.
// Все конкурентные вызовы сливаются в один логин.
func (c *Client) refreshSession(ctx context.Context, stale string) (string, error) {
	v, err, _ := c.sf.Do("login", func() (any, error) {
		if current := c.session(); current != "" && current != stale {
			return current, nil
		}
		cookie, err := c.login(ctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.cookie = cookie
		c.mu.Unlock()
		return cookie, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// ensureSession возвращает текущую cookie, при необходимости логинясь.
func (c *Client) ensureSession(ctx context.Context) (string, error) {
	if cookie := c.session(); cookie != "" {
		return cookie, nil
	}
	return c.refreshSession(ctx, "")
}

func (c *Client) login(ctx context.Context) (string, error) {
	const op = "panel.login"

	body, err := json.Marshal(loginRequest{Username: c.username, Password: c.password})
	if err != nil {
		return "", &AuthError{Msg: "encode login request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return "", &AuthError{Msg: "build login request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &AuthError{Msg: "login request failed", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &AuthError{Msg: "read login response", Err: err}
	}

	var loginResp apiResponse
	if err := json.Unmarshal(raw, &loginResp); err != nil {
		return "", &AuthError{Msg: "decode login response", Err: err}
	}
	if !loginResp.Success {
		return "", &AuthError{Msg: loginResp.Msg}
	}

	var parts []string
	for _, cookie := range resp.Cookies() {
		parts = append(parts, cookie.Name+"="+cookie.Value)
	}
	if len(parts) == 0 {
		return "", &AuthError{Msg: "no session cookie in login response"}
	}

	c.log.Info("panel login ok", slog.String("op", op))
	return strings.Join(parts, "; "), nil
}

// GrantClient идемпотентно создаёт клиента identity на inbound'е
// inboundID со сроком действия expiry.
func (c *Client) GrantClient(ctx context.Context, identity ClientIdentity, inboundID int, expiry time.Time) error {
	const op = "panel.GrantClient"
	return c.submitClient(ctx, op, "/panel/api/inbounds/addClient", identity, inboundID, expiry)
}

// UpdateExpiry переносит срок действия существующего клиента.
// Запись отправляется целиком: панель перезаписывает клиента тем, что
// пришло, поэтому здесь нет fetch-then-merge и вызывающая сторона должна
// передавать актуальные label и uuid.
func (c *Client) UpdateExpiry(ctx context.Context, clientID, label string, inboundID int, newExpiry time.Time) error {
	const op = "panel.UpdateExpiry"
	path := "/panel/api/inbounds/updateClient/" + clientID
	return c.submitClient(ctx, op, path, ClientIdentity{ClientID: clientID, Label: label}, inboundID, newExpiry)
}

// submitClient отправляет запись клиента на панель с повтором один раз
// при протухшей сессии. Повтор реализован ограниченным циклом, а не
// рекурсией: максимум два прохода, второй — только после перелогина.
func (c *Client) submitClient(ctx context.Context, op, path string, identity ClientIdentity, inboundID int, expiry time.Time) error {
	settings, err := json.Marshal(clientSettings{Clients: []clientEntry{{
		ID:         identity.ClientID,
		Email:      identity.Label,
		LimitIP:    0,
		TotalGB:    0,
		ExpiryTime: expiry.UnixMilli(),
		Enable:     true,
		TgID:       "",
		SubID:      "",
	}}})
	if err != nil {
		return &PanelError{Op: op, Msg: "encode client settings", Err: err}
	}
	payload := clientRequest{ID: inboundID, Settings: string(settings)}

	cookie, err := c.ensureSession(ctx)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < 2; attempt++ {
		resp, status, err := c.postJSON(ctx, path, payload, cookie)
		if err != nil {
			return &PanelError{Op: op, Msg: "request failed", Err: err}
		}
		if resp.Success {
			return nil
		}
		if attempt == 0 && sessionExpired(status, resp.Msg) {
			c.log.Info("panel session expired, re-authenticating",
				slog.String("op", op))
			cookie, err = c.refreshSession(ctx, cookie)
			if err != nil {
				return err
			}
			continue
		}
		return &PanelError{Op: op, Msg: resp.Msg}
	}
	return &PanelError{Op: op, Msg: "retry after re-login failed"}
}

// ListInbounds возвращает список inbound'ов панели. Диагностическая
// операция: при любой ошибке логирует причину и возвращает пустой срез.
func (c *Client) ListInbounds(ctx context.Context) []Inbound {
	const op = "panel.ListInbounds"
	log := c.log.With(slog.String("op", op))

	cookie, err := c.ensureSession(ctx)
	if err != nil {
		log.Error("failed to establish panel session", sl.Err(err))
		return []Inbound{}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/panel/api/inbounds/list", nil)
	if err != nil {
		log.Error("failed to build request", sl.Err(err))
		return []Inbound{}
	}
	req.Header.Set("Cookie", cookie)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error("failed to fetch inbounds", sl.Err(err))
		return []Inbound{}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var list listResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		log.Error("failed to decode inbounds response", sl.Err(err))
		return []Inbound{}
	}
	if !list.Success {
		log.Error("panel refused to list inbounds", slog.String("msg", list.Msg))
		return []Inbound{}
	}
	return list.Obj
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, cookie string) (*apiResponse, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", cookie)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	var api apiResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &api); err != nil {
			// Не-JSON ответ (например HTML-страница логина) трактуем
			// как неуспех, дальше решает sessionExpired по статусу.
			return &apiResponse{Success: false, Msg: http.StatusText(resp.StatusCode)}, resp.StatusCode, nil
		}
	}
	return &api, resp.StatusCode, nil
}

// sessionExpired распознаёт протухшую сессию. Сначала структурные
// признаки (401, редирект на страницу логина), затем подстрока "login"
// в сообщении — шим для старых версий панели без внятного статуса.
func sessionExpired(status int, msg string) bool {
	if status == http.StatusUnauthorized ||
		status == http.StatusTemporaryRedirect ||
		status == http.StatusFound {
		return true
	}
	return strings.Contains(strings.ToLower(msg), "login")
}

package panel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/portal-vpn/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// fakePanel имитирует 3x-ui: логин выдаёт cookie, privileged-вызовы
// принимаются только с актуальной cookie.
type fakePanel struct {
	mu           sync.Mutex
	sessionSeq   int
	validCookie  string
	loginCalls   atomic.Int64
	grantCalls   atomic.Int64
	failGrantMsg string // если не пусто, addClient всегда отвечает этим msg
}

func (f *fakePanel) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		f.loginCalls.Add(1)
		f.mu.Lock()
		f.sessionSeq++
		f.validCookie = "3x-ui=session-" + string(rune('a'+f.sessionSeq))
		cookie := f.validCookie
		f.mu.Unlock()
		w.Header().Set("Set-Cookie", cookie+"; Path=/")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	mux.HandleFunc("/panel/api/inbounds/addClient", func(w http.ResponseWriter, r *http.Request) {
		f.grantCalls.Add(1)
		if f.failGrantMsg != "" {
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "msg": f.failGrantMsg})
			return
		}
		f.mu.Lock()
		valid := f.validCookie
		f.mu.Unlock()
		if r.Header.Get("Cookie") != valid {
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "msg": "please login first"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	mux.HandleFunc("/panel/api/inbounds/list", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "obj": []map[string]any{
			{"id": 1, "remark": "trial", "port": 443, "protocol": "vless", "enable": true},
		}})
	})
	return mux
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	return New(testLogger(), config.Panel{
		PanelURL:      url,
		PanelUsername: "admin",
		PanelPassword: "secret",
		PanelTimeout:  5 * time.Second,
	})
}

func TestGrantClient_LazyLoginAndGrant(t *testing.T) {
	fake := &fakePanel{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	err := client.GrantClient(context.Background(), ClientIdentity{
		ClientID: "uuid-1",
		Label:    "trial_42",
	}, 1, time.Now().Add(72*time.Hour))

	require.NoError(t, err)
	assert.Equal(t, int64(1), fake.loginCalls.Load())
	assert.Equal(t, int64(1), fake.grantCalls.Load())
}

func TestGrantClient_RetriesOnceOnStaleSession(t *testing.T) {
	fake := &fakePanel{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	// Первый логин, затем инвалидируем сессию на стороне панели.
	require.NoError(t, client.Authenticate(context.Background()))
	fake.mu.Lock()
	fake.validCookie = "3x-ui=rotated"
	fake.mu.Unlock()

	err := client.GrantClient(context.Background(), ClientIdentity{
		ClientID: "uuid-2",
		Label:    "premium_42_1",
	}, 2, time.Now().Add(30*24*time.Hour))

	require.NoError(t, err)
	assert.Equal(t, int64(2), fake.loginCalls.Load(), "ровно один перелогин")
	assert.Equal(t, int64(2), fake.grantCalls.Load(), "ровно один повтор запроса")
}

func TestGrantClient_SecondFailureSurfaced(t *testing.T) {
	fake := &fakePanel{failGrantMsg: "please login first"}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	err := client.GrantClient(context.Background(), ClientIdentity{
		ClientID: "uuid-3",
		Label:    "trial_1",
	}, 1, time.Now().Add(time.Hour))

	var panelErr *PanelError
	require.ErrorAs(t, err, &panelErr)
	assert.Equal(t, int64(2), fake.grantCalls.Load(), "не больше одного повтора")
}

func TestGrantClient_ConcurrentCallsShareOneLogin(t *testing.T) {
	fake := &fakePanel{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	const goroutines = 10
	var wg sync.WaitGroup
	errs := make([]error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = client.GrantClient(context.Background(), ClientIdentity{
				ClientID: "uuid-c",
				Label:    "trial_c",
			}, 1, time.Now().Add(time.Hour))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), fake.loginCalls.Load(), "конкурентные вызовы сливаются в один логин")
}

func TestAuthenticate_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "msg": "bad credentials"})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	err := client.Authenticate(context.Background())

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Contains(t, authErr.Error(), "bad credentials")
}

func TestListInbounds_EmptyOnFailure(t *testing.T) {
	fake := &fakePanel{}
	mux := http.NewServeMux()
	mux.Handle("/login", fake.handler())
	mux.HandleFunc("/panel/api/inbounds/list", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	inbounds := client.ListInbounds(context.Background())
	assert.Empty(t, inbounds)
}

func TestListInbounds_Success(t *testing.T) {
	fake := &fakePanel{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	inbounds := client.ListInbounds(context.Background())
	require.Len(t, inbounds, 1)
	assert.Equal(t, "trial", inbounds[0].Remark)
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://vpn.example.com:2053", "https://vpn.example.com:2053"},
		{"https://vpn.example.com:2053/", "https://vpn.example.com:2053"},
		{"https://vpn.example.com:2053/panel", "https://vpn.example.com:2053"},
		{"https://vpn.example.com:2053/panel/", "https://vpn.example.com:2053"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeBaseURL(tt.in))
	}
}

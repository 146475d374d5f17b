package nonceserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/chatauth/internal/api"
	"github.com/dmitrijs2005/chatauth/internal/common"
	"github.com/dmitrijs2005/chatauth/internal/logging"
	"github.com/dmitrijs2005/chatauth/internal/nonceserver/config"
	"github.com/dmitrijs2005/chatauth/internal/peer"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

func testConfig(store string) *config.Config {
	var c config.Config
	c.LoadDefaults()
	c.Store = store
	return &c
}

func newApp(t *testing.T, c *config.Config) *App {
	t.Helper()
	app, err := NewApp(context.Background(), c, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func newServer(t *testing.T, app *App) *httptest.Server {
	t.Helper()
	h, err := app.Handler()
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestIssueConfirm(t *testing.T) {
	mr := miniredis.RunT(t)
	redisCfg := testConfig(config.StoreRedis)
	redisCfg.RedisAddr = mr.Addr()

	for name, c := range map[string]*config.Config{"memory": testConfig(config.StoreMemory), "redis": redisCfg} {
		t.Run(name, func(t *testing.T) {
			srv := newServer(t, newApp(t, c))

			resp := post(t, srv.URL+"/nonce", "")
			require.Equal(t, http.StatusCreated, resp.StatusCode)
			var n api.NonceResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&n))
			assert.Len(t, n.Nonce, 64)
			assert.Equal(t, int(c.NonceTTL/time.Second), n.ExpiresIn)

			body := `{"nonce":"` + n.Nonce + `"}`
			assert.Equal(t, http.StatusNoContent, post(t, srv.URL+"/nonce/confirm", body).StatusCode)
			assert.Equal(t, http.StatusNotFound, post(t, srv.URL+"/nonce/confirm", body).StatusCode, "second confirm")
			assert.Equal(t, http.StatusNotFound, post(t, srv.URL+"/nonce/confirm", `{"nonce":"unknown"}`).StatusCode)
			assert.Equal(t, http.StatusNotFound, post(t, srv.URL+"/nonce/confirm", `{}`).StatusCode)
		})
	}
}

func TestConfirm_ExpiredIsNotFound(t *testing.T) {
	mr := miniredis.RunT(t)
	c := testConfig(config.StoreRedis)
	c.RedisAddr = mr.Addr()
	srv := newServer(t, newApp(t, c))

	resp := post(t, srv.URL+"/nonce", "")
	var n api.NonceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&n))

	mr.FastForward(c.NonceTTL + time.Second)
	assert.Equal(t, http.StatusNotFound, post(t, srv.URL+"/nonce/confirm", `{"nonce":"`+n.Nonce+`"}`).StatusCode)
}

func TestConcurrentConfirm_OneWins(t *testing.T) {
	srv := newServer(t, newApp(t, testConfig(config.StoreMemory)))
	client := peer.NewNonceClient(peer.Options{BaseURL: srv.URL, Timeout: 2 * time.Second})
	ctx := context.Background()

	n, err := client.Issue(ctx)
	require.NoError(t, err)

	const callers = 16
	var (
		wg  sync.WaitGroup
		oks atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := client.Confirm(ctx, n)
			if err == nil {
				oks.Add(1)
				return
			}
			assert.ErrorIs(t, err, common.ErrNonceNotFound)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, oks.Load())
}

func TestRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	c := testConfig(config.StoreRedis)
	c.RedisAddr = mr.Addr()
	srv := newServer(t, newApp(t, c))

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	mr.Close()

	assert.Equal(t, http.StatusServiceUnavailable, post(t, srv.URL+"/nonce", "").StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, post(t, srv.URL+"/nonce/confirm", `{"nonce":"abc"}`).StatusCode)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestNewApp_RedisUnreachable(t *testing.T) {
	c := testConfig(config.StoreRedis)
	c.RedisAddr = "127.0.0.1:1"
	c.RedisDialTimeout = 200 * time.Millisecond

	_, err := NewApp(context.Background(), c, logging.Nop())
	assert.Error(t, err)
}

package http

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/kart-io/medrag/pkg/errors"
	options "github.com/kart-io/medrag/pkg/options/server/http"
	"github.com/kart-io/medrag/pkg/response"
	"github.com/kart-io/medrag/pkg/utils/json"
)

func TestServerLifecycle(t *testing.T) {
	opts := options.NewOptions()
	opts.Addr = "127.0.0.1:0"

	var hits int
	s := NewServer(opts, func(c *gin.Context) {
		hits++
		c.Next()
	})
	s.Engine().GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	assert.NotEqual(t, "127.0.0.1:0", s.Addr())

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"healthy"}`, string(body))

	resp, err = client.Get("http://" + s.Addr() + "/missing")
	require.NoError(t, err)
	var r response.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&r))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, apierrors.ErrNotFound.Code, r.Code)
	assert.Equal(t, 2, hits, "middleware runs for matched and unmatched routes")

	require.NoError(t, s.Stop(ctx))
	_, err = client.Get("http://" + s.Addr() + "/health")
	assert.Error(t, err)
}

func TestServerStartBindError(t *testing.T) {
	opts := options.NewOptions()
	opts.Addr = "127.0.0.1:0"
	first := NewServer(opts)
	require.NoError(t, first.Start(context.Background()))
	t.Cleanup(func() { _ = first.Stop(context.Background()) })

	busy := options.NewOptions()
	busy.Addr = first.Addr()
	second := NewServer(busy)
	assert.Error(t, second.Start(context.Background()))
	assert.NoError(t, second.Stop(context.Background()))
}

package apiclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secureconnect-sync/internal/domain"
	apperrors "secureconnect-sync/pkg/errors"
	"secureconnect-sync/pkg/resilience"
	"secureconnect-sync/pkg/response"
)

func newTestServer(t *testing.T, register func(r *gin.Engine)) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL + "/", AccessToken: "tok", Timeout: time.Second})
	require.NoError(t, err)
	return c
}

func TestSendMessage(t *testing.T) {
	var gotAuth string
	var gotBody domain.SendMessageRequest
	c := newTestServer(t, func(r *gin.Engine) {
		r.POST("/v1/messages", func(ctx *gin.Context) {
			gotAuth = ctx.GetHeader("Authorization")
			_ = ctx.ShouldBindJSON(&gotBody)
			response.Success(ctx, http.StatusCreated, domain.Message{
				ID: "m1", SenderID: "alice", ReceiverID: gotBody.ReceiverID,
				Content: gotBody.Content, Status: domain.StatusSent,
			})
		})
	})

	// Execute
	msg, err := c.SendMessage(context.Background(), "bob", "hi")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "bob", msg.ReceiverID)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "hi", gotBody.Content)
}

func TestUpdateMessageStatus(t *testing.T) {
	var gotID, gotStatus string
	c := newTestServer(t, func(r *gin.Engine) {
		r.POST("/v1/messages/:id/status", func(ctx *gin.Context) {
			gotID = ctx.Param("id")
			gotStatus = ctx.Query("status")
			response.Success(ctx, http.StatusOK, gin.H{"message": "ok"})
		})
	})

	err := c.UpdateMessageStatus(context.Background(), "m1", domain.StatusRead)

	require.NoError(t, err)
	assert.Equal(t, "m1", gotID)
	assert.Equal(t, "read", gotStatus)
}

func TestGetMessages(t *testing.T) {
	c := newTestServer(t, func(r *gin.Engine) {
		r.GET("/v1/messages/:peer_id", func(ctx *gin.Context) {
			response.Success(ctx, http.StatusOK, []domain.Message{
				{ID: "m1", SenderID: "alice", ReceiverID: ctx.Param("peer_id"), Content: "hi"},
			})
		})
	})

	msgs, err := c.GetMessages(context.Background(), "bob")

	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "bob", msgs[0].ReceiverID)
}

func TestRelayErrorKeepsCode(t *testing.T) {
	c := newTestServer(t, func(r *gin.Engine) {
		r.POST("/v1/call/signal", func(ctx *gin.Context) {
			response.Forbidden(ctx, "not a participant")
		})
	})

	err := c.SendSignal(context.Background(), domain.Signal{CallID: "c1"})

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeForbidden))
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, appErr.StatusCode)
}

func TestUnreachableRelayIsTransportError(t *testing.T) {
	c, err := New(Config{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
	require.NoError(t, err)

	err = c.UpdateStatus(context.Background(), domain.PresenceOnline)

	assert.True(t, apperrors.Is(err, apperrors.ErrCodeTransport))
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestBreakerOpensOnRelayFailures(t *testing.T) {
	hits := 0
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/users/status", func(ctx *gin.Context) {
		hits++
		response.InternalError(ctx, "boom")
	})
	r.POST("/v1/call/signal", func(ctx *gin.Context) {
		hits++
		response.ValidationError(ctx, "bad signal")
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	breaker := resilience.NewBreaker(t.Name(), resilience.Config{FailureThreshold: 2, Cooldown: time.Hour, IsFailure: isRelayFailure})
	c, err := New(Config{BaseURL: srv.URL, Timeout: time.Second, Breaker: breaker})
	require.NoError(t, err)
	ctx := context.Background()

	// Rejections do not count against the relay
	for i := 0; i < 3; i++ {
		err = c.SendSignal(ctx, domain.Signal{CallID: "c"})
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))
	}
	assert.Equal(t, resilience.CircuitBreakerClosed, breaker.State())

	_ = c.UpdateStatus(ctx, domain.PresenceOnline)
	_ = c.UpdateStatus(ctx, domain.PresenceOnline)
	assert.Equal(t, resilience.CircuitBreakerOpen, breaker.State())

	err = c.UpdateStatus(ctx, domain.PresenceOnline)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeTransport))
	assert.Equal(t, 5, hits)
}

func TestRouteOf(t *testing.T) {
	assert.Equal(t, "/v1/messages", routeOf("/v1/messages/m-1/status?status=read"))
	assert.Equal(t, "/v1/call", routeOf("/v1/call/signal"))
	assert.Equal(t, "/v1/messages", routeOf("/v1/messages"))
}

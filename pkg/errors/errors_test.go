package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_ErrorIncludesCause(t *testing.T) {
	cause := stderrors.New("camera busy")
	err := MediaAcquisition(cause)

	assert.Equal(t, "MEDIA_ACQUISITION_ERROR: local media capture unavailable (caused by: camera busy)", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestIs_FollowsWrapChain(t *testing.T) {
	err := fmt.Errorf("failed to start call: %w", Negotiation("offer rejected", nil))

	assert.True(t, Is(err, ErrCodeNegotiation))
	assert.False(t, Is(err, ErrCodeTransport))
	assert.Equal(t, ErrCodeNegotiation, CodeOf(err))
	assert.Equal(t, ErrorCode(""), CodeOf(stderrors.New("plain")))
}

func TestGetAppError_WrapsPlainErrors(t *testing.T) {
	appErr := GetAppError(stderrors.New("boom"))

	assert.Equal(t, ErrCodeInternal, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.StatusCode)

	transport := Transport("publish failed", stderrors.New("closed"))
	assert.Same(t, transport, GetAppError(fmt.Errorf("wrapped: %w", transport)))
	assert.Equal(t, http.StatusBadGateway, transport.StatusCode)
}

func TestWithDetails(t *testing.T) {
	err := ValidationError("bad status").WithDetails(map[string]string{"status": "seen"})

	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	assert.Equal(t, map[string]string{"status": "seen"}, err.Details)
}

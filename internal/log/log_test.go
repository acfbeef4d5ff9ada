package log

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "debug", parseLevel("DEBUG").String())
	assert.Equal(t, "warn", parseLevel(" warning ").String())
	assert.Equal(t, "info", parseLevel("").String())
	assert.Equal(t, "info", parseLevel("nonsense").String())
}

func TestGinMiddleware_RequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: "info", Service: "roomrelay"}, &buf)

	r := gin.New()
	r.Use(GinMiddleware(logger))
	r.GET("/rooms/:room", func(c *gin.Context) {
		Ctx(c.Request.Context()).Info().Msg("inside handler")
		c.Status(http.StatusNoContent)
	})

	t.Run("generated", func(t *testing.T) {
		buf.Reset()
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rooms/lobby", nil))

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.NotEmpty(t, w.Header().Get(headerRequestID))
	})

	t.Run("propagated", func(t *testing.T) {
		buf.Reset()
		req := httptest.NewRequest(http.MethodGet, "/rooms/lobby", nil)
		req.Header.Set(headerRequestID, "req-1")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, "req-1", w.Header().Get(headerRequestID))

		lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
		require.Len(t, lines, 2)

		var completed map[string]any
		require.NoError(t, json.Unmarshal(lines[1], &completed))
		assert.Equal(t, "req-1", completed[FieldRequestID])
		assert.Equal(t, "lobby", completed[FieldRoomID])
		assert.Equal(t, "roomrelay", completed[FieldService])
		assert.EqualValues(t, http.StatusNoContent, completed[FieldStatus])
	})
}

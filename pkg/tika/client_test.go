package tika

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragdesk-go/internal/config"
)

func TestExtractText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/tika", r.URL.Path)
		assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write([]byte("extracted:" + string(body)))
	}))
	defer srv.Close()

	c := NewClient(config.TikaConfig{ServerURL: srv.URL})
	text, err := c.ExtractText(context.Background(), strings.NewReader("raw"), "report.pdf", "")
	require.NoError(t, err)
	assert.Equal(t, "extracted:raw", text)
}

func TestExtractTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := NewClient(config.TikaConfig{ServerURL: srv.URL}).ExtractText(context.Background(), strings.NewReader("x"), "a.bin", "")
	assert.Error(t, err)
}

func TestDetectMimeType(t *testing.T) {
	assert.Equal(t, "application/octet-stream", detectMimeType("noext"))
	assert.Equal(t, "application/octet-stream", detectMimeType("file.zzzunknown"))
	assert.True(t, strings.HasPrefix(detectMimeType("page.html"), "text/html"))
}

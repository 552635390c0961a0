package translation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newGoogleStub(t *testing.T, body string) *GoogleTranslator {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "es", r.URL.Query().Get("target"))
		assert.Equal(t, "en", r.URL.Query().Get("source"))
		assert.Equal(t, "text", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	g, err := NewGoogleTranslator(context.Background(), "",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return g
}

func TestGoogleTranslate(t *testing.T) {
	g := newGoogleStub(t, `{"data":{"translations":[{"translatedText":"hola &amp; adiós"}]}}`)

	out, err := g.Translate(context.Background(), "hello & goodbye", "en", "es")
	require.NoError(t, err)
	assert.Equal(t, "hola & adiós", out)
}

func TestGoogleTranslateEmpty(t *testing.T) {
	g := newGoogleStub(t, `{"data":{"translations":[]}}`)

	_, err := g.Translate(context.Background(), "hello", "en", "es")
	assert.ErrorIs(t, err, ErrEmptyResult)
}

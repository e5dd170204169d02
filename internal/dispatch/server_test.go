package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_ServeBeforeListen(t *testing.T) {
	s := NewServer("127.0.0.1:0", &fakeProvider{})
	assert.Error(t, s.Serve(context.Background()))
	assert.Empty(t, s.Addr())
}

func TestServer_ServesAndShutsDown(t *testing.T) {
	p := &fakeProvider{}
	s := NewServer("127.0.0.1:0", p)
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	url := fmt.Sprintf("http://%s%s", s.Addr(), SendPath)
	resp, err := http.Post(url, "application/json", strings.NewReader(encode(t, validBody())))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, p.sends(), 1)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

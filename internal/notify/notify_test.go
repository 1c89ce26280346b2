package notify

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordSender struct {
	mu    sync.Mutex
	calls []recordedSend
}

type recordedSend struct {
	channel    string
	recipients []string
	body       string
}

func (r *recordSender) Send(_ context.Context, channel string, recipients []string, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedSend{channel: channel, recipients: recipients, body: body})
	return nil
}

func (r *recordSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestRouterRoutesByChannel(t *testing.T) {
	t.Parallel()

	slackLike := &recordSender{}
	router := NewRouter()
	router.Register("slack", slackLike)

	err := router.Send(context.Background(), "slack", []string{"C123"}, "pipeline done")
	require.NoError(t, err)
	require.Equal(t, 1, slackLike.count())
	assert.Equal(t, "pipeline done", slackLike.calls[0].body)
	assert.Equal(t, []string{"C123"}, slackLike.calls[0].recipients)
}

func TestRouterChannelCaseInsensitive(t *testing.T) {
	t.Parallel()

	sender := &recordSender{}
	router := NewRouter()
	router.Register("Slack", sender)

	err := router.Send(context.Background(), "SLACK", []string{"C1"}, "hi")
	require.NoError(t, err)
	assert.Equal(t, 1, sender.count())
}

func TestRouterFallsBackOnUnknownChannel(t *testing.T) {
	t.Parallel()

	fallback := &recordSender{}
	router := NewRouter()
	router.fallback = fallback

	err := router.Send(context.Background(), "pager", []string{"oncall"}, "wake up")
	require.NoError(t, err)
	require.Equal(t, 1, fallback.count())
	assert.Equal(t, "pager", fallback.calls[0].channel)
}

func TestLogSenderNeverFails(t *testing.T) {
	t.Parallel()

	var s LogSender
	err := s.Send(context.Background(), "log", []string{"a", "b"}, "message")
	assert.NoError(t, err)
}

package outbox

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Rajchodisetti/regime-engine/internal/market"
)

// nextID reads events until one carries an id line
func nextID(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if id, ok := strings.CutPrefix(strings.TrimRight(line, "\n"), "id: "); ok {
			return id
		}
	}
}

func TestStreamResumesAndGoesLive(t *testing.T) {
	s := NewStream(8, time.Minute, zap.NewNop())
	srv := httptest.NewServer(s)
	defer srv.Close()

	ctx := context.Background()
	require.NoError(t, s.Write(ctx, []market.TargetPosition{target("a", 1), target("b", 0)}))

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "a")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	assert.Equal(t, "b", nextID(t, r))

	require.Eventually(t, func() bool { return s.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, s.Write(ctx, []market.TargetPosition{target("c", -1)}))
	assert.Equal(t, "c", nextID(t, r))

	require.NoError(t, s.Close())
	require.NoError(t, s.Write(ctx, []market.TargetPosition{target("d", 1)}))
	require.Eventually(t, func() bool { return s.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
}

func TestStreamHistoryBounded(t *testing.T) {
	s := NewStream(2, time.Minute, zap.NewNop())
	require.NoError(t, s.Write(context.Background(), []market.TargetPosition{target("a", 1), target("b", 1), target("c", 1)}))

	_, backlog := s.subscribe("a")
	assert.Empty(t, backlog, "evicted id replays nothing")

	_, backlog = s.subscribe("b")
	require.Len(t, backlog, 1)
	assert.Equal(t, "c", backlog[0].ID)
}

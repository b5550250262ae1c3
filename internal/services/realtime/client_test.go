package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/keithah/gvoice-rest-api/internal/common"
	"github.com/keithah/gvoice-rest-api/internal/interfaces"
	"github.com/keithah/gvoice-rest-api/internal/models"
	"github.com/keithah/gvoice-rest-api/internal/services/events"
)

func testRealtimeConfig() *common.RealtimeConfig {
	return &common.RealtimeConfig{
		MaxConsecutiveFailures: 10,
		BackoffUnit:            time.Millisecond,
		BackoffCap:             5 * time.Millisecond,
	}
}

func testCredential() *models.SessionCredential {
	return &models.SessionCredential{
		UserID:   "u1",
		AuthUser: "0",
		Cookies:  map[string]string{"SAPISID": "abc", "SID": "def"},
	}
}

// channelFixture serves the negotiation endpoints plus a scripted sequence
// of long-poll responses.
type channelFixture struct {
	mu         sync.Mutex
	pollCount  int
	pollAIDs   []string
	pollBodies []string
	pollStatus int
}

func (f *channelFixture) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/chooseServer", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NotEmpty(t, r.Header.Get("Authorization"))
		fmt.Fprint(w, `[["gsess-1"]]`)
	})

	mux.HandleFunc("/channel", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "8", r.URL.Query().Get("VER"))
			assert.Equal(t, "gsess-1", r.URL.Query().Get("gsessionid"))
			assert.Equal(t, "7", r.PostForm.Get("count"))
			assert.NotEmpty(t, r.PostForm.Get("req0___data__"))
			fmt.Fprint(w, `[["sid-9"]]`)
			return
		}

		f.mu.Lock()
		idx := f.pollCount
		f.pollCount++
		f.pollAIDs = append(f.pollAIDs, r.URL.Query().Get("AID"))
		f.mu.Unlock()

		assert.Equal(t, "rpc", r.URL.Query().Get("RID"))
		assert.Equal(t, "sid-9", r.URL.Query().Get("SID"))

		if f.pollStatus != 0 {
			w.WriteHeader(f.pollStatus)
			return
		}

		if idx < len(f.pollBodies) {
			fmt.Fprint(w, f.pollBodies[idx])
			return
		}

		// Out of scripted responses; hold the poll open until the client
		// goes away, as the real server does between events.
		<-r.Context().Done()
	})

	return mux
}

func (f *channelFixture) polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollCount
}

func (f *channelFixture) aids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pollAIDs...)
}

func newFixtureClient(t *testing.T, fixture *channelFixture, bus interfaces.EventService) (*Client, func()) {
	srv := httptest.NewServer(fixture.handler(t))
	c := NewClient("u1", testCredential(), bus, testRealtimeConfig(), arbor.NewLogger())
	c.chooseServerURL = srv.URL + "/chooseServer"
	c.channelURL = srv.URL + "/channel"
	return c, srv.Close
}

func TestRunDispatchesFramesInOrder(t *testing.T) {
	frames := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		frames = append(frames, fmt.Sprintf(`[%d,["msg",%d]]`, i, i))
	}
	fixture := &channelFixture{
		pollBodies: []string{
			strings.Join(frames[:12], "\n") + "\n",
			strings.Join(frames[12:], "\n") + "\n",
		},
	}

	bus := events.NewService(arbor.NewLogger())
	received := make([]int64, 0, 20)
	done := make(chan struct{})
	bus.Subscribe(models.EventMessageReceived, func(ctx context.Context, ev interfaces.Event) error {
		received = append(received, ev.Data["ack_id"].(int64))
		if len(received) == 20 {
			close(done)
		}
		return nil
	})

	client, cleanup := newFixtureClient(t, fixture, bus)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- client.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frames")
	}
	cancel()
	<-runDone

	require.Len(t, received, 20)
	for i, ackID := range received {
		assert.Equal(t, int64(i+1), ackID, "frames must dispatch in receive order")
	}

	// The second poll resumes past everything the first one delivered.
	aids := fixture.aids()
	require.GreaterOrEqual(t, len(aids), 2)
	assert.Equal(t, "0", aids[0])
	assert.Equal(t, "12", aids[1])

	session := client.Session()
	assert.Equal(t, int64(20), session.LastAckID)
	assert.Equal(t, models.RealtimeStopped, session.State)
}

func TestNoopFramesAreAckedNotDispatched(t *testing.T) {
	fixture := &channelFixture{
		pollBodies: []string{`[0,["msg",0]]` + "\n" + `[1,"noop"]` + "\n" + `[2,["msg",2]]` + "\n"},
	}

	bus := events.NewService(arbor.NewLogger())
	var dispatched int
	done := make(chan struct{})
	bus.Subscribe(models.EventMessageReceived, func(ctx context.Context, ev interfaces.Event) error {
		dispatched++
		if ev.Data["ack_id"].(int64) == 3 {
			close(done)
		}
		return nil
	})

	client, cleanup := newFixtureClient(t, fixture, bus)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- client.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frames")
	}
	cancel()
	<-runDone

	assert.Equal(t, 2, dispatched)
	assert.Equal(t, int64(3), client.Session().LastAckID, "noop frames still advance the ack id")
}

func TestPollStopsAfterConsecutiveFailures(t *testing.T) {
	fixture := &channelFixture{pollStatus: http.StatusInternalServerError}

	client, cleanup := newFixtureClient(t, fixture, events.NewService(arbor.NewLogger()))
	defer cleanup()

	err := client.Run(context.Background())
	require.ErrorIs(t, err, ErrChannelExhausted)
	assert.Equal(t, 10, fixture.polls())
	assert.Equal(t, models.RealtimeStopped, client.Session().State)
}

func TestManagerSupervisesOnePollerPerUser(t *testing.T) {
	fixture := &channelFixture{}
	srv := httptest.NewServer(fixture.handler(t))
	defer srv.Close()

	m := NewManager(events.NewService(arbor.NewLogger()), testRealtimeConfig(), arbor.NewLogger())
	m.chooseServerURL = srv.URL + "/chooseServer"
	m.channelURL = srv.URL + "/channel"

	require.NoError(t, m.Start(context.Background(), "u1", testCredential()))
	assert.True(t, m.IsRunning("u1"))

	// Starting again replaces the existing poller.
	require.NoError(t, m.Start(context.Background(), "u1", testCredential()))
	assert.True(t, m.IsRunning("u1"))

	session, ok := m.Session("u1")
	require.True(t, ok)
	assert.Equal(t, "u1", session.UserID)

	m.Stop("u1")
	assert.False(t, m.IsRunning("u1"))

	_, ok = m.Session("u1")
	assert.False(t, ok)

	// Stop is idempotent.
	m.Stop("u1")
}

func TestStartRequiresAuthenticatedCredential(t *testing.T) {
	m := NewManager(events.NewService(arbor.NewLogger()), testRealtimeConfig(), arbor.NewLogger())

	err := m.Start(context.Background(), "u1", &models.SessionCredential{UserID: "u1"})
	assert.Error(t, err)

	err = m.Start(context.Background(), "u1", nil)
	assert.Error(t, err)
}

func TestStopAllTerminatesEveryClient(t *testing.T) {
	fixture := &channelFixture{}
	srv := httptest.NewServer(fixture.handler(t))
	defer srv.Close()

	m := NewManager(events.NewService(arbor.NewLogger()), testRealtimeConfig(), arbor.NewLogger())
	m.chooseServerURL = srv.URL + "/chooseServer"
	m.channelURL = srv.URL + "/channel"

	for _, userID := range []string{"u1", "u2", "u3"} {
		cred := testCredential()
		cred.UserID = userID
		require.NoError(t, m.Start(context.Background(), userID, cred))
	}

	m.StopAll()

	for _, userID := range []string{"u1", "u2", "u3"} {
		assert.False(t, m.IsRunning(userID))
	}
}

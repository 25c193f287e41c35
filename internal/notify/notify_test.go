package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/bwbackup/pkg/backup"
	"github.com/forest6511/bwbackup/pkg/bitwarden"
)

func startNATS(t *testing.T) string {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second), "nats server not ready")
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns.ClientURL()
}

func sampleEvent(status string) Event {
	start := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	return Event{
		RunID:      "run-1",
		Status:     status,
		Mode:       "raw",
		FileName:   "backup_20250102_030405.enc",
		Size:       2048,
		StartedAt:  start,
		FinishedAt: start.Add(3 * time.Second),
		Duration:   3 * time.Second,
	}
}

func TestFromResult(t *testing.T) {
	start := time.Now()
	res := &backup.Result{
		ID:         "abc",
		Mode:       backup.ModeRaw,
		Status:     "success",
		FileName:   "backup_x.enc",
		Size:       10,
		Summary:    &bitwarden.Summary{Items: 4, Folders: 2},
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
	}

	ev := FromResult(res)
	assert.Equal(t, "abc", ev.RunID)
	assert.Equal(t, "raw", ev.Mode)
	assert.Equal(t, 4, ev.Items)
	assert.Equal(t, 2, ev.Folders)
	assert.Equal(t, 2*time.Second, ev.Duration)
	assert.False(t, ev.Failed())
}

func TestNATSPublisher(t *testing.T) {
	url := startNATS(t)

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()

	received := make(chan *nats.Msg, 2)
	_, err = sub.Subscribe("bwbackup.run.*", func(msg *nats.Msg) { received <- msg })
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub, err := NewNATSPublisher(url, "")
	require.NoError(t, err)
	defer pub.Close()

	require.NoError(t, pub.Notify(context.Background(), sampleEvent("failed")))

	select {
	case msg := <-received:
		assert.Equal(t, "bwbackup.run.failed", msg.Subject)
		var got Event
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "run-1", got.RunID)
		assert.Equal(t, int64(2048), got.Size)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNATSPublisherCustomPrefix(t *testing.T) {
	url := startNATS(t)
	pub, err := NewNATSPublisher(url, "ops.backups")
	require.NoError(t, err)
	defer pub.Close()

	assert.Equal(t, "ops.backups.run.success", pub.Subject("success"))
}

func TestNATSPublisherConnectError(t *testing.T) {
	_, err := NewNATSPublisher("nats://127.0.0.1:1", "")
	assert.Error(t, err)
}

// telegramAPI records sendMessage calls made by telego.
type telegramAPI struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (a *telegramAPI) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if strings.HasSuffix(r.URL.Path, "/sendMessage") {
		var m map[string]any
		_ = json.Unmarshal(body, &m)
		a.mu.Lock()
		a.bodies = append(a.bodies, m)
		a.mu.Unlock()
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`)
}

func (a *telegramAPI) sent() []map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]map[string]any(nil), a.bodies...)
}

const testToken = "123456789:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

func newTestTelegram(t *testing.T, always bool) (*Telegram, *telegramAPI) {
	t.Helper()
	api := &telegramAPI{}
	srv := httptest.NewServer(http.HandlerFunc(api.handler))
	t.Cleanup(srv.Close)

	tg, err := NewTelegram(testToken, 42, always, telego.WithAPIServer(srv.URL), telego.WithDiscardLogger())
	require.NoError(t, err)
	return tg, api
}

func TestTelegramSendsFailures(t *testing.T) {
	tg, api := newTestTelegram(t, false)

	ev := sampleEvent("failed")
	ev.Error = "bitwarden: unlock failed: bw exited with code 1"
	require.NoError(t, tg.Notify(context.Background(), ev))

	sent := api.sent()
	require.Len(t, sent, 1)
	assert.EqualValues(t, 42, sent[0]["chat_id"])
	text, _ := sent[0]["text"].(string)
	assert.Contains(t, text, "FAILED")
	assert.Contains(t, text, "unlock failed")
}

func TestTelegramSkipsSuccessUnlessAlways(t *testing.T) {
	tg, api := newTestTelegram(t, false)
	require.NoError(t, tg.Notify(context.Background(), sampleEvent("success")))
	assert.Empty(t, api.sent())

	always, api2 := newTestTelegram(t, true)
	require.NoError(t, always.Notify(context.Background(), sampleEvent("success")))
	assert.Len(t, api2.sent(), 1)
}

func TestNewTelegramRejectsBadToken(t *testing.T) {
	_, err := NewTelegram("not-a-token", 1, false)
	assert.Error(t, err)
}

type stubNotifier struct {
	err   error
	calls int
}

func (s *stubNotifier) Notify(context.Context, Event) error {
	s.calls++
	return s.err
}

func TestMulti(t *testing.T) {
	errA := errors.New("a down")
	a := &stubNotifier{err: errA}
	b := &stubNotifier{}

	err := Multi{a, b}.Notify(context.Background(), sampleEvent("failed"))
	assert.ErrorIs(t, err, errA)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls, "a failing notifier must not stop the others")

	assert.NoError(t, Multi{b}.Notify(context.Background(), sampleEvent("success")))
}

func TestChunkMessage(t *testing.T) {
	assert.Len(t, chunkMessage("hello", 10), 1)
	assert.Len(t, chunkMessage(strings.Repeat("a", 20), 10), 2)

	text := strings.Repeat("a", 7) + "\n" + strings.Repeat("b", 7)
	chunks := chunkMessage(text, 10)
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("a", 7)+"\n", chunks[0])
}

func TestFormatMessage(t *testing.T) {
	ev := sampleEvent("success")
	ev.Items = 12
	ev.Folders = 3
	msg := FormatMessage(ev)
	assert.Contains(t, msg, "succeeded")
	assert.Contains(t, msg, "backup_20250102_030405.enc (2048 bytes)")
	assert.Contains(t, msg, "items: 12, folders: 3")
	assert.Contains(t, msg, "duration: 3s")
}

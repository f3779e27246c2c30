package notifications

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(url string, retries int) *Client {
	return NewClient(Options{
		BaseURL:    url,
		Topic:      "skins",
		Enabled:    true,
		BatchMode:  true,
		MaxRetries: retries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	})
}

func TestSendNotificationPostsToTopic(t *testing.T) {
	requests := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests <- r.URL.Path + " " + string(body)
	}))
	defer server.Close()

	c := testClient(server.URL, 0)
	assert.True(t, c.Enabled())
	require.NoError(t, c.SendNotification(context.Background(), "hello"))
	assert.Equal(t, "/skins hello", <-requests)

	sent, failed, _ := c.GetMetrics()
	assert.Equal(t, int64(1), sent)
	assert.Zero(t, failed)
}

func TestSendNotificationDisabled(t *testing.T) {
	c := NewClient(Options{BaseURL: "http://127.0.0.1:1", Topic: "x"})
	assert.False(t, c.Enabled())
	assert.NoError(t, c.SendNotification(context.Background(), "ignored"))
}

func TestSendNotificationRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer server.Close()

	c := testClient(server.URL, 3)
	require.NoError(t, c.SendNotification(context.Background(), "hi"))
	assert.Equal(t, int32(3), calls.Load())

	_, _, retries := c.GetMetrics()
	assert.Equal(t, int64(2), retries)
}

func TestSendNotificationStopsOnAuthError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	err := testClient(server.URL, 3).SendNotification(context.Background(), "hi")
	var notifErr *NotificationError
	require.True(t, errors.As(err, &notifErr))
	assert.Equal(t, "auth", notifErr.Type)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := testClient(server.URL, 0)
	for i := 0; i < failureThreshold; i++ {
		assert.Error(t, c.SendNotification(context.Background(), "x"))
	}

	err := c.SendNotification(context.Background(), "x")
	var notifErr *NotificationError
	require.True(t, errors.As(err, &notifErr))
	assert.Equal(t, "circuit_open", notifErr.Type)
	assert.Equal(t, int32(failureThreshold), calls.Load())
}

func TestFormatBatchMessage(t *testing.T) {
	items := []NewItem{
		{MarketName: "AK-47 | Redline (Field-Tested)", SheetPrice: decimal.NewNullDecimal(decimal.RequireFromString("10.5"))},
		{MarketName: "Sticker | Crown (Foil)"},
	}
	msg := FormatBatchMessage(items)
	assert.Equal(t, "2 new items on the sheet\n"+
		"• AK-47 | Redline (Field-Tested) ($10.50)\n"+
		"• Sticker | Crown (Foil) (no price)", msg)

	assert.True(t, strings.HasPrefix(FormatBatchMessage(items[:1]), "1 new item on the sheet\n"))
}

func TestFormatBatchMessageTruncates(t *testing.T) {
	items := make([]NewItem, 13)
	for i := range items {
		items[i] = NewItem{MarketName: "item"}
	}
	msg := FormatBatchMessage(items)
	assert.Equal(t, maxItemsInBatch+2, len(strings.Split(msg, "\n")))
	assert.True(t, strings.HasSuffix(msg, "... and 3 more items"))
}

func TestFormatItemMessage(t *testing.T) {
	msg := FormatItemMessage(NewItem{MarketName: "AWP | Asiimov (Field-Tested)"}, 2, 3)
	assert.Equal(t, "New item (2/3)\nAWP | Asiimov (Field-Tested)\nSheet price: no price", msg)
}

func TestNotifyNewItemsSendsBatch(t *testing.T) {
	bodies := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies <- string(body)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	testClient(server.URL, 0).NotifyNewItems(ctx, []NewItem{{MarketName: "A"}})
	cancel()

	select {
	case body := <-bodies:
		assert.Contains(t, body, "• A (no price)")
	case <-time.After(2 * time.Second):
		t.Fatal("no notification received")
	}
}

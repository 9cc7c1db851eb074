package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu     sync.Mutex
	msgs   []message
	err    error
	closed bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, message{subject, data})
	return nil
}

func (c *fakeConn) Close() { c.closed = true }

var _ Publisher = (*NATSPublisher)(nil)
var _ Publisher = NoopPublisher{}

func TestPublishScrape(t *testing.T) {
	conn := &fakeConn{}
	pub := NewPublisherWithConn(conn, "finagg", zerolog.Nop())

	require.NoError(t, pub.PublishScrape(context.Background(), ScrapeEvent{RunID: "r1", Pipeline: "sec", Rows: map[string]int{"AAPL": 3}}))
	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "finagg.scrape", conn.msgs[0].subject)

	var got ScrapeEvent
	require.NoError(t, json.Unmarshal(conn.msgs[0].data, &got))
	assert.Equal(t, "r1", got.RunID)
	assert.Equal(t, 3, got.Rows["AAPL"])

	require.NoError(t, pub.PublishScrape(context.Background(), ScrapeEvent{RunID: "r2", Failures: []string{"MSFT: boom"}}))
	require.Len(t, conn.msgs, 3)
	assert.Equal(t, "finagg.scrape", conn.msgs[1].subject)
	assert.Equal(t, "finagg.error", conn.msgs[2].subject)

	pub.Close()
	assert.True(t, conn.closed)
}

func TestPublishSample(t *testing.T) {
	conn := &fakeConn{}
	pub := NewPublisherWithConn(conn, "finagg", zerolog.Nop())

	require.NoError(t, pub.PublishSample(context.Background(), SampleEvent{RequestID: "q", Transport: "http", Rows: 2}))
	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "finagg.sample", conn.msgs[0].subject)

	conn.err = errors.New("disconnected")
	assert.Error(t, pub.PublishSample(context.Background(), SampleEvent{}))
}

func TestNewNATSPublisherUnreachable(t *testing.T) {
	_, err := NewNATSPublisher("nats://127.0.0.1:1", "finagg", zerolog.Nop())
	assert.Error(t, err)
}

func TestNoopPublisher(t *testing.T) {
	var p NoopPublisher
	assert.NoError(t, p.PublishScrape(context.Background(), ScrapeEvent{}))
	assert.NoError(t, p.PublishSample(context.Background(), SampleEvent{}))
}

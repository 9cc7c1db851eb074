package rpc

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vbprojects/finagg/internal/config"
	"github.com/vbprojects/finagg/internal/events"
	"github.com/vbprojects/finagg/internal/policy"
)

type recorder struct {
	mu      sync.Mutex
	samples []events.SampleEvent
}

func (r *recorder) PublishScrape(context.Context, events.ScrapeEvent) error { return nil }

func (r *recorder) PublishSample(_ context.Context, e events.SampleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, e)
	return nil
}

func newClient(t *testing.T, rec *recorder) *Client {
	t.Helper()
	return newClientWith(t, rec, config.PolicyConfig{
		Model:          "linear",
		ModelConfig:    map[string]any{"seed": 1},
		Dist:           "categorical",
		ObservationDim: 3,
		ActionDim:      2,
		Seed:           5,
	})
}

func newClientWith(t *testing.T, rec *recorder, pc config.PolicyConfig) *Client {
	t.Helper()
	logger := zerolog.Nop()
	p, err := policy.NewSampler(pc, logger)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(NewService(p, rec, nil, logger), logger)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn)
}

func TestSample(t *testing.T) {
	rec := &recorder{}
	c := newClient(t, rec)

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-correlation-id", "req-1")
	out, err := c.Sample(ctx, policy.Request{
		Obs:           [][][]float64{{{1, 2, 3}, {4, 5, 6}}, {{0, 0, 1}, {1, 0, 0}}},
		Deterministic: true,
		ReturnLogp:    true,
		ReturnValues:  true,
	})
	require.NoError(t, err)
	assert.Len(t, out["actions"], 2)
	assert.Len(t, out["logp"], 2)
	assert.Len(t, out["values"], 2)

	require.Len(t, rec.samples, 1)
	assert.Equal(t, "req-1", rec.samples[0].RequestID)
	assert.Equal(t, "grpc", rec.samples[0].Transport)
	assert.Equal(t, 2, rec.samples[0].Rows)
	assert.True(t, rec.samples[0].Deterministic)
}

func TestSampleMatchesDeterministicRuns(t *testing.T) {
	c := newClient(t, &recorder{})
	req := policy.Request{Obs: [][]float64{{1, 0, 0}, {0, 1, 0}}, Deterministic: true}

	first, err := c.Sample(context.Background(), req)
	require.NoError(t, err)
	second, err := c.Sample(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first["actions"], second["actions"])
}

func TestSampleErrors(t *testing.T) {
	rec := &recorder{}
	c := newClient(t, rec)

	_, err := c.Sample(context.Background(), policy.Request{Obs: [][]float64{{1, 2, 3}}, Kind: "first"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.Sample(context.Background(), policy.Request{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.Sample(context.Background(), policy.Request{Obs: [][]float64{{1, 2, 3, 4}}})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	require.Len(t, rec.samples, 3)
	for _, e := range rec.samples {
		assert.NotEmpty(t, e.LastError)
		assert.NotEmpty(t, e.RequestID)
	}
}

func TestSampleOverflowingObservations(t *testing.T) {
	rec := &recorder{}
	c := newClientWith(t, rec, config.PolicyConfig{
		Model:          "linear",
		ModelConfig:    map[string]any{"seed": 1, "init_scale": 1000},
		Dist:           "categorical",
		ObservationDim: 3,
		ActionDim:      2,
	})

	_, err := c.Sample(context.Background(), policy.Request{
		Obs:        [][]float64{{1e308, 1e308, 1e308}},
		ReturnLogp: true,
	})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	require.Len(t, rec.samples, 1)
	assert.Contains(t, rec.samples[0].LastError, "non-finite")
}

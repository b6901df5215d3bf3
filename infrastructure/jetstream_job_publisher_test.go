package infrastructure

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitovidale/video-ingest-service/domain"
)

type fakeJetStream struct {
	streams  []jetstream.StreamConfig
	subjects []string
	err      error
	seq      uint64
}

func (f *fakeJetStream) CreateOrUpdateStream(_ context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	f.streams = append(f.streams, cfg)
	return nil, nil
}

func (f *fakeJetStream) Publish(_ context.Context, subject string, _ []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subjects = append(f.subjects, subject)
	f.seq++
	return &jetstream.PubAck{Stream: "VIDEO_PROCESSING", Sequence: f.seq}, nil
}

func TestJetStreamJobPublisher_EnsureTopic(t *testing.T) {
	js := &fakeJetStream{}
	pub := newJetStreamJobPublisher(js, "", 0, 0, testLogger())

	require.NoError(t, pub.EnsureTopic(context.Background()))
	require.Len(t, js.streams, 1)
	assert.Equal(t, []string{"video-processing-queue.*"}, js.streams[0].Subjects)
	assert.Equal(t, jetstream.FileStorage, js.streams[0].Storage)
	assert.Equal(t, 1, js.streams[0].Replicas)
}

func TestJetStreamJobPublisher_Publish(t *testing.T) {
	js := &fakeJetStream{}
	pub := newJetStreamJobPublisher(js, "", 3, 1, testLogger())

	ack, err := pub.PublishVideoProcessing(context.Background(), domain.VideoProcessingMessage{VideoID: "v1", ContentType: "video/mp4"})
	require.NoError(t, err)
	assert.Equal(t, "1", ack.Offset)
	assert.Equal(t, []string{partitionName(DefaultTopic, PartitionFor("v1", 3))}, js.subjects)
}

func TestJetStreamJobPublisher_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no responders", nats.ErrNoResponders, domain.ErrUpstreamUnavailable},
		{"timeout", context.DeadlineExceeded, domain.ErrUpstreamUnavailable},
		{"rejected", errors.New("maximum messages exceeded"), domain.ErrEnqueueFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := newJetStreamJobPublisher(&fakeJetStream{err: tt.err}, "", 3, 1, testLogger())
			_, err := pub.PublishVideoProcessing(context.Background(), domain.VideoProcessingMessage{VideoID: "v1"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want))
		})
	}
}

package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/BearBump/BusTrack/internal/broker/messages"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs      []kafka.Message
	err       error
	i         int
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.i < len(r.msgs) {
		m := r.msgs[r.i]
		r.i++
		return m, nil
	}
	if r.err != nil {
		return kafka.Message{}, r.err
	}
	return kafka.Message{}, errors.New("eof")
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumer_Consume_CallsHandler(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{{Key: []byte("k"), Value: []byte("v")}},
		err:  errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	var gotK, gotV []byte
	err := c.Consume(context.Background(), func(k, v []byte) error {
		gotK, gotV = k, v
		return nil
	})
	require.Error(t, err)
	require.Equal(t, []byte("k"), gotK)
	require.Equal(t, []byte("v"), gotV)
	require.Len(t, fr.committed, 1)
}

func TestConsumer_Consume_HandlerErrorStops(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{{Key: []byte("k"), Value: []byte("v")}}}
	c := newConsumerWithReader(fr)

	want := errors.New("handler failed")
	err := c.Consume(context.Background(), func(k, v []byte) error { return want })
	require.ErrorIs(t, err, want)
	require.Empty(t, fr.committed)
}

func TestConsumer_ConsumePings(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{
			{Key: []byte("A1"), Value: []byte(`not json`)},
			{Key: []byte("A1"), Value: []byte(`[{"imei":"a1","op":"loc","lat":"1.5","lng":2}]`)},
		},
		err: errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	var got []messages.PingBatch
	err := c.ConsumePings(context.Background(), func(_ context.Context, b messages.PingBatch) error {
		got = append(got, b)
		return nil
	})
	require.Error(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0].Pings, 1)
	require.Equal(t, "a1", got[0].Pings[0].IMEI.String())
	// the bad message is committed too
	require.Len(t, fr.committed, 2)
}

func TestNewConsumer_Close(t *testing.T) {
	c := NewConsumer([]string{"localhost:0"}, "t", "g")
	require.NotNil(t, c)
	require.NoError(t, c.Close())
}

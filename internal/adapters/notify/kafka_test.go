package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acomody/internal/adapters/notify"
	"acomody/internal/domain"
)

func TestKafka_SendKeysByBooking(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	defer func() { require.NoError(t, sp.Close()) }()

	at := time.Date(2030, 1, 10, 9, 0, 0, 0, time.UTC)
	notice := domain.BookingNotice{
		BookingID: "b-1", GuestID: "g-1", HostID: "h-1", Status: domain.BookingConfirmed,
		Entity:    domain.EntityRef{Kind: domain.KindAccommodation, ID: "villa-1"},
		CheckIn:   "2030-02-01", CheckOut: "2030-02-04", Total: decimal.RequireFromString("384"), Currency: "EUR",
		OccurredAt: at,
	}

	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		assert.Equal(t, "bookings", m.Topic)
		key, err := m.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "b-1", string(key))
		assert.Equal(t, at, m.Timestamp)

		raw, err := m.Value.Encode()
		require.NoError(t, err)
		var got struct {
			Event   string               `json:"event"`
			Payload domain.BookingNotice `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, string(domain.EventBookingConfirmed), got.Event)
		assert.Equal(t, "villa-1", got.Payload.Entity.ID)
		assert.True(t, notice.Total.Equal(got.Payload.Total))
		return nil
	})

	k := notify.NewKafkaWithProducer(sp, "bookings")
	require.NoError(t, k.Send(context.Background(), domain.EventBookingConfirmed, notice))
}

func TestKafka_SendFailure(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	defer func() { _ = sp.Close() }()
	boom := errors.New("broker down")
	sp.ExpectSendMessageAndFail(boom)

	k := notify.NewKafkaWithProducer(sp, "")
	err := k.Send(context.Background(), domain.EventBookingCreated, domain.BookingNotice{BookingID: "b-2"})
	assert.ErrorIs(t, err, boom)
}

func TestKafka_CancelledContextSkipsPublish(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	defer func() { require.NoError(t, sp.Close()) }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	k := notify.NewKafkaWithProducer(sp, "bookings")
	assert.ErrorIs(t, k.Send(ctx, domain.EventBookingPaid, nil), context.Canceled)
}

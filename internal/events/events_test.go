package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHub_DeliversOnlyToTransactionSubscribers(t *testing.T) {
	hub := NewHub()

	a, cancelA := hub.Subscribe("tx-a")
	defer cancelA()
	b, cancelB := hub.Subscribe("tx-b")
	defer cancelB()

	hub.Dispatch(&Event{EventType: TypeTransactionCompleted, TransactionID: "tx-a"})

	select {
	case ev := <-a:
		assert.Equal(t, "tx-a", ev.TransactionID)
	default:
		t.Fatal("expected event for tx-a")
	}
	select {
	case ev := <-b:
		t.Fatalf("unexpected event for tx-b: %+v", ev)
	default:
	}
}

func TestHub_CancelReleasesSubscription(t *testing.T) {
	hub := NewHub()

	ch, cancel := hub.Subscribe("tx-1")
	assert.Equal(t, 1, hub.Subscribers("tx-1"))

	cancel()
	cancel()
	assert.Equal(t, 0, hub.Subscribers("tx-1"))

	_, open := <-ch
	assert.False(t, open)

	// dispatch after cancel must not panic
	hub.Dispatch(&Event{TransactionID: "tx-1"})
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe("tx-1")
	defer cancel()

	for i := 0; i < subscriberBuffer*3; i++ {
		hub.Dispatch(&Event{TransactionID: "tx-1"})
	}
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, *Event) error { return f.err }

func TestMulti_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	hub := NewHub()
	ch, cancel := hub.Subscribe("tx-1")
	defer cancel()

	err := Multi{failingPublisher{boom}, hub}.Publish(context.Background(), &Event{TransactionID: "tx-1"})
	require.ErrorIs(t, err, boom)
	assert.Len(t, ch, 1, "later publishers still run after a failure")
}

func TestLogged_SwallowsErrors(t *testing.T) {
	p := NewLogged(failingPublisher{errors.New("down")}, zap.NewNop())
	ev := &Event{TransactionID: "tx-1"}

	require.NoError(t, p.Publish(context.Background(), ev))
	assert.False(t, ev.Timestamp.IsZero())
}

func TestTransactionEvent(t *testing.T) {
	tx := &domain.Transaction{
		ID:              "tx-1",
		ProjectID:       "p-1",
		TransactionType: domain.TxTypePayout,
		Status:          domain.TxStatusFailed,
		Amount:          decimal.NewFromInt(4500),
		Currency:        domain.DefaultCurrency,
		Metadata: domain.Metadata{
			domain.MetaEscrowID:      "e-1",
			domain.MetaFailureReason: "insufficient float",
		},
	}

	ev := TransactionEvent(TypeTransactionFailed, tx)

	assert.Equal(t, "e-1", ev.EscrowID)
	assert.Equal(t, "4500.00", ev.Amount)
	assert.Equal(t, "payout", ev.TransactionType)
	assert.Equal(t, "insufficient float", ev.ErrorMessage)
}

func TestKafkaPublisher_KeysByTransaction(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "tx-9" {
			return errors.New("unexpected key " + string(key))
		}
		if msg.Topic != DefaultTopic {
			return errors.New("unexpected topic " + msg.Topic)
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var ev Event
		return json.Unmarshal(value, &ev)
	})

	p := newKafkaPublisher(producer, "", zap.NewNop())
	require.NoError(t, p.Publish(context.Background(), &Event{EventType: TypeEscrowHeld, TransactionID: "tx-9"}))
	require.NoError(t, p.Close())
}

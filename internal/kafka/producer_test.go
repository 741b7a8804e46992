package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPublish(t *testing.T) {
	mock := mocks.NewSyncProducer(t, NewConfig())
	defer mock.Close()

	at := time.Date(2024, 9, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var event AuditEvent
		if err := json.Unmarshal(val, &event); err != nil {
			return err
		}
		if event.UserCode != "AB12C" || event.Action != models.ActionLogin {
			return errors.New("unexpected event payload")
		}
		if !event.Timestamp.Equal(at) {
			return errors.New("timestamp not preserved")
		}
		return nil
	})

	p := NewAuditProducerWith(mock, "promptlab-audit", zaptest.NewLogger(t))
	err := p.Publish(context.Background(), models.LogEntry{
		UserCode:  "AB12C",
		Action:    models.ActionLogin,
		Data:      map[string]interface{}{"ip": "local"},
		Timestamp: at,
	})
	assert.NoError(t, err)
}

func TestPublishKeyedByUser(t *testing.T) {
	mock := mocks.NewSyncProducer(t, NewConfig())
	defer mock.Close()

	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "ZZ99Z" {
			return errors.New("message not keyed by user code")
		}
		if msg.Topic != "audit" {
			return errors.New("wrong topic")
		}
		return nil
	})

	p := NewAuditProducerWith(mock, "audit", nil)
	require.NoError(t, p.Publish(context.Background(), models.LogEntry{UserCode: "ZZ99Z", Action: models.ActionLogout, Timestamp: time.Now()}))
}

func TestPublishFailure(t *testing.T) {
	mock := mocks.NewSyncProducer(t, NewConfig())
	defer mock.Close()

	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewAuditProducerWith(mock, "audit", nil)
	err := p.Publish(context.Background(), models.LogEntry{UserCode: "AB12C", Action: models.ActionError, Timestamp: time.Now()})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}

func TestPublishCancelled(t *testing.T) {
	mock := mocks.NewSyncProducer(t, NewConfig())
	defer mock.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewAuditProducerWith(mock, "audit", nil)
	assert.ErrorIs(t, p.Publish(ctx, models.LogEntry{UserCode: "AB12C"}), context.Canceled)
}

package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_Envelope(t *testing.T) {
	env, body, err := encode(BookingCreated, map[string]any{"booking_reference": "BK-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, env.ID)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "booking.created", decoded["type"])
	assert.Equal(t, "BK-1", decoded["payload"].(map[string]any)["booking_reference"])
}

func TestLogPublisher(t *testing.T) {
	assert.NoError(t, LogPublisher{}.Publish(context.Background(), InvoiceFailed, map[string]string{"reference": "BK-1"}))
}

func TestAMQPPublisher_RoundTrip(t *testing.T) {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		t.Skip("RABBITMQ_URL not set")
	}

	pub, err := DialAMQP(url, "portal.test")
	require.NoError(t, err)
	defer pub.Close()

	// Bind a throwaway queue to see the message arrive.
	conn, err := amqp.Dial(url)
	require.NoError(t, err)
	defer conn.Close()
	ch, err := conn.Channel()
	require.NoError(t, err)
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(q.Name, TicketsPurchased, "portal.test", false, nil))
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	require.NoError(t, err)

	require.NoError(t, pub.Publish(context.Background(), TicketsPurchased, map[string]int{"granted": 9}))

	select {
	case m := <-msgs:
		assert.Equal(t, "application/json", m.ContentType)
		assert.Contains(t, string(m.Body), `"granted":9`)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
}

package messaging

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopPublish(t *testing.T) {
	var p Publisher = Noop{}
	assert.NoError(t, p.Publish(PostCreated, PostCreatedEvent{PostID: "p1"}))
}

func TestNATSPublishSubscribe(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	n, err := NewNATS(url)
	require.NoError(t, err)
	defer n.Close()

	received := make(chan []byte, 1)
	sub, err := n.Subscribe("post.*", func(subject string, data []byte) {
		if subject == PostLiked {
			received <- data
		}
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, n.Publish(PostLiked, LikedEvent{TargetID: "p1", UserID: "u1", Timestamp: time.Now()}))

	select {
	case data := <-received:
		var event LikedEvent
		require.NoError(t, json.Unmarshal(data, &event))
		assert.Equal(t, "p1", event.TargetID)
		assert.Equal(t, "u1", event.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for post.liked")
	}
}

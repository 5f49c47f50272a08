package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/jobrouter/pkg/config"
)

func TestResourceNames(t *testing.T) {
	require.Equal(t, "projects/p1/topics/jr-assignment-notifications", topicResourceName("p1", " jr-assignment-notifications "))
	require.Equal(t, "projects/other/topics/t", topicResourceName("p1", "projects/other/topics/t"))
	require.Equal(t, "projects/p1/subscriptions/s", subscriptionResourceName("p1", "s"))
	require.Equal(t, "", topicResourceName("", "t"))
	require.Equal(t, "", subscriptionResourceName("p1", " "))
}

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{NotificationTopic: "t"}, nil)
	require.ErrorIs(t, err, errProjectIDRequired)

	_, err = NewClient(context.Background(), config.GCPConfig{ProjectID: "p1"}, config.PubSubConfig{}, nil)
	require.ErrorIs(t, err, errNoTopic)
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	require.Nil(t, c.Publisher("t"))
	require.Nil(t, c.Subscription("s"))
	require.Error(t, c.Ping(context.Background()))
	require.NoError(t, c.Close())
}

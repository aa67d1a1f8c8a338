// Package metrics defines Beacon's Prometheus collectors.
//
// Collectors are registered on the default registry via promauto and are
// exported at /metrics by the app. Instrumentation is best-effort state
// reporting and never drives behavior.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoginsTotal counts successful authentications.
	LoginsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beacon_auth_logins_total",
		Help: "Successful logins.",
	})

	// RotationsTotal counts successful refresh-token rotations.
	RotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beacon_auth_rotations_total",
		Help: "Successful refresh token rotations.",
	})

	// RevokedTokens tracks the current size of the revocation store.
	RevokedTokens = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beacon_auth_revoked_tokens",
		Help: "Token fingerprints currently held by the revocation store.",
	})

	// OnlineUsers tracks distinct users with at least one live presence record.
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beacon_presence_online_users",
		Help: "Distinct users currently online.",
	})

	// PresenceEvictionsTotal counts heartbeat-timeout evictions.
	PresenceEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beacon_presence_evictions_total",
		Help: "Presence records evicted by the heartbeat sweep.",
	})

	// ActiveChannels tracks channels currently registered.
	ActiveChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beacon_channels_active",
		Help: "Channels currently alive in the registry.",
	})

	// ChannelMessagesTotal counts messages published into channels.
	ChannelMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beacon_channel_messages_total",
		Help: "Messages published into channels.",
	})

	// WSConnections tracks live websocket connections.
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beacon_ws_connections",
		Help: "Live websocket connections.",
	})
)

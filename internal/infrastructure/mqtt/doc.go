// Package mqtt publishes Gatekeeper's session lifecycle events to an MQTT
// broker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Retained online/offline status with a Last Will for crash detection
//   - Non-blocking publication of session events
//   - Shutdown announcements
//
// # Topics
//
//	gatekeeper/system/status                  retained online/offline
//	gatekeeper/system/shutdown                shutdown mode
//	gatekeeper/session/{user_id}/{event}      opened, extended, closed, expired, forgotten
//
// Event payloads carry a token fingerprint, never the token.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials should come from GATEKEEPER_MQTT_USERNAME/PASSWORD
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	events := mqtt.NewEventPublisher(client)
//	defer events.Close()
//	sessions := auth.NewSessions(store, registry, events)
package mqtt

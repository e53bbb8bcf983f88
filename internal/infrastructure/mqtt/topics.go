package mqtt

import (
	"fmt"
	"strconv"
)

// Topic prefixes for the Gatekeeper event bus.
const (
	// TopicPrefix is the root of every Gatekeeper topic.
	TopicPrefix = "gatekeeper"

	// TopicPrefixSession is the base for session lifecycle events.
	TopicPrefixSession = "gatekeeper/session"

	// TopicPrefixSystem is the base for service status topics.
	TopicPrefixSystem = "gatekeeper/system"
)

// Topics provides builders for Gatekeeper MQTT topics.
//
//	topic := mqtt.Topics{}.Session(7, "opened")
//	// Returns: "gatekeeper/session/7/opened"
type Topics struct{}

// Session returns the topic for one session transition of a user.
//
// Example: gatekeeper/session/7/expired
func (Topics) Session(userID int64, event string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixSession, strconv.FormatInt(userID, 10), event)
}

// SystemStatus returns the retained online/offline status topic.
//
// Example: gatekeeper/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// SystemShutdown returns the topic announcing a shutdown request.
//
// Example: gatekeeper/system/shutdown
func (Topics) SystemShutdown() string {
	return TopicPrefixSystem + "/shutdown"
}

// AllSessionEvents returns a pattern matching every session event.
//
// Pattern: gatekeeper/session/+/+
func (Topics) AllSessionEvents() string {
	return TopicPrefixSession + "/+/+"
}

// AllTopics returns a pattern matching all Gatekeeper topics.
//
// Pattern: gatekeeper/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the workspace MQTT namespace.
const (
	// TopicPrefix is the root of every workspace topic.
	TopicPrefix = "allokapri"

	// TopicPrefixSystem is the base for service status topics.
	TopicPrefixSystem = TopicPrefix + "/system"

	// TopicPrefixAuthEvent is the base for auth event topics.
	TopicPrefixAuthEvent = TopicPrefix + "/auth/event"
)

// Topics provides builders for workspace MQTT topics.
//
//	mqtt.Topics{}.AuthEvent("login") // "allokapri/auth/event/login"
type Topics struct{}

// SystemStatus returns the retained service status topic. It also carries
// the Last Will and Testament.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AuthEvent returns the topic for one auth event type.
func (Topics) AuthEvent(eventType string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixAuthEvent, eventType)
}

// validEventType reports whether eventType can be used as a single topic
// level: non-empty, no separators and no wildcards.
func validEventType(eventType string) bool {
	return eventType != "" && !strings.ContainsAny(eventType, "/+#")
}

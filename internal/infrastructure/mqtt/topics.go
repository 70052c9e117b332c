package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes on the device platform's broker.
//
// Controller topics use the flat scheme: devices/{controllerID}/{channel}.
// The bridge's own status lives under casalink/.
const (
	// TopicPrefixDevices is the base for controller-published topics.
	TopicPrefixDevices = "devices"

	// TopicPrefixBridge is the base for the bridge's own topics.
	TopicPrefixBridge = "casalink"
)

// Channel names under a controller's topic subtree.
const (
	channelTelemetry = "telemetry"
	channelStatus    = "status"
)

// Topics provides builders for the broker topic scheme. Using these helpers
// keeps topic naming consistent between the ingest and the tests.
type Topics struct{}

// Telemetry returns the topic a controller publishes telemetry on.
//
// Example: devices/ctrl-001/telemetry
func (Topics) Telemetry(controllerID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixDevices, controllerID, channelTelemetry)
}

// Status returns the topic a controller publishes liveness on.
//
// Example: devices/ctrl-001/status
func (Topics) Status(controllerID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixDevices, controllerID, channelStatus)
}

// AllTelemetry returns the wildcard subscription for every controller's
// telemetry.
func (Topics) AllTelemetry() string {
	return fmt.Sprintf("%s/+/%s", TopicPrefixDevices, channelTelemetry)
}

// AllStatus returns the wildcard subscription for every controller's
// liveness.
func (Topics) AllStatus() string {
	return fmt.Sprintf("%s/+/%s", TopicPrefixDevices, channelStatus)
}

// SystemStatus returns the retained topic carrying the bridge's own
// online/offline status, also used as the LWT target.
func (Topics) SystemStatus() string {
	return TopicPrefixBridge + "/bridge/status"
}

// ParseControllerTopic splits a controller topic into its controller ID and
// channel. Returns ok=false for topics outside the devices/ subtree.
func ParseControllerTopic(topic string) (controllerID, channel string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != TopicPrefixDevices || parts[1] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

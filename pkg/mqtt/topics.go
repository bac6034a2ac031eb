// Package mqtt pkg/mqtt/topics.go
package mqtt

import (
	"fmt"
	"strings"
)

// Topic namespace: party/<houseId>/<nodeId>/<domain>/<signal> for node
// telemetry, party/<houseId>/ui/state for the published aggregate.
const topicBase = "party"

// Address identifies the producer and classification of one telemetry
// topic.
type Address struct {
	HouseID string
	NodeID  string
	Domain  string
	Signal  string
}

// BaseTopic returns the house-scoped topic prefix.
func BaseTopic(houseID string) string {
	return topicBase + "/" + houseID
}

// StateTopic returns the consolidated state topic for a house.
func StateTopic(houseID string) string {
	return BaseTopic(houseID) + "/ui/state"
}

// TelemetryFilter matches every five-segment node topic under the
// house. The four-segment ui/state topic is deliberately outside it.
func TelemetryFilter(houseID string) string {
	return BaseTopic(houseID) + "/+/+/+"
}

// NodeTopic builds a telemetry topic, mostly for tests and tooling.
func NodeTopic(houseID, nodeID, domain, signal string) string {
	return fmt.Sprintf("%s/%s/%s/%s", BaseTopic(houseID), nodeID, domain, signal)
}

// ParseTopic splits a telemetry topic into its address. Topics with
// fewer than five segments do not parse, which silently excludes the
// ui/state topic; extra segments beyond the signal are ignored.
func ParseTopic(topic string) (Address, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 5 {
		return Address{}, false
	}

	return Address{
		HouseID: parts[1],
		NodeID:  parts[2],
		Domain:  parts[3],
		Signal:  parts[4],
	}, true
}

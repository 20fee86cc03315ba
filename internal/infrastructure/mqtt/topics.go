package mqtt

import "fmt"

// TopicPrefix is the root of every lhkeeper topic.
const TopicPrefix = "lhkeeper"

// Topics builds lhkeeper MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.State("DEADBEEF")   // lhkeeper/state/DEADBEEF
//	topics.Command("DEADBEEF") // lhkeeper/command/DEADBEEF
type Topics struct{}

// State is the retained per-lighthouse state: last cycle and loop state.
func (Topics) State(lighthouseID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, lighthouseID)
}

// Event carries one message per keep-alive event.
func (Topics) Event(lighthouseID string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, lighthouseID)
}

// Command receives control messages such as {"command":"stop"}.
func (Topics) Command(lighthouseID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, lighthouseID)
}

// Health is the retained process health (healthy, degraded, stopping).
func (Topics) Health() string {
	return TopicPrefix + "/health"
}

// SystemStatus is the retained online/offline status, also used as the LWT.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllCommands matches the command topic of every lighthouse.
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/+"
}

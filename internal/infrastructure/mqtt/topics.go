package mqtt

import "fmt"

// Topic prefixes for OTA Core.
//
// Group topics follow ota/core/group/{group_id}/{event}; device agents
// subscribe to the group they belong to.
const (
	// TopicPrefixCore is the base for topics published by the core.
	TopicPrefixCore = "ota/core"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "ota/system"
)

// Topics provides builders for OTA Core MQTT topics.
// Using these helpers keeps topic naming consistent across publishers and tests.
//
//	topics := mqtt.Topics{}
//	topics.GroupEvent(7, "policy")
//	// Returns: "ota/core/group/7/policy"
type Topics struct{}

// GroupEvent returns the topic a group change event is published on.
//
// Example: ota/core/group/7/packages
func (Topics) GroupEvent(groupID int64, event string) string {
	return fmt.Sprintf("%s/group/%d/%s", TopicPrefixCore, groupID, event)
}

// GroupState returns the retained topic holding a group's current policy and packages.
//
// Example: ota/core/group/7/state
func (Topics) GroupState(groupID int64) string {
	return fmt.Sprintf("%s/group/%d/state", TopicPrefixCore, groupID)
}

// AllGroups returns a wildcard matching every group topic.
func (Topics) AllGroups() string {
	return TopicPrefixCore + "/group/#"
}

// SystemStatus returns the retained topic carrying the core's online status
// and its Last Will.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

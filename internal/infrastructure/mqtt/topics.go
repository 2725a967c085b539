package mqtt

import "fmt"

// DefaultTopicPrefix is used when the configuration leaves topic_prefix empty.
const DefaultTopicPrefix = "ipx800"

// Topics builds the bridge MQTT topic tree under a prefix:
//
//	{prefix}/system/status            online/offline (retained, LWT)
//	{prefix}/{endpoint}/state         canonical endpoint state (retained)
//	{prefix}/{endpoint}/command       commands from consumers
//	{prefix}/{endpoint}/response      command results
//
// The zero value uses DefaultTopicPrefix.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// SystemStatus returns the topic carrying the bridge online status.
//
// Example: ipx800/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.prefix())
}

// EndpointState returns the retained state topic of an endpoint.
//
// Example: ipx800/garage/state
func (t Topics) EndpointState(endpoint string) string {
	return fmt.Sprintf("%s/%s/state", t.prefix(), endpoint)
}

// EndpointCommand returns the topic consumers publish commands to.
//
// Example: ipx800/garage/command
func (t Topics) EndpointCommand(endpoint string) string {
	return fmt.Sprintf("%s/%s/command", t.prefix(), endpoint)
}

// EndpointResponse returns the topic command results are published on.
//
// Example: ipx800/garage/response
func (t Topics) EndpointResponse(endpoint string) string {
	return fmt.Sprintf("%s/%s/response", t.prefix(), endpoint)
}

// AllEndpointStates returns a wildcard matching every endpoint state topic.
func (t Topics) AllEndpointStates() string {
	return fmt.Sprintf("%s/+/state", t.prefix())
}

// AllTopics returns a wildcard matching everything under the prefix.
func (t Topics) AllTopics() string {
	return fmt.Sprintf("%s/#", t.prefix())
}

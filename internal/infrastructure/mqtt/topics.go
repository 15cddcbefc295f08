package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for sessiond MQTT traffic.
const (
	// TopicPrefix is the root of every sessiond topic.
	TopicPrefix = "sessiond"

	// TopicPrefixRevocation is the base for revocation notices.
	TopicPrefixRevocation = "sessiond/revocation"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "sessiond/system"
)

// Topics provides builders for sessiond MQTT topics.
// Using these helpers ensures consistent topic naming across nodes.
//
//	topics := mqtt.Topics{}
//	topic := topics.Revocation("acc-42")
//	// Returns: "sessiond/revocation/acc-42"
type Topics struct{}

// Revocation returns the topic a node publishes to after revoking an account.
//
// Example: sessiond/revocation/acc-42
func (Topics) Revocation(accountID string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixRevocation, accountID)
}

// AllRevocations returns the wildcard topic for every revocation notice.
//
// Pattern: sessiond/revocation/+
func (Topics) AllRevocations() string {
	return TopicPrefixRevocation + "/+"
}

// SystemStatus returns the retained node status topic used for LWT.
//
// Example: sessiond/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// ParseRevocationTopic extracts the account ID from a revocation topic.
// It returns false for any topic outside sessiond/revocation/{account_id}.
func ParseRevocationTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, TopicPrefixRevocation+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

// Package mqtt provides MQTT client connectivity for sessiond.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Every sessiond node keeps a short-lived cache of revocation fingerprint
// hashes. When one node revokes an account it publishes a notice on
// sessiond/revocation/{account_id}; peers subscribed to
// sessiond/revocation/+ drop their cached entry for that account.
//
//	node A --publish--> broker --deliver--> node B, node C
//
// Delivery is best effort. A node that misses a notice still converges once
// its cache entry expires.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Notices carry account IDs and reasons, never fingerprints or hashes
//   - Broker ACLs should restrict publishing on sessiond/# to sessiond nodes
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllRevocations(), 1, coordinator.HandleNotice)
package mqtt

// Package mqtt provides MQTT client connectivity for OTA Core.
//
// OTA Core publishes group change notifications so device agents learn
// about new policies and package sets without polling. This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
//	OTA Core → MQTT Broker → device agents (subscribed to their group)
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.GroupEvent(7, "policy")
//	client.Publish(topic, payload, 1, false)
package mqtt

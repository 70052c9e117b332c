// Package mqtt provides MQTT client connectivity for the CasaLink bridge.
//
// This package manages:
//   - Connection to the device platform's broker with auto-reconnect
//   - Topic subscriptions with wildcard support
//   - Message publishing with QoS guarantees
//   - Last Will and Testament (LWT) for bridge offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The device-management platform pushes controller telemetry and liveness
// over MQTT. CasaLink subscribes to those topics to keep the device
// registry's online flags and cached state current, so SYNC and QUERY
// answers reflect reality without polling the platform's REST API.
//
//	controller units → platform broker → CasaLink ingest
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllTelemetry(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
package mqtt

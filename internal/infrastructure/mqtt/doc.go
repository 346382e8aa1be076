// Package mqtt publishes workspace auth events to an MQTT broker.
//
// The workspace core only publishes. Anything interested in auth activity,
// such as an admin dashboard, subscribes to the topics built by Topics.
//
// # Topics
//
//	allokapri/system/status          retained online/offline status, plus LWT
//	allokapri/auth/event/{type}      one message per auth event (login, role_change, ...)
//
// Event payloads carry ids and roles, never passwords, hashes or tokens.
// Enable cfg.Broker.TLS outside development.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishEvent("login", map[string]any{"userId": id})
//
// Publishing is synchronous with a bounded wait. Callers that must not
// block a request path should publish from a goroutine.
package mqtt

// Package stream keeps long-lived push connections alive.
//
// A Connection wraps one WebSocket or SSE transport behind a small state
// machine (disconnected, connecting, connected, reconnecting, closed,
// errored) and takes care of the plumbing the application should not have
// to: heartbeats, jittered exponential reconnect, a bounded outbound
// buffer with a configurable backpressure policy, and lifecycle events.
//
// A Manager owns a set of Connections and enforces a concurrency cap.
//
// Basic usage:
//
//	mgr := stream.NewManager(stream.DefaultConfig())
//	defer mgr.Shutdown()
//
//	conn, err := mgr.CreateConnection("audit-feed", "wss://api.example.com/v1/stream", stream.KindWebSocket)
//	if err != nil {
//	    return err
//	}
//	conn.On(stream.EventData, func(e stream.Event) {
//	    process(e.Data)
//	})
//	if err := conn.Connect(ctx); err != nil {
//	    return err
//	}
package stream

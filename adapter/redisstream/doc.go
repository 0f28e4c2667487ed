// Package redisstream provides a Redis Streams transport for pbjx.
//
// Transport name: "redis-streams"
//
// Commands and events are appended as transport envelopes to two streams.
// Consume reads both through a consumer group and hands each message to
// the runtime's command or event bus, acking after delivery. Requests are
// answered in-process because a stream gives no reply channel.
//
// Config keys:
//   - addr: "host:port" (default "127.0.0.1:6379")
//   - command_stream / event_stream (default "pbjx:commands" / "pbjx:events")
//   - serializer: envelope serializer (default "json")
//   - group: consumer group name (default "pbjx")
//   - consumer: consumer name (default "pbjx-<host>-<pid>")
//   - concurrency: number of workers (default 8)
//   - batch_size: XREADGROUP COUNT (default 128)
//   - block: XREADGROUP BLOCK duration (default 5s)
//   - auto_create: create group/stream if missing (default true)
//   - auto_delete_on_ack: XDEL after XACK (default false)
//   - dead_letter: stream receiving entries that cannot be decoded (optional)
//
// Example builder usage:
//
//	p, _ := pbjx.NewBuilder().
//	    WithTransport(redisstream.TransportName, map[string]any{
//	        "addr":        "localhost:6379",
//	        "group":       "billing",
//	        "concurrency": 16,
//	        "block":       "5s",
//	        "dead_letter": "pbjx:dlq",
//	    }).
//	    Build()
//	sub, _ := p.Transport().(*redisstream.Transport).Consume(ctx, p)
//	defer sub.Close()
package redisstream

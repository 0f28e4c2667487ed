package redisstream

// Stream entry fields.
const (
	fieldEnvelope   = "envelope"
	fieldCurie      = "curie"
	fieldMessageID  = "message_id"
	fieldProducedAt = "produced_at" // int64 ns

	// dead-letter entries
	fieldOrigStream = "orig_stream"
	fieldOrigID     = "orig_id"
	fieldError      = "error"
)

// groupStartID makes a new consumer group read the stream from the start,
// so commands sent before the first consumer came up are not lost.
const groupStartID = "0"

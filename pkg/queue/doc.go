// Package queue publishes tracker jobs on a message queue.
//
// Jobs are encoded as JSON and published with watermill, either on NATS
// JetStream or on an in-process channel for tests and single-node setups.
// Each named queue maps to the topic "<subject_prefix>.<queue>". The job id
// is the message UUID and the Nats-Msg-Id header, so redelivered publishes
// are deduplicated by JetStream.
//
// Publishing goes through a circuit breaker. Once the broker keeps failing
// the breaker opens and Enqueue fails fast until it half-opens again.
package queue

// Package digest pushes short summaries of new notification activity to a
// chat. It listens for committed state changes on the event bus and runs an
// async pipeline: queue, worker, token-bucket rate limit, retry and a
// time-window dedup of identical messages.
package digest

// Package notifier delivers operator notifications for raised alerts.
//
// Messages are queued and sent by a small worker pool with a shared rate
// limit, bounded retries and a dedup window. Every message fans out to all
// configured channels (telegram, webhook, email); a failing channel does not
// affect the others.
//
// Notify only fails on intake (disabled, stopped, queue full). Delivery
// failures are logged, counted and published as notifier.failed events.
package notifier

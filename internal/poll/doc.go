// Package poll runs the domain pollers.
//
// Each Poller owns a private Snapshot of last-seen readings, queries its
// backend domains on a shared cron Scheduler, and submits the readings that
// increased as one notify.ChangeEvent per cycle.
package poll

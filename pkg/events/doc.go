// Package events provides an in-memory, non-blocking pub/sub broker for
// broadcasting types.AuditEvent values to the notification and
// report-delivery adapters (spec §6). Publish never blocks on slow or
// disconnected subscribers — full subscriber buffers simply skip the event,
// because persistence of the event is the store's job (pkg/storage), not
// the broker's.
package events

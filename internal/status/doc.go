// Package status derives point-in-time agent snapshots from a live protocol
// client. Aggregate is pure and synchronous; it never fails, malformed
// external state only removes fields from the result.
package status

// Package storage provides the persistence layer of the scanner:
//
//   - Account roster (usernames + follower counts)
//   - Check-history ledger (drives scan prioritization)
//   - Notification send-locks (the at-most-once delivery primitive)
//   - Viral-post feed (audit records of classified posts)
//   - Settings singleton document
package storage

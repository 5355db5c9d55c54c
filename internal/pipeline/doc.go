// Package pipeline runs the long-lived services that turn root advances into
// snapshot archives.
//
// Three goroutines cooperate:
//
//   - AccountsBackgroundService drains snapshot requests sent by the fork set
//     and pruned-bank notifications, hashes the requested bank and builds an
//     accounts package.
//   - AccountsHashVerifier re-hashes each package from its staged storages and
//     parks the result in the pending slot.
//   - SnapshotPackagerService archives the pending package, applies retention
//     and announces the new archive.
//
// All loops select on a shared context and a bounded wait, so Stop returns
// promptly. An archive being written is never interrupted.
package pipeline

// Package snapshot turns rooted banks into archives and archives back into
// banks.
//
// A snapshot starts as a bank snapshot directory under the bank snapshots
// dir, holding the serialized bank and its status cache. An AccountsPackage
// pairs that directory with hard links to the account storages it needs,
// staged so that later purges of the live files cannot pull them away.
// Archiving writes the staged tree as
//
//	version
//	snapshots/<slot>/<slot>
//	snapshots/status_cache
//	accounts/<slot>.<id>
//
// to a tmp-snapshot-archive-* file and renames it into place as
//
//	snapshot-<slot>-<hash>.<ext>
//	incremental-snapshot-<base>-<slot>-<hash>.<ext>
//
// with ext one of tar, tar.gz or tar.zst.
//
// Restore unpacks the newest full archive and, if one builds on it, the
// newest incremental archive, checks the accounts hash against the archive
// name and the bank, and rebuilds the bank, accounts DB and status cache.
package snapshot

// Package accounts stores account state for the bank and snapshot layers.
//
// Each slot's writes land in one immutable storage file named
// "<slot>.<id>", spread round-robin over the configured account paths.
// A Badger index maps (pubkey, slot) to the record location so the newest
// visible version of an account can be found without scanning storages.
//
// The accounts hash is computed from storage files alone, which lets the
// snapshot pipeline hash hard-linked copies of the files and lets restore
// verify unpacked archives before anything is indexed.
package accounts

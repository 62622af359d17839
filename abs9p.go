// Package abs9p serves any absfs filesystem over the 9P2000.L
// protocol. It provides the wire codec, per-connection session and
// dispatch machinery, and an FSBackend that adapts an
// absfs.SymlinkFileSystem into a 9P export. Custom backends can be
// served by implementing the Backend and BackendFile interfaces.
package abs9p

// Version represents the current version of the abs9p package
const Version = "0.1.0"

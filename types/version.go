package types

// Version is the canonical project version.
// The CLI, the delegation wire protocol, and the journal record format share
// this version per the lockstep versioning policy.
//
// This version is authoritative. Contract docs must reference this constant.
const Version = "0.3.0"

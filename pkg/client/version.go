package client

// Version of kiln, stamped at build time. Builds record it in the ephemeral
// builder metadata and the CLI reports it.
var Version = "0.0.0"

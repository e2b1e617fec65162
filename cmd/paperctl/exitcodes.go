package main

// Exit codes.
const (
	ExitSuccess       = 0 // Success
	ExitError         = 1 // Runtime failure or invalid arguments
	ExitConfigError   = 2 // Invalid configuration or unreachable store
	ExitRunInProgress = 3 // Another run holds the run lock
)

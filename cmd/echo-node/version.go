package main

// Overridden at build time via -ldflags "-X main.version=... ...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

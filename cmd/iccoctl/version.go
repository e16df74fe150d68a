package main

// Version is set at build time via -ldflags; "dev" otherwise.
var Version = "dev"

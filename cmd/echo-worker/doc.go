// Command echo-worker is a sample process module. It speaks the framed
// stream on stdin/stdout and serves /echo, /time and /ping. Point a
// manifest's exec.command at the built binary to load it into the shell.
package main

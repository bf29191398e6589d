// Package process runs modules as native child processes.
//
// A manifest file declares the module and how to start it:
//
//	module:
//	  id: echo.proc.dweb
//	  name: Echo
//	  protocols:
//	    binary: true
//	exec:
//	  command: ./echo-worker
//	  args: ["-v"]
//	  env:
//	    LOG_LEVEL: debug
//
// TOML files use the same keys under [module] and [exec]. The Seeder
// discovers *.yaml, *.yml and *.toml files recursively and installs one
// factory per file.
//
// The child speaks the framed stream on stdin/stdout; stderr is logged.
// Every session brokered to the module gets a fresh channel on that pipe
// and requests, events and stream chunks are relayed both ways. The child
// side is implemented by Serve. When the child exits on its own the
// module closes itself.
package process

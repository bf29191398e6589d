/*
Package registry is the module registry and broker of the shell.

It keeps three maps:

  - installed: module id to Factory, in registration order
  - running: module id to an in-flight or ready *Instance
  - brokered: ordered (from, to) pair to an in-flight or ready *Pair

running and brokered are single-flight: concurrent Open calls for one
module share one Bootstrap, and concurrent Connect calls for one pair
share one channel pair. A failed bootstrap or broker leaves no entry, so
the next caller tries again. When Options.Duplex is set a broker also
seeds the reverse pair, and Connect(b, a) after Connect(a, b) reuses the
same channel. Either session closing removes both entries.

# Routing

Fetch resolves file://{module-id}/path against installed modules and
any other URL against the deep-link prefixes modules advertise. Unknown
modules answer 502, unmatched deep links 404. A 401 answer leads to one
request to the permission module and, if granted, one retry.

The registry is itself the module dns.std.dweb, serving /open, /close,
/query, /search and /running.

# Usage

	reg := registry.New(registry.DefaultOptions(), logger, metrics)
	_ = reg.Install(module.NewFactory(manifest, newEcho))

	resp, err := reg.Fetch(ctx, "gateway.sys.dweb", ipc.NewRequest("GET", "file://echo.std.dweb/ping", nil))
	_ = reg.Shutdown(ctx)
*/
package registry

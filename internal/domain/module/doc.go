// Package module defines what the registry installs and runs.
//
// A Factory carries a module's manifest and builds a fresh Module for
// every start. A running module receives a *Context: its pool, a logger,
// lifecycle hooks and a Runtime handle bound to the instance. Modules
// never hold the registry itself.
//
// Modules that implement Connector are told about every session brokered
// to them before it starts, which is where they install a Router:
//
//	func (m *echo) BeConnect(ctx context.Context, s *ipc.Session, reason string) error {
//		s.Serve(m.routes)
//		return nil
//	}
package module

// Package types provides data structures shared across the shell core.
//
// Core Types:
//   - Manifest: module descriptor consumed by the registry
//   - Protocols: optional wire protocols a module accepts
//   - Category: search grouping for modules
//
// Example Usage:
//
//	m := types.Manifest{
//	    ID:         "fetch.std.dweb",
//	    Name:       "Fetch",
//	    Categories: []types.Category{types.CategoryNetwork},
//	    DeepLinks:  []string{"http:", "https:"},
//	    Protocols:  types.Protocols{Binary: true},
//	}
package types

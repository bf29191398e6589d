// Package utils provides input validation shared by the registry and modules.
//
// Validation:
//   - Module ids: dotted-domain form, two or more [a-z0-9-] labels
//   - Deep-link prefixes: "scheme:" or "scheme:action", file: reserved
//   - Free-form length limits for manifest fields
package utils

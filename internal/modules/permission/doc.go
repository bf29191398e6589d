// Package permission implements permission.std.dweb, the module the
// registry asks when another module answers 401.
//
// Grants are pairs of requester and target module ids held in memory.
// Routes: /request, /grant, /revoke, /check, /list and /audit, each
// taking requester and target query parameters where they apply.
// /request answers 200 when access is granted and 403 otherwise.
package permission

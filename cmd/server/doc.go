// Command server runs the dweb shell: the module registry with the
// permission, fetch and gateway modules installed, plus one process
// module per manifest found under REGISTRY_MANIFEST_DIR. The modules
// named in REGISTRY_BOOT are opened at start; SIGINT or SIGTERM shuts
// every running module down.
package main

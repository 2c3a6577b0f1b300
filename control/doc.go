// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, hot reload, runtime metrics and debug introspection for
// usock hosts.
//
// Provides concurrent-safe state handling primitives including:
//   - A YAML configuration document with validation and defaults
//   - A snapshot store with reload listeners and an fsnotify file watcher
//   - Counters fed by endpoints
//   - Named debug probes dumped by the host
package control

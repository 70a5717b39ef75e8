// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, runtime metrics and debug introspection for the dispatcher.
//
// Provides:
//   - YAML configuration with defaults and validation
//   - A thread-safe counter/gauge registry written by the master loop
//   - Named debug probes evaluated on demand
package control

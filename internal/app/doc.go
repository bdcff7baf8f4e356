// Package app composes the CMS: it opens the database and session backends,
// builds the kernel over a module catalog and serves the front controller
// behind the shared middleware stack.
//
// The root router answers /healthz and /metrics itself and hands every
// other path to the front controller, whose router and hook table the
// kernel rebuilds whenever the set of enabled modules changes.
package app

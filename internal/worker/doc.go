// Package worker implements the cache coordinator: an http.Handler that
// sits between the frontend and the backend and decides, per request,
// whether to answer from the network, the live cache bucket, or a
// synthesized offline response.
//
// A Coordinator moves through Parsed, Installing, Installed, Activating and
// Activated. Until it is Activated every request goes straight to the
// network. Activation drops every cache bucket except the current version's.
package worker

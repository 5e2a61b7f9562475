// Package bridge is the request/response boundary between samplecart and
// an untrusted front-end.
//
// Gateway validates every path against the configured local roots and the
// mount paths of live volumes before forwarding to the device watcher, the
// volume directory or the transfer orchestrator. Device events are
// re-published per notification name through Subscribe.
package bridge

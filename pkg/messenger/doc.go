// Package messenger defines the typed message set exchanged between the
// agent, the master and executors, and a transport for carrying it.
//
// Messages are plain structs named after their wire routes; the HTTP
// transport POSTs them as JSON to http://host:port/<process>/<Message> and
// hands inbound ones to a Handler. Links model libprocess-style liveness:
// a watched peer's transport failing is delivered as Exited(pid), which is
// how the agent learns it lost its master.
//
// Delivery is best-effort and unordered across peers; reliability for
// status updates is the agent's job, not the transport's.
package messenger

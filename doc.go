// The [ogmkit] package is the driver layer connecting application code to a
// graph database over one of several transports.
//
// # Transports
//
// The transport is selected by the scheme of the configured endpoint URI:
// bolt:// and bolt+s:// use the binary socket protocol, http:// and
// https:// use the HTTP transport, and file:// runs an in-process engine.
// Each transport implements the [pkg/driver] capability interface and is
// registered at init time, database/sql style.
//
// # Opening a database
//
// Provide the raw configuration key/value pairs to [Open], or a resolved
// [pkg/config.DriverConfiguration] to [OpenConfig]. Construction tries the
// primary URI first and then any configured alternates in order, advancing
// only past endpoints that are unreachable; a rejected authentication or a
// malformed endpoint fails immediately.
//
// # Transactions
//
// [DB.Begin] binds a unit of work to a pooled session. The current
// transaction travels in the context.Context the caller threads through:
// beginning again on the same context returns the same transaction. A
// bookmark returned by a previous commit can be passed to Begin to make
// the new transaction observe everything causally preceding it.
package ogmkit

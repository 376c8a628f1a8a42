// Package audit records role changes.
//
// Audit is a best-effort side channel: a sink failure is logged by the
// caller and never fails or rolls back the role change it describes. Sinks
// that write to the database use the pool directly, never the request
// transaction, so an audit row survives a rollback and a failed insert
// cannot poison the request.
//
//	sink := audit.NewMultiSink(
//		audit.NewLogSink(logger),
//		audit.NewDBSink(db),
//	)
//	authority := roles.NewAuthority(cfg, roles.WithAuditSink(sink))
package audit

// Package service assembles the job engine from a configuration.
//
// Overview
// A Service owns the job store, the spec loader, the local executor and the
// job manager. Do runs the manager's admission loop together with the
// optional satellites configured in service:
//   - metrics_addr: Prometheus endpoint with queue and status metrics
//   - notify_url:   webhook receiving every terminal status change
//   - schedules:    cron triggers submitting a job against a spec
//
// Data flow:
//
//	Submit(spec id) --> specs.Get --> manager.Submit --> executor
//	                                       |
//	                               AllStatusChanges
//	                                 |          |
//	                             metrics     webhook
//
// Cancelling the context passed to Do aborts every queued and running job
// and returns once they were finalized.
package service

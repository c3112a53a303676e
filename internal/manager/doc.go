// Package manager owns loaded models and schedules generations on them.
//
//   - manager.go: Manager type, constructor and simple getters.
//   - config.go: Config and package defaults.
//   - types.go: instance state.
//   - errors.go: error types and predicates (IsTooBusy, IsModelNotFound).
//   - ensure.go / evict.go: loading models into engine handles within budget.
//   - admission.go: per-instance FIFO queue with a single in-flight generation.
//   - infer.go: streams a generation through the bridge as NDJSON.
//   - cancel.go / unload.go: stopping generations and draining instances.
//   - status.go: /status reporting.
//
// Each loaded model maps to one engine handle. The bridge allows one stream per
// handle; admission serializes requests in front of it so callers queue
// instead of failing with a busy error.
package manager

// Package incident is the business boundary for Beacon's report analysis
// pipeline. It defines the domain model and state machine, the pure routing
// rule engine, the five-stage pipeline Executor, the batch orchestration and
// rejection/correction flows on Service, the append-only audit model and the
// Store interface (persistence).
package incident

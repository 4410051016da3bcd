// Package control provides the race-control engine: the regulatory authority
// for a single motorsport session.
//
// # Reading Guide
//
// Start with these files to understand the engine:
//   - session.go: phases, flags, safety-car modes and the transition table
//   - engine.go: Engine construction, the Tick pipeline and the query surface
//   - directive.go: how session state and penalties combine into the speed
//     directive handed back to the motion collaborator
//
// # Tick pipeline
//
// A driver owns one Engine and calls Tick once per motion step with a Frame.
// Within a tick the engine updates telemetry (telemetry.go), detects
// incidents from the frame's contacts and off-track samples (incident.go),
// serves penalties (penalty_service.go), runs the stochastic incident
// generator, counts down the flag hold and automatic safety car, and finally
// compiles every directive. Events raised along the way are queued and
// delivered through the bus (control/bus) after the tick completes, so a
// handler that issues a command never observes a half-updated tick.
//
// All timers are simulation-time countdowns driven by Frame.Elapsed and only
// advance while the session is running.
//
// # Sub-packages
//   - control/bus: typed synchronous publish/subscribe
//   - control/trace: race-control decision log
//   - control/radio: team-radio advisories derived from engine events
package control

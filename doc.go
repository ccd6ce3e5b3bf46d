// Package signin models the lifecycle of a federated sign-in session: from
// unauthenticated, through a single in-flight attempt, to a verified identity
// and back out again.
//
// Session lifecycle:
//   - StateMachine owns SessionState. Transitions follow a fixed graph
//     (idle -> in_progress -> succeeded|failed, succeeded -> idle on sign out,
//     failed -> idle on reset, failed -> in_progress on retry) and at most one
//     attempt is in flight. External completions arrive as SignInAttemptResult
//     values; results for abandoned attempts are dropped by attempt ID.
//   - The machine asks its SessionBackend for an existing identity once, at
//     construction. The provider remains the source of truth afterwards.
//
// Navigation:
//   - Decide is a pure mapping from SessionState to a Destination.
//     NavigationController applies it through a Navigator and pops the profile
//     entry on sign out so it cannot be reached with back navigation.
//
// Activity sinks:
//   - ActivitySink receives session and remote call events. Sinks run best
//     effort (errors are logged) so metrics or audit forwarding never blocks the
//     sign in flow.
//
// Adapters live in sub-packages: credential (broker, PKCE state, Google and
// Firebase providers), repository (provider session stores), remote (callable
// function client), metrics (Prometheus sink), activitymap (audit records) and
// config.
package signin

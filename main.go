// tb-gate: TinkerBelle Gate
//
// A bastion host agent: one SSH-reachable account brokers access to a
// fleet of restricted internal accounts. tb-gate provisions per-role
// restricted command surfaces, forces every login through an audited
// session controller, and dispatches "switch" transitions between
// accounts while preserving session lineage.
//
// Usage:
//
//	tb-gate login                      # forced-login entry (sshd ForceCommand)
//	tb-gate switch <account>           # jump into a target account
//	tb-gate provision <account> ...    # build an account's command surface
//	tb-gate sessions                   # list active sessions
//	tb-gate sweep                      # recover abandoned sessions
package main

import "github.com/tinkerbelle-io/tb-gate/cmd"

var version = "dev"

func main() {
	cmd.Execute(version)
}

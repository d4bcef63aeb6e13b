// Package harness runs leaderboard conformance scenarios.
//
// A scenario drives a fresh in-memory store through the Submission Gateway
// while an Aggregation Engine watches it, then checks the ranking the
// engine delivered. Every run uses a step clock and sequential record ids,
// so the final ranking is byte-for-byte reproducible and can be compared
// against a golden file.
//
// # Scenario Format
//
//	name: best_per_player
//	description: "Case-insensitive names share one row"
//	steps:
//	  - submit: { name: Alice, score: 10 }
//	  - submit: { name: " alice ", score: "12" }
//	  - compact: true
//	  - fail: "connection reset"
//	  - resubscribe: true
//	expect:
//	  state: live
//	  standings:
//	    - { rank: 1, name: " alice ", best: 12, submissions: 1 }
//	  ranks:
//	    ALICE: 1
//	    carol: 0
//
// Each step must set exactly one action:
//
//   - submit: appends a draft record through the gateway
//   - compact: applies a compaction, no backup
//   - fail: ends the store subscription with the given error
//   - resubscribe: registers the observer again, re-attaching an
//     errored engine
//
// After every step the harness waits for the engine to converge: the last
// delivered ranking must equal a fresh build of the stored records, or be
// empty with the engine errored after a fail step.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/ties.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(context.Background(), scenario)
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness

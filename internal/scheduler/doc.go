// Package scheduler runs periodic jobs.
//
// Each job runs once at start and then every interval. A tick that arrives
// while the previous run of the same job is still executing is dropped, so a
// slow job never piles up behind itself.
package scheduler

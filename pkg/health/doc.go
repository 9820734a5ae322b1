// Package health tracks consecutive-failure/recovery state for cluster
// peer heartbeats.
//
// A Status accumulates Results from repeated heartbeat attempts and
// flips Healthy only after Config.Retries consecutive failures, so a
// single dropped heartbeat doesn't mark a peer unreachable. pkg/cluster's
// heartbeatMonitor keeps one Status per peer and feeds it a Result on
// every heartbeat RPC outcome.
package health

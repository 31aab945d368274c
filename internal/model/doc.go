// Package model holds the value types shared by the replicator and the
// verifier: namespaces, document keys, change events and their apply
// outcomes, discrepancies, and statistics.
package model

// Package engine owns the task lifecycle. It validates and annotates
// submissions, hands them to the compute backend with bounded retry, and
// keeps stored task state converged with backend reality through periodic
// reconciliation.
package engine

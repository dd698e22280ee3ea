// Package uow provides the unit of work: one transaction on the current
// tenant's store plus the event collector of that business operation.
//
// A unit is opened with Manager.Begin, which returns a context carrying the
// unit so nested calls can join it. Commit runs the before-commit hooks
// inside the transaction, commits, and only then runs the after-commit
// hooks. Any failure up to and including the commit rolls back and clears
// the captured events, so nothing is dispatched for a failed commit.
package uow

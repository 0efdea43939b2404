// Package types defines the shared task model for taskbridge: the task
// request, the workflow handle, progress/event shapes, the authoritative
// task record lifecycle, checkpoints, and the unified error type.
//
// These types are the vocabulary every backend speaks. They carry no
// behavior beyond validation and lifecycle rules, so both the in-process
// scheduler and the durable bridge can exchange them freely.
package types

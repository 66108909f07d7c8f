// Package dispatch runs dispatch rounds: one user query fanned out to every
// active target, each answer streamed into its own placeholder, and an
// optional synthesis branch that starts once every primary branch has
// settled.
//
// A round is made of branches. Each branch runs a relay in its own
// goroutine that looks up the provider credential, calls the provider and
// reports the growing text of its placeholder through a Sink. The
// collector joins the primary branches in participant order; the
// synthesizer then builds a composite prompt from the joined outcomes and
// runs one more relay against the aggregator target.
//
// Branch failures never escape their branch: they settle as a Failed
// outcome and the round carries on.
package dispatch

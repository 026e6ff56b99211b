// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kernel implements the concurrency and scheduling core of a small
// teaching kernel: thread lifecycle and dispatch, the sleep/alarm
// subsystem, the semaphore/lock/condition-variable synchronization
// primitives, priority donation, and the optional MLFQS priority governor.
//
// The design assumes a single execution unit with interrupt masking as the
// sole mutual-exclusion primitive, as the original system does. Since this
// implementation runs on top of the Go runtime rather than bare hardware,
// interrupt masking is simulated with a single mutex (Kernel.mu) and each
// simulated thread is a goroutine that is only ever executing while it
// holds the conceptual "CPU token" — at most one such goroutine runs
// application code at a time, handed off explicitly by the dispatcher via
// a per-thread resume channel. This mirrors the original's single opaque
// switch(from, to) primitive: the dispatcher wakes the incoming thread's
// goroutine and parks the outgoing one on its own channel.
//
// Thread, synchronization, sleep/timer, dispatch and the MLFQS governor
// live in one package because their data structures are mutually
// referential (a Thread names the Lock it is waiting on; a Lock names its
// owning Thread and donors) — splitting them would require an artificial
// interface boundary the original codebase does not have either.
package kernel

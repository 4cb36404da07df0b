package game

import "time"

const (
	SimRateHz      = 30 // fixed simulation rate
	SnapshotRateHz = 10 // cadence of periodic snapshot broadcasts

	SimDtSeconds = 1.0 / float64(SimRateHz)
	simDtMs      = 1000.0 / float64(SimRateHz)

	// One snapshot every N ticks, unless a change forces one sooner.
	snapshotIntervalTicks = uint64(SimRateHz / SnapshotRateHz)

	// Stall guards: a single wake never injects more than maxFrameMs of
	// wall time, and never runs more than maxCatchupSteps simulation
	// steps. Leftover accumulated time beyond the cap is discarded.
	maxFrameMs      = 250.0
	maxCatchupSteps = 8

	// The loop wakes finer-grained than the simulation step.
	wakeInterval = 16 * time.Millisecond

	MoveSpeed          = 220.0  // units/s
	MovementMapLimit   = 5000.0 // player positions clamp to ±limit
	ProjectileMapLimit = 5500.0 // projectiles get a slightly wider field
	ProjectileMaxSpeed = 900.0  // fire velocity is rescaled down to this
	projectileTTLMs    = 1800

	maxStructures             = 1024
	maxProjectiles            = 1024
	maxStructuresPerSnapshot  = 256
	maxProjectilesPerSnapshot = 256
	maxInputBatchSize         = 128

	// Positions are checkpointed to the store at most this often; writes
	// are best-effort and never block a tick.
	checkpointIntervalMs = 1000

	// Per-player command throttles. Commands inside the window are acked
	// but ignored.
	placeMinIntervalMs = 120
	fireMinIntervalMs  = 33

	sessionSendBuffer = 64
)

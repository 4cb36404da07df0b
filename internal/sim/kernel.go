// Package sim is the stateless integration kernel for 2D point-mass
// movement. Every function is pure: given inputs it returns the next
// position/velocity and nothing else, so the room actor and client
// prediction can share identical math.
package sim

import "math"

// InputState carries the four directional input flags for one player.
type InputState struct {
	Up    bool
	Down  bool
	Left  bool
	Right bool
}

type Vec2 struct{ X, Y float64 }

func (a Vec2) Add(b Vec2) Vec2      { return Vec2{a.X + b.X, a.Y + b.Y} }
func (a Vec2) Sub(b Vec2) Vec2      { return Vec2{a.X - b.X, a.Y - b.Y} }
func (a Vec2) Len() float64         { return math.Hypot(a.X, a.Y) }
func (a Vec2) Scale(s float64) Vec2 { return Vec2{a.X * s, a.Y * s} }

// MovementStep is the result of integrating one fixed timestep.
type MovementStep struct {
	Pos Vec2
	Vel Vec2
}

// ClampAxis clamps a coordinate into [-mapLimit, mapLimit].
func ClampAxis(v, mapLimit float64) float64 {
	if v < -mapLimit {
		return -mapLimit
	}
	if v > mapLimit {
		return mapLimit
	}
	return v
}

// MovementVelocity converts input flags into a velocity of magnitude
// speed. Diagonal input is normalized so it is never faster than a
// cardinal direction. Up is +Y.
func MovementVelocity(input InputState, speed float64) Vec2 {
	var dx, dy float64
	if input.Up {
		dy += 1
	}
	if input.Down {
		dy -= 1
	}
	if input.Left {
		dx -= 1
	}
	if input.Right {
		dx += 1
	}
	if dx == 0 && dy == 0 {
		return Vec2{}
	}
	mag := math.Hypot(dx, dy)
	return Vec2{X: dx / mag * speed, Y: dy / mag * speed}
}

// MovementIntegrate advances a player position by one timestep, clamping
// the result to the map boundary.
func MovementIntegrate(pos Vec2, input InputState, dtSeconds, speed, mapLimit float64) MovementStep {
	vel := MovementVelocity(input, speed)
	return MovementStep{
		Pos: Vec2{
			X: ClampAxis(pos.X+vel.X*dtSeconds, mapLimit),
			Y: ClampAxis(pos.Y+vel.Y*dtSeconds, mapLimit),
		},
		Vel: vel,
	}
}

// ProjectileIntegrate advances a projectile by one timestep at constant
// velocity, clamped to the (wider) projectile boundary.
func ProjectileIntegrate(pos, vel Vec2, dtSeconds, mapLimit float64) Vec2 {
	return Vec2{
		X: ClampAxis(pos.X+vel.X*dtSeconds, mapLimit),
		Y: ClampAxis(pos.Y+vel.Y*dtSeconds, mapLimit),
	}
}

// ClampSpeed rescales vel down to maxSpeed when its magnitude exceeds it,
// preserving direction. Velocities at or under the cap pass through
// unchanged; the cap never scales a velocity up.
func ClampSpeed(vel Vec2, maxSpeed float64) Vec2 {
	mag := vel.Len()
	if mag <= maxSpeed || mag == 0 {
		return vel
	}
	return vel.Scale(maxSpeed / mag)
}

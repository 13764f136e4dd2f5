package nav

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
)

// Velocity sampler parameters.
const (
	avoidVelBias      = 0.4
	avoidWeightDesVel = 2.0
	avoidWeightCurVel = 0.75
	avoidWeightSide   = 0.75
	avoidWeightToi    = 2.5
	avoidHorizTime    = 2.5
	avoidGridSize     = 33

	float32Epsilon = 1.1920929e-07
)

type obstacleCircle struct {
	p, vel mgl64.Vec2
	rad    float64
	// Filled by prepare.
	dp, np mgl64.Vec2
}

// AvoidObstacles samples a velocity close to desired that is less likely to
// collide with nearby moving entities. It reports false when no adjustment
// is needed.
func (a *Awareness) AvoidObstacles(agentID string, pos, desired mgl64.Vec2, now float64) (mgl64.Vec2, bool) {
	if !finite2(pos) || !finite2(desired) {
		return mgl64.Vec2{}, false
	}
	lookahead := a.cfg.AvoidanceRadius

	type near struct {
		c    obstacleCircle
		dist float64
	}
	var cands []near
	for id := range a.moving {
		if id == agentID {
			continue
		}
		e := a.entities[id]
		if e == nil || !e.loc.posValid() {
			continue
		}
		p3 := e.loc.Project(now)
		p := mgl64.Vec2{p3[0], p3[1]}
		if !finite2(p) {
			continue
		}
		rad := e.loc.radius()
		dist := p.Sub(pos).Len()
		if dist > lookahead+rad {
			continue
		}
		cands = append(cands, near{
			c:    obstacleCircle{p: p, vel: mgl64.Vec2{e.loc.Velocity[0], e.loc.Velocity[1]}, rad: rad},
			dist: dist,
		})
	}
	if len(cands) == 0 {
		return mgl64.Vec2{}, false
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
	if len(cands) > a.cfg.MaxAvoidCircles {
		cands = cands[:a.cfg.MaxAvoidCircles]
	}
	circles := make([]obstacleCircle, len(cands))
	for i, c := range cands {
		circles[i] = c.c
	}

	vmax := desired.Len()
	if vmax == 0 {
		return mgl64.Vec2{}, false
	}
	// The agent's current velocity is taken to be the desired one.
	nv := sampleVelocityGrid(pos, a.cfg.AgentRadius, vmax, desired, desired, circles)
	if nv.ApproxEqualThreshold(desired, 1e-6) {
		return mgl64.Vec2{}, false
	}
	return nv, true
}

func prepareObstacles(pos, dvel mgl64.Vec2, circles []obstacleCircle) {
	for i := range circles {
		c := &circles[i]
		c.dp = c.p.Sub(pos)
		if l := c.dp.Len(); l > 0 {
			c.dp = c.dp.Mul(1 / l)
		}
		dv := c.vel.Sub(dvel)
		// Orientation of the approach relative to the line of centers.
		if triArea2D(c.dp, dv) < 0.01 {
			c.np = mgl64.Vec2{-c.dp[1], c.dp[0]}
		} else {
			c.np = mgl64.Vec2{c.dp[1], -c.dp[0]}
		}
	}
}

// triArea2D is the signed area of (origin, dp, dv).
func triArea2D(dp, dv mgl64.Vec2) float64 { return dv[0]*dp[1] - dp[0]*dv[1] }

// sweepCircleCircle returns the entry and exit times of a circle at c0 moving
// with v against a static circle at c1.
func sweepCircleCircle(c0 mgl64.Vec2, r0 float64, v mgl64.Vec2, c1 mgl64.Vec2, r1 float64) (float64, float64, bool) {
	const eps = 0.0001
	s := c1.Sub(c0)
	r := r0 + r1
	c := s.Dot(s) - r*r
	a := v.Dot(v)
	if a < eps {
		return 0, 0, false
	}
	b := v.Dot(s)
	d := b*b - a*c
	if d < 0 {
		return 0, 0, false
	}
	a = 1 / a
	rd := math.Sqrt(d)
	return (b - rd) * a, (b + rd) * a, true
}

func processSample(vcand mgl64.Vec2, pos mgl64.Vec2, rad float64, vel, dvel mgl64.Vec2,
	minPenalty float64, circles []obstacleCircle, invHorizTime, invVmax float64) float64 {

	vpen := avoidWeightDesVel * vcand.Sub(dvel).Len() * invVmax
	vcpen := avoidWeightCurVel * vcand.Sub(vel).Len() * invVmax

	// Skip samples that cannot beat the current best.
	minPen := minPenalty - vpen - vcpen
	tThreshold := (avoidWeightToi/minPen - 0.1) * avoidHorizTime
	if tThreshold-avoidHorizTime > -float32Epsilon {
		return minPenalty
	}

	tmin := avoidHorizTime
	side := 0.0
	nside := 0

	for _, cir := range circles {
		vab := vcand.Mul(2).Sub(vel).Sub(cir.vel)
		side += math.Min(math.Max(math.Min(cir.dp.Dot(vab)*0.5+0.5, cir.np.Dot(vab)*2), 0), 1)
		nside++

		htmin, htmax, ok := sweepCircleCircle(pos, rad, vab, cir.p, cir.rad)
		if !ok {
			continue
		}
		// Already overlapping: push away harder.
		if htmin < 0 && htmax > 0 {
			htmin = -htmin * 0.5
		}
		if htmin >= 0 && htmin < tmin {
			tmin = htmin
			if tmin < tThreshold {
				return minPenalty
			}
		}
	}

	if nside > 0 {
		side /= float64(nside)
	}
	spen := avoidWeightSide * side
	tpen := avoidWeightToi * (1 / (0.1 + tmin*invHorizTime))
	return vpen + vcpen + spen + tpen
}

func sampleVelocityGrid(pos mgl64.Vec2, rad, vmax float64, vel, dvel mgl64.Vec2, circles []obstacleCircle) mgl64.Vec2 {
	prepareObstacles(pos, dvel, circles)

	invHorizTime := 1 / avoidHorizTime
	invVmax := 1 / vmax

	cvx := dvel[0] * avoidVelBias
	cvy := dvel[1] * avoidVelBias
	cs := vmax * 2 * (1 - avoidVelBias) / float64(avoidGridSize-1)
	half := float64(avoidGridSize-1) * cs * 0.5

	minPenalty := math.MaxFloat32
	nvel := mgl64.Vec2{}
	limit := (vmax + cs/2) * (vmax + cs/2)
	for y := 0; y < avoidGridSize; y++ {
		for x := 0; x < avoidGridSize; x++ {
			vcand := mgl64.Vec2{cvx + float64(x)*cs - half, cvy + float64(y)*cs - half}
			if vcand.LenSqr() > limit {
				continue
			}
			penalty := processSample(vcand, pos, rad, vel, dvel, minPenalty, circles, invHorizTime, invVmax)
			if penalty < minPenalty {
				minPenalty = penalty
				nvel = vcand
			}
		}
	}
	return nvel
}

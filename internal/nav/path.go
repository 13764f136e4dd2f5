package nav

import (
	"container/heap"
	"fmt"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
)

// PathStatus is the vertex count of a found path, or a negative failure code.
type PathStatus int

const (
	PathNoStartPoly     PathStatus = -1
	PathNoEndPoly       PathStatus = -2
	PathSearchFailed    PathStatus = -3
	PathEmptyCorridor   PathStatus = -4
	PathStraightFailed  PathStatus = -5
	PathNoStraightVerts PathStatus = -6
)

func (s PathStatus) OK() bool { return s >= 0 }

func (s PathStatus) String() string {
	switch s {
	case PathNoStartPoly:
		return "no start polygon"
	case PathNoEndPoly:
		return "no end polygon"
	case PathSearchFailed:
		return "polygon search failed"
	case PathEmptyCorridor:
		return "empty polygon corridor"
	case PathStraightFailed:
		return "straight path failed"
	case PathNoStraightVerts:
		return "empty straight path"
	}
	if s >= 0 {
		return fmt.Sprintf("%d vertices", int(s))
	}
	return fmt.Sprintf("PathStatus(%d)", int(s))
}

// heuristic scale keeps A* admissible against float error.
const pathHeuristicScale = 0.999

// FindPath finds a straight path from start towards end (caller space, z up).
// The destination may be anywhere within radius of end, less the agent radius.
// When end cannot be reached the path leads to the closest reachable cell.
func (a *Awareness) FindPath(start, end mgl64.Vec3, radius float64) ([]mgl64.Vec3, PathStatus) {
	r := a.cfg.AgentRadius
	startPos := toNav(start)
	endPos := toNav(end)
	startExt := mgl64.Vec3{r * 2.2, 100, r * 2.2}
	destRadius := math.Max((radius-r)*0.95, 0)
	endExt := mgl64.Vec3{destRadius, 100, destRadius}

	startRef, startNearest, ok := a.findNearestPoly(startPos, startExt)
	if !ok {
		return nil, PathNoStartPoly
	}
	endRef, endNearest, ok := a.findNearestPoly(endPos, endExt)
	if !ok {
		return nil, PathNoEndPoly
	}

	corridor, err := a.findCorridor(startRef, endRef, startNearest, endNearest)
	if err != nil {
		return nil, PathSearchFailed
	}
	if len(corridor) == 0 {
		return nil, PathEmptyCorridor
	}

	pts, err := a.straightPath(startNearest, endNearest, corridor)
	if err != nil {
		return nil, PathStraightFailed
	}
	if len(pts) == 0 {
		return nil, PathNoStraightVerts
	}
	pts = a.shortcut(pts)
	out := make([]mgl64.Vec3, len(pts))
	for i, p := range pts {
		out[i] = fromNav(p)
	}
	return out, PathStatus(len(out))
}

type pathNode struct {
	ref    polyRef
	pos    mgl64.Vec3
	g      float64
	f      float64
	index  int
	closed bool
	parent *pathNode
}

type pathQueue []*pathNode

func (pq pathQueue) Len() int { return len(pq) }

func (pq pathQueue) Less(i, j int) bool { return pq[i].f < pq[j].f }

func (pq pathQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *pathQueue) Push(x any) {
	n := len(*pq)
	item := x.(*pathNode)
	item.index = n
	*pq = append(*pq, item)
}

func (pq *pathQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}

// findCorridor runs A* over walkable cells. If the goal is unreachable, or the
// node budget runs out, the corridor ends at the visited cell closest to it.
func (a *Awareness) findCorridor(startRef, endRef polyRef, startPos, endPos mgl64.Vec3) ([]polyRef, error) {
	if _, ok := a.poly(startRef); !ok {
		return nil, fmt.Errorf("start cell %v not walkable", startRef)
	}
	if _, ok := a.poly(endRef); !ok {
		return nil, fmt.Errorf("end cell %v not walkable", endRef)
	}
	if startRef == endRef {
		return []polyRef{startRef}, nil
	}

	startNode := &pathNode{ref: startRef, pos: startPos}
	startNode.f = startPos.Sub(endPos).Len() * pathHeuristicScale
	nodes := map[polyRef]*pathNode{startRef: startNode}
	open := &pathQueue{}
	heap.Push(open, startNode)

	best := startNode
	bestH := startNode.f

	var nbuf []polyRef
	for open.Len() > 0 {
		cur := heap.Pop(open).(*pathNode)
		cur.closed = true
		if cur.ref == endRef {
			best = cur
			break
		}
		curH, _ := a.poly(cur.ref)
		nbuf = a.neighbours(cur.ref, curH, nbuf[:0])
		for _, n := range nbuf {
			nh, _ := a.poly(n)
			node := nodes[n]
			if node == nil {
				if len(nodes) >= maxNodes {
					continue
				}
				pos := a.cellCenter(n, nh)
				if n == endRef {
					pos = endPos
				}
				node = &pathNode{ref: n, pos: pos, index: -1}
				nodes[n] = node
			}
			if node.closed {
				continue
			}
			g := cur.g + cur.pos.Sub(node.pos).Len()
			if node.index >= 0 && g >= node.g {
				continue
			}
			h := node.pos.Sub(endPos).Len() * pathHeuristicScale
			node.g = g
			node.f = g + h
			node.parent = cur
			if node.index >= 0 {
				heap.Fix(open, node.index)
			} else {
				heap.Push(open, node)
			}
			if h < bestH {
				best, bestH = node, h
			}
		}
	}

	var corridor []polyRef
	for n := best; n != nil; n = n.parent {
		corridor = append(corridor, n.ref)
	}
	for i := 0; i < len(corridor)/2; i++ {
		j := len(corridor) - 1 - i
		corridor[i], corridor[j] = corridor[j], corridor[i]
	}
	if len(corridor) > maxPathPolys {
		corridor = corridor[:maxPathPolys]
	}
	return corridor, nil
}

type funnelPoint struct {
	p mgl64.Vec2
	h float64
}

// straightPath pulls the string through the corridor portals (simple
// stupid funnel). Input and output are in nav order.
func (a *Awareness) straightPath(startPos, endPos mgl64.Vec3, corridor []polyRef) ([]mgl64.Vec3, error) {
	last := corridor[len(corridor)-1]
	lastH, ok := a.poly(last)
	if !ok {
		return nil, fmt.Errorf("corridor end %v not walkable", last)
	}
	// Partial corridors end on the cell closest to the target.
	endPos = a.closestPointOnPoly(last, lastH, endPos)

	type portal struct{ left, right funnelPoint }
	portals := make([]portal, 0, len(corridor))
	for i := 0; i+1 < len(corridor); i++ {
		h, ok := a.poly(corridor[i+1])
		if !ok {
			return nil, fmt.Errorf("corridor cell %v not walkable", corridor[i+1])
		}
		l, r := a.portal(corridor[i], corridor[i+1])
		portals = append(portals, portal{funnelPoint{l, h}, funnelPoint{r, h}})
	}
	end := funnelPoint{mgl64.Vec2{endPos[0], endPos[2]}, endPos[1]}
	portals = append(portals, portal{end, end})

	out := make([]mgl64.Vec3, 0, 16)
	appendPoint := func(fp funnelPoint) bool {
		v := mgl64.Vec3{fp.p[0], fp.h, fp.p[1]}
		if n := len(out); n > 0 && out[n-1].ApproxEqual(v) {
			return len(out) < maxPathVerts
		}
		out = append(out, v)
		return len(out) < maxPathVerts
	}

	apex := funnelPoint{mgl64.Vec2{startPos[0], startPos[2]}, startPos[1]}
	left, right := apex, apex
	apexIdx, leftIdx, rightIdx := 0, 0, 0
	if !appendPoint(apex) {
		return out, nil
	}

	for i := 0; i < len(portals); i++ {
		nl, nr := portals[i].left, portals[i].right

		if i == 0 && distPtSegSqr(apex.p, nl.p, nr.p) < 1e-12 {
			continue
		}

		if cross2(right.p.Sub(apex.p), nr.p.Sub(apex.p)) >= 0 {
			if vequal(apex.p, right.p) || cross2(left.p.Sub(apex.p), nr.p.Sub(apex.p)) < 0 {
				right, rightIdx = nr, i
			} else {
				if !appendPoint(left) {
					return out, nil
				}
				apex, apexIdx = left, leftIdx
				left, right = apex, apex
				leftIdx, rightIdx = apexIdx, apexIdx
				i = apexIdx
				continue
			}
		}

		if cross2(left.p.Sub(apex.p), nl.p.Sub(apex.p)) <= 0 {
			if vequal(apex.p, left.p) || cross2(right.p.Sub(apex.p), nl.p.Sub(apex.p)) > 0 {
				left, leftIdx = nl, i
			} else {
				if !appendPoint(right) {
					return out, nil
				}
				apex, apexIdx = right, rightIdx
				left, right = apex, apex
				leftIdx, rightIdx = apexIdx, apexIdx
				i = apexIdx
				continue
			}
		}
	}
	appendPoint(end)
	return out, nil
}

func vequal(a, b mgl64.Vec2) bool { return a.Sub(b).LenSqr() < 1e-12 }

func distPtSegSqr(p, a, b mgl64.Vec2) float64 {
	ab := b.Sub(a)
	d := ab.LenSqr()
	t := 0.0
	if d > 0 {
		t = math.Min(math.Max(p.Sub(a).Dot(ab)/d, 0), 1)
	}
	return a.Add(ab.Mul(t)).Sub(p).LenSqr()
}

// shortcut drops funnel vertices that the agent can walk straight past. The
// corridor only links edge-adjacent cells, so on open ground the funnel hugs
// its staircase; a clear line of sight between two vertices makes the ones
// between them redundant. Consecutive funnel vertices are always kept as a
// fallback, so the result never has more vertices than the input.
func (a *Awareness) shortcut(pts []mgl64.Vec3) []mgl64.Vec3 {
	if len(pts) <= 2 {
		return pts
	}
	out := make([]mgl64.Vec3, 0, len(pts))
	out = append(out, pts[0])
	for i := 0; i < len(pts)-1; {
		j := len(pts) - 1
		for j > i+1 && !a.segmentClear(pts[i], pts[j]) {
			j--
		}
		out = append(out, pts[j])
		i = j
	}
	return out
}

const gridEps = 1e-6

// segmentClear reports whether the straight segment p-q (nav order) runs over
// walkable cells only, with every height step between consecutive cells
// within WalkableClimb. A segment running along a cell edge needs one side
// walkable; a diagonal segment through a cell corner needs one of the two
// cells beside the corner walkable.
func (a *Awareness) segmentClear(p, q mgl64.Vec3) bool {
	x0, y0 := (p[0]-a.bmin[0])/a.cs, (p[2]-a.bmin[1])/a.cs
	dx, dy := (q[0]-p[0])/a.cs, (q[2]-p[2])/a.cs

	ts := []float64{0, 1}
	crossings := func(v0, d float64) {
		if math.Abs(d) < gridEps {
			return
		}
		lo, hi := math.Min(v0, v0+d), math.Max(v0, v0+d)
		for k := math.Ceil(lo); k <= hi; k++ {
			ts = append(ts, (k-v0)/d)
		}
	}
	crossings(x0, dx)
	crossings(y0, dy)
	sort.Float64s(ts)

	diagonal := math.Abs(dx) >= gridEps && math.Abs(dy) >= gridEps
	h := p[1]
	for i := 0; i+1 < len(ts); i++ {
		if diagonal && i > 0 && a.cornerBlocked(x0+dx*ts[i], y0+dy*ts[i]) {
			return false
		}
		if ts[i+1]-ts[i] < 1e-9 {
			continue
		}
		tm := (ts[i] + ts[i+1]) / 2
		nh, ok := a.walkableNear(x0+dx*tm, y0+dy*tm, h)
		if !ok {
			return false
		}
		h = nh
	}
	return true
}

// walkableNear finds a walkable cell containing grid point (gx, gy) whose
// height is within climb of h. Points on a cell edge may use either side.
func (a *Awareness) walkableNear(gx, gy, h float64) (float64, bool) {
	best, found := 0.0, false
	for _, cx := range gridCandidates(gx) {
		for _, cy := range gridCandidates(gy) {
			ch, ok := a.poly(polyRef{cx, cy})
			if !ok || math.Abs(ch-h) > a.cfg.WalkableClimb {
				continue
			}
			if !found || math.Abs(ch-h) < math.Abs(best-h) {
				best, found = ch, true
			}
		}
	}
	return best, found
}

// cornerBlocked reports whether (gx, gy) sits on a cell corner where the
// four surrounding cells leave no side passage.
func (a *Awareness) cornerBlocked(gx, gy float64) bool {
	rx, ry := math.Round(gx), math.Round(gy)
	if math.Abs(gx-rx) > gridEps || math.Abs(gy-ry) > gridEps {
		return false
	}
	x, y := int(rx), int(ry)
	n := 0
	for _, c := range [4]polyRef{{x - 1, y - 1}, {x, y - 1}, {x - 1, y}, {x, y}} {
		if _, ok := a.poly(c); ok {
			n++
		}
	}
	return n < 3
}

func gridCandidates(g float64) []int {
	r := math.Round(g)
	if math.Abs(g-r) <= gridEps {
		return []int{int(r) - 1, int(r)}
	}
	return []int{int(math.Floor(g))}
}

package observer

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/sirupsen/logrus"

	"worldsim.ai/internal/nav"
	"worldsim.ai/internal/observerproto"
)

// World is the read-only view the debug observer needs.
type World interface {
	ID() string
	Now() float64
	Inspect(ctx context.Context, fn func(*nav.Awareness)) error
}

const (
	defaultMaxLayers = 64
	maxMaxLayers     = 1024
)

type Server struct {
	world World
	log   logrus.FieldLogger
}

func NewServer(w World, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{world: w, log: logger.WithField("component", "observer")}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			WorldID:         s.world.ID(),
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		err := s.world.Inspect(ctx, func(a *nav.Awareness) {
			resp.Seconds = s.world.Now()
			resp.TileSizeMeters = a.TileSizeInMeters()
			resp.Stats = a.Stats()
		})
		if err != nil {
			http.Error(rw, "world unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(rw, resp)
	}
}

// TilesHandler serves the cached layers intersecting the query area
// (x0, y0, x1, y1 in world units). Rows are included when grid=1.
func (s *Server) TilesHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		q := r.URL.Query()
		var coords [4]float64
		for i, k := range []string{"x0", "y0", "x1", "y1"} {
			v, err := strconv.ParseFloat(q.Get(k), 64)
			if err != nil {
				http.Error(rw, "bad "+k, http.StatusBadRequest)
				return
			}
			coords[i] = v
		}
		area := nav.Box2{Min: mgl64.Vec2{coords[0], coords[1]}, Max: mgl64.Vec2{coords[2], coords[3]}}
		if !area.Valid() {
			http.Error(rw, "empty area", http.StatusBadRequest)
			return
		}
		maxLayers := defaultMaxLayers
		if v, err := strconv.Atoi(q.Get("max_layers")); err == nil && v > 0 {
			maxLayers = v
		}
		if maxLayers > maxMaxLayers {
			maxLayers = maxMaxLayers
		}
		grid := q.Get("grid") == "1"

		resp := observerproto.TilesResponse{
			ProtocolVersion: observerproto.Version,
			WorldID:         s.world.ID(),
			Area:            coords,
			Layers:          []observerproto.TileView{},
		}
		var visitErr error
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		err := s.world.Inspect(ctx, func(a *nav.Awareness) {
			visitErr = a.VisitTiles(area, func(l *nav.TileLayer) {
				if len(resp.Layers) >= maxLayers {
					resp.Truncated = true
					return
				}
				resp.Layers = append(resp.Layers, viewOf(l, grid))
			})
		})
		if err != nil {
			http.Error(rw, "world unavailable", http.StatusServiceUnavailable)
			return
		}
		if visitErr != nil {
			s.log.WithError(visitErr).Warn("visiting tiles")
			http.Error(rw, "tile cache error", http.StatusInternalServerError)
			return
		}
		writeJSON(rw, resp)
	}
}

func viewOf(l *nav.TileLayer, grid bool) observerproto.TileView {
	v := observerproto.TileView{
		TX:       l.TX,
		TY:       l.TY,
		Layer:    l.Layer,
		Width:    l.Width,
		Height:   l.Height,
		Origin:   [2]float64{l.OriginX, l.OriginY},
		CellSize: l.CellSize,
	}
	var sb strings.Builder
	for y := l.Height - 1; y >= 0; y-- {
		sb.Reset()
		for x := 0; x < l.Width; x++ {
			if l.Walkable(x, y) {
				v.Walkable++
				sb.WriteByte('#')
			} else {
				sb.WriteByte('.')
			}
		}
		if grid {
			v.Rows = append(v.Rows, sb.String())
		}
	}
	return v
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

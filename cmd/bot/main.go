package main

import (
	"encoding/json"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"worldsim.ai/internal/protocol"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "client name")
		startX   = flag.Float64("x", 0, "start x")
		startY   = flag.Float64("y", 0, "start y")
		wander   = flag.Float64("wander", 8, "pick targets within this distance of the start")
		speed    = flag.Float64("speed", 1.4, "walking speed in m/s")
		step     = flag.Float64("step", 0.5, "seconds between moves")
		seed     = flag.Int64("seed", 1, "target rng seed")
		tiles    = flag.Bool("tile_events", false, "log tile events")
		logLevel = flag.String("log_level", "info", "log level")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if lvl, err := logrus.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(lvl)
	}
	log := logger.WithField("component", "bot")

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		Capabilities: protocol.HelloCapabilities{
			TileEvents: *tiles,
			MaxQueue:   64,
		},
	}
	if err := conn.WriteJSON(hello); err != nil {
		log.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		conn.Close()
	}()

	var wk *walker
	send := func(ops []*protocol.Operation) {
		for _, op := range ops {
			if err := conn.WriteJSON(protocol.OpMsg{Type: protocol.TypeOp, ProtocolVersion: protocol.Version, Op: *op}); err != nil {
				log.WithError(err).Warn("send op")
			}
		}
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			log.WithFields(logrus.Fields{
				"entity": w.EntityID,
				"world":  w.WorldParams.WorldID,
				"tile_m": w.WorldParams.TileSizeMeters,
			}).Info("WELCOME")
			wk = newWalker(mgl64.Vec3{*startX, *startY, 0}, *wander, *speed, *step, rand.New(rand.NewSource(*seed)))
			send(wk.start())

		case protocol.TypeTileEvent:
			var ev protocol.TileEventMsg
			if err := json.Unmarshal(msg, &ev); err == nil {
				log.WithFields(logrus.Fields{"kind": ev.Kind, "tx": ev.TX, "ty": ev.TY}).Debug("tile event")
			}

		case protocol.TypeError:
			log.Warnf("server error: %s", msg)

		case protocol.TypeOp:
			var m protocol.OpMsg
			if err := json.Unmarshal(msg, &m); err != nil || wk == nil {
				continue
			}
			send(wk.handle(&m.Op, log))
		}
	}
}

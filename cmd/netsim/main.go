// netsim is a headless diagnostic client: it runs one or more sessions of
// the sync core, moves them in circles, fires the occasional shot, and
// prints connection, score and latency state. Point it at a live server or
// let it fall back to offline mode against the shared store.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	netsync "jackalope-netsync"
)

func main() {
	addr := flag.String("server", "", "WebSocket server URL (default: ws://localhost:8082/ws)")
	name := flag.String("name", "sim", "Player name prefix")
	sessions := flag.Int("sessions", 2, "Number of concurrent sessions")
	storePath := flag.String("store", "", "Shared store sqlite file (default: in-memory)")
	duration := flag.Duration("duration", 0, "Exit after this long (0 = run until interrupted)")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	// Optional .env overrides, same keys as Config.FromEnv
	if err := godotenv.Load(); err == nil {
		log.Println("loaded .env")
	}

	base := netsync.DefaultConfig().FromEnv()
	if *addr != "" {
		base.ServerURL = *addr
	}
	if *storePath != "" {
		base.StorePath = *storePath
	}
	base.LocalMirror = true
	if *verbose {
		base.LogLevel = netsync.LogDebug
	} else {
		base.LogLevel = netsync.LogInfo
	}

	var managers []*netsync.Manager
	var shared *netsync.MemoryStore
	if base.StorePath == "" {
		// All sessions share one in-process store so identity assignment,
		// offline broadcast and host election behave like multiple tabs
		shared = netsync.NewMemoryStore()
	}

	for i := 0; i < *sessions; i++ {
		cfg := base
		cfg.PlayerName = fmt.Sprintf("%s-%d", *name, i)
		var m *netsync.Manager
		if shared != nil {
			m = netsync.NewWithStore(cfg, shared, netsync.NewScheduler())
		} else {
			var err error
			m, err = netsync.New(cfg)
			if err != nil {
				log.Fatalf("session %d: %v", i, err)
			}
		}
		managers = append(managers, m)
		m.Connect()

		ident := m.Identity()
		log.Printf("session %d: index=%d role=%s", i, ident.Index, ident.Role)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	if *duration > 0 {
		go func() {
			time.Sleep(*duration)
			close(done)
		}()
	}

	drive := time.NewTicker(33 * time.Millisecond) // caller rate, core throttles to 20Hz
	report := time.NewTicker(5 * time.Second)
	defer drive.Stop()
	defer report.Stop()

	start := time.Now()
loop:
	for {
		select {
		case <-drive.C:
			t := time.Since(start).Seconds()
			for i, m := range managers {
				angle := t + float64(i)*2*math.Pi/float64(len(managers))
				pos := [3]float64{10 * math.Cos(angle), 0, 10 * math.Sin(angle)}
				vel := [3]float64{-10 * math.Sin(angle), 0, 10 * math.Cos(angle)}
				m.PublishState(pos, [4]float64{0, 0, 0, 1}, vel, nil)
				if rand.Intn(300) == 0 {
					m.Shoot(pos, [3]float64{1, 0, 0})
				}
			}
		case <-report.C:
			for i, m := range managers {
				j, s := m.Scores()
				log.Printf("session %d: status=%s host=%v latency=%s remotes=%d score=%d:%d",
					i, m.Status(), m.IsHost(), m.Latency(), len(m.RemotePlayers()), j, s)
			}
		case <-stop:
			break loop
		case <-done:
			break loop
		}
	}

	log.Println("Shutting down...")
	for _, m := range managers {
		m.Close()
	}
}

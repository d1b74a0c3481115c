package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/castflow/rtmpub/pkg/archive"
	"github.com/castflow/rtmpub/pkg/config"
	"github.com/castflow/rtmpub/pkg/logger"
	"github.com/castflow/rtmpub/pkg/metrics"
	"github.com/castflow/rtmpub/pkg/monitor"
	"github.com/castflow/rtmpub/pkg/publisher"
	"github.com/castflow/rtmpub/pkg/registry"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to config file")
	playpath := flag.String("playpath", "", "Override the configured publish playpath")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("rtmpub-publish %s (commit: %s, built: %s)\n", version, commit, date)
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		cfg = config.DefaultConfig()
	}
	if *playpath != "" {
		cfg.Target.Playpath = *playpath
	}

	log := logger.NewDefaultLogger(logger.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)

	ctrl := publisher.New(cfg, log)

	var reg *registry.Registry
	if cfg.Registry.Enabled {
		reg = registry.New(cfg.Registry.Address, cfg.Registry.Password, cfg.Registry.DB,
			cfg.Registry.KeyPrefix, cfg.Registry.SessionTTL)
		defer reg.Close()
	}

	var hub *monitor.Hub
	if cfg.Monitor.Enabled {
		hub = monitor.NewHub(log)
		mux := http.NewServeMux()
		mux.HandleFunc(cfg.Monitor.Path, hub.HandleWebSocket)
		go func() {
			log.Info("starting monitor server", logger.String("addr", cfg.Monitor.Addr))
			if err := http.ListenAndServe(cfg.Monitor.Addr, mux); err != nil && err != http.ErrServerClosed {
				log.Error("monitor server stopped", logger.Err(err))
			}
		}()
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(ctrl, metrics.NewRegistry())
		go func() {
			log.Info("starting metrics server", logger.String("addr", cfg.Metrics.Addr))
			if err := http.ListenAndServe(cfg.Metrics.Addr, collector.Handler()); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server stopped", logger.Err(err))
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan struct{})
	var listener publisher.Listener = &cliListener{ctrl: ctrl, cfg: cfg, log: log, ready: ready, cancel: cancel}
	if reg != nil {
		listener = registry.NewMirrorListener(reg, ctrl, listener, log)
	}
	if hub != nil {
		listener = monitor.NewStatusListener(hub, ctrl, listener)
	}

	if err := ctrl.Start(ctx, listener); err != nil {
		log.Error("failed to start publisher", logger.Err(err))
		os.Exit(1)
	}

	if cfg.Archive.Enabled {
		sink, err := archive.New(cfg.Archive, ctrl.SessionID(), log)
		if err != nil {
			log.Error("failed to start archive sink", logger.Err(err))
		} else {
			ctrl.SetArchiveSink(sink)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := sink.Close(shutdownCtx); err != nil {
					log.Error("archive sink close failed", logger.Err(err))
				}
			}()
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info("shutdown signal received")
	case <-ctx.Done():
		log.Info("session ended")
	}

	if err := ctrl.Stop(); err != nil {
		log.Error("error stopping publisher", logger.Err(err))
	}
	log.Info("rtmpub-publish stopped")
}

// cliListener drives the playpath through its lifecycle and, once
// streaming, feeds a synthetic H.264/AAC test pattern so the publishing
// flow end to end can be exercised without a real encoder attached. A
// caller embedding pkg/publisher directly would call PostVideo/PostAudio
// from its own decoder pipeline instead of sampleLoop.
type cliListener struct {
	ctrl   *publisher.Controller
	cfg    *config.Config
	log    logger.Logger
	ready  chan struct{}
	cancel context.CancelFunc
}

func (l *cliListener) OnConnected() {
	if err := l.ctrl.CreateStream(l.cfg.Target.Playpath); err != nil {
		l.log.Error("createStream failed", logger.Err(err))
		l.cancel()
	}
}

func (l *cliListener) OnReadyToPublish() {
	go l.sampleLoop()
}

func (l *cliListener) OnConnectionError(err error) {
	l.log.Error("connection error", logger.Err(err))
	l.cancel()
}

// sampleLoop posts a silent AAC header/frame and a minimal H.264
// keyframe cadence at 1fps, purely to demonstrate the PostVideo/PostAudio
// call shape end to end against a real RTMP ingest.
func (l *cliListener) sampleLoop() {
	l.ctrl.SetAudioHeader(publisher.AACHeader{
		SampleRateIndex:     4, // 44100 Hz
		Stereo:              false,
		AudioSpecificConfig: []byte{0x12, 0x08},
	})

	sps := []byte{0x67, 0x42, 0x00, 0x1e, 0x96, 0x54, 0x05, 0x01}
	pps := []byte{0x68, 0xce, 0x3c, 0x80}
	header := append([]byte{0, 0, 0, 1}, sps...)
	header = append(header, 0, 0, 0, 1)
	header = append(header, pps...)

	if err := l.ctrl.PostVideo(publisher.H264Frame{Timestamp: 0, IsHeader: true, Payload: header}); err != nil {
		l.log.Error("post video header failed", logger.Err(err))
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var ts uint32
	for range ticker.C {
		ts += 1000
		keyframe := []byte{0, 0, 0, 1, 0x65, 0x88, 0x84}
		if err := l.ctrl.PostVideo(publisher.H264Frame{Timestamp: ts, IsKeyframe: true, Payload: keyframe}); err != nil {
			l.log.Error("post video failed", logger.Err(err))
			return
		}
		if err := l.ctrl.PostAudio(publisher.AACFrame{Timestamp: ts, Payload: []byte{0x21, 0x10}}); err != nil {
			l.log.Error("post audio failed", logger.Err(err))
			return
		}
	}
}

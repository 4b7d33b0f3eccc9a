// Command aes67-vsc runs the virtual sound card daemon: it creates the
// streams declared in the configuration file, serves Prometheus metrics and
// keeps the streams alive until the process is stopped. With -playout it
// additionally services one receiver on a fixed cycle and writes its audio
// as raw little-endian float32 PCM to stdout, for piping into a local
// playback tool.
package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	aes67 "github.com/babymotte/aes67-vsc-2"
	"github.com/babymotte/aes67-vsc-2/config"
	"github.com/babymotte/aes67-vsc-2/media"
	"github.com/babymotte/aes67-vsc-2/monitoring"
	"github.com/babymotte/aes67-vsc-2/sdp"
	"github.com/babymotte/aes67-vsc-2/stream"
)

const version = "2.0.0"

func main() {
	configPath := flag.String("config", "/etc/aes67-vsc/config.yaml", "path to the configuration file")
	playout := flag.String("playout", "", "id of a receiver to service and write to stdout as raw float32 PCM")
	flag.Parse()

	log := logrus.WithFields(logrus.Fields{"component": "main"})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	logrus.SetLevel(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		shutdown, err := monitoring.InitProvider(ctx, monitoring.ProviderConfig{
			ServiceName:    cfg.Name,
			ServiceVersion: version,
		})
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize metrics")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("Metrics shutdown failed")
			}
		}()
		go serveMetrics(ctx, cfg.Metrics.ListenAddr)
	}

	card := aes67.New(cfg.Name)
	defer card.Close()

	var ifaceIP net.IP
	if cfg.InterfaceIP != "" {
		ifaceIP = net.ParseIP(cfg.InterfaceIP)
	}

	if err := createStreams(cfg, card, ifaceIP); err != nil {
		log.WithError(err).Fatal("Failed to create streams")
	}

	log.WithFields(logrus.Fields{
		"name":      cfg.Name,
		"receivers": len(card.ReceiverIDs()),
		"senders":   len(card.SenderIDs()),
	}).Info("Virtual sound card running")

	if *playout != "" {
		if err := runPlayout(ctx, card, *playout); err != nil {
			log.WithError(err).Fatal("Playout failed")
		}
	} else {
		<-ctx.Done()
	}
	log.Info("Shutting down")
}

// runPlayout services one receiver at its packet-time cadence and writes
// every serviced cycle as raw little-endian float32 PCM to stdout. Silence
// substituted during underruns is written like any other cycle, so the
// output stream stays continuous.
func runPlayout(ctx context.Context, card *aes67.VirtualSoundCard, id string) error {
	r, err := card.Receiver(id)
	if err != nil {
		return err
	}

	desc := r.Descriptor()
	format := desc.Format()
	cycleFrames := format.FramesPerPacket(desc.Session.PacketTime)
	linkOffsetFrames := uint64(format.FramesPerDuration(desc.LinkOffset))
	clock := media.NewSystemClock(format.SampleRate)

	out := make([]float32, cycleFrames*format.FrameFormat.Channels)
	raw := make([]byte, len(out)*4)
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	ticker := time.NewTicker(format.FramesToDuration(uint64(cycleFrames)))
	defer ticker.Stop()

	var playoutTime media.MediaTime
	anchored := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		// Anchor the playout timeline one link offset behind the clock.
		if !anchored {
			now := clock.Now()
			if uint64(now) < linkOffsetFrames {
				continue
			}
			playoutTime = now - media.MediaTime(linkOffsetFrames)
			anchored = true
		}

		switch status := r.Receive(playoutTime, out); status {
		case stream.StatusOK, stream.StatusUnderrun:
			for i, v := range out {
				binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
			}
			if _, err := w.Write(raw); err != nil {
				return err
			}
			playoutTime += media.MediaTime(cycleFrames)
		case stream.StatusNoData:
			// The data has not arrived yet; retry the same cycle next tick.
		case stream.StatusNotReadyYet:
			anchored = false
		case stream.StatusClockFault:
			return fmt.Errorf("receiver %s hit a clock fault", id)
		case stream.StatusDestroyed:
			return nil
		}
	}
}

// createStreams instantiates every stream the configuration declares. The
// daemon refuses to start with a partially working configuration.
func createStreams(cfg *config.Config, card *aes67.VirtualSoundCard, ifaceIP net.IP) error {
	for i := range cfg.Receivers {
		rc := &cfg.Receivers[i]

		text := rc.SDP
		if rc.SDPFile != "" {
			raw, err := os.ReadFile(rc.SDPFile)
			if err != nil {
				return err
			}
			text = string(raw)
		}

		session, err := sdp.Parse(text)
		if err != nil {
			return err
		}

		if _, err := card.CreateReceiver(stream.RxDescriptor{
			ID:          rc.ID,
			Session:     session,
			LinkOffset:  cfg.LinkOffsetFor(rc),
			BufferTime:  cfg.BufferTimeFor(rc.BufferTime),
			InterfaceIP: ifaceIP,
			MuteWindow:  cfg.MuteWindowFor(rc),
		}); err != nil {
			return err
		}
	}

	for i := range cfg.Senders {
		sc := &cfg.Senders[i]

		format, err := media.ParseAudioFormat(sc.Format)
		if err != nil {
			return err
		}

		dest, err := net.ResolveUDPAddr("udp4", sc.Destination)
		if err != nil {
			return err
		}

		if _, err := card.CreateSender(stream.TxDescriptor{
			ID:          sc.ID,
			Format:      format,
			PacketTime:  sc.PacketTime,
			PayloadType: sc.PayloadType,
			Destination: dest,
			BufferTime:  cfg.BufferTimeFor(sc.BufferTime),
			InterfaceIP: ifaceIP,
			TTL:         sc.TTL,
		}); err != nil {
			return err
		}
	}

	return nil
}

func serveMetrics(ctx context.Context, addr string) {
	log := logrus.WithFields(logrus.Fields{"component": "metrics"})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithFields(logrus.Fields{"addr": addr}).Info("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("Metrics server failed")
	}
}

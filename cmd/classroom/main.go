// Command classroom is a headless participant: it presents or follows a live
// class through the relay server, records or packages a lesson offline,
// uploads queued lessons, or replays a packaged lesson.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mossy-p/liveclass/config"
	"github.com/mossy-p/liveclass/internal/lesson"
	"github.com/mossy-p/liveclass/internal/media"
	"github.com/mossy-p/liveclass/internal/peer"
	"github.com/mossy-p/liveclass/internal/playback"
	"github.com/mossy-p/liveclass/internal/recorder"
	"github.com/mossy-p/liveclass/internal/redis"
	"github.com/mossy-p/liveclass/internal/session"
	"github.com/mossy-p/liveclass/internal/signaling"
	"github.com/mossy-p/liveclass/internal/slides"
	"github.com/mossy-p/liveclass/internal/timeline"
	"github.com/pion/webrtc/v4"
)

type logSurface struct{ who string }

func (s logSurface) Clear() {}

func (s logSurface) Show(ref string) {
	log.Printf("[%s] Showing %s", s.who, filepath.Base(ref))
}

func main() {
	cfg := config.Load()

	mode := flag.String("mode", "student", "teacher, student, record, package, upload or replay")
	server := flag.String("server", "http://localhost:"+cfg.Port, "relay server base URL")
	classID := flag.String("class", "", "class ID")
	user := flag.String("user", "", "user name")
	slideDir := flag.String("slides", "", "directory of slide images")
	artifact := flag.String("artifact", "", "lesson artifact to replay, or to write when recording")
	subject := flag.String("subject", "lesson", "subject written to a recorded lesson")
	audio := flag.String("audio", "", "Ogg/Opus file to record or package as the lesson audio")
	timelineFile := flag.String("timeline", "", "timeline file to package")
	queue := flag.Bool("outbox", false, "queue the lesson for upload instead of writing -artifact")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := output{cfg: cfg, path: *artifact, queue: *queue}
	meta := lesson.Metadata{Subject: *subject, Teacher: *user}

	var err error
	switch *mode {
	case "teacher":
		err = runTeacher(ctx, cfg, *server, *classID, *user, *slideDir, *audio, meta, out)
	case "student":
		err = runStudent(ctx, cfg, *server, *classID, *user, *slideDir)
	case "record":
		err = runRecord(ctx, *slideDir, *audio, meta, out)
	case "package":
		err = runPackage(ctx, *slideDir, *audio, *timelineFile, meta, out)
	case "upload":
		err = runUpload(ctx, cfg, *server, *classID, *user)
	case "replay":
		err = runReplay(ctx, *artifact)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func peerConfig(cfg *config.Config) peer.Config {
	return peer.Config{
		ICEServers:         cfg.WebRTC.STUNURLs,
		NegotiationTimeout: cfg.WebRTC.NegotiationTimeout,
	}
}

func wsBase(server string) string {
	if rest, ok := strings.CutPrefix(server, "https://"); ok {
		return "wss://" + rest
	}
	if rest, ok := strings.CutPrefix(server, "http://"); ok {
		return "ws://" + rest
	}
	return server
}

// loadSlides lists the images in dir in name order.
func loadSlides(dir string) (*slides.Set, error) {
	if dir == "" {
		return slides.NewSet(nil, nil), nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read slides: %w", err)
	}
	var refs []string
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg", ".gif", ".webp":
			refs = append(refs, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(refs)
	return slides.NewSet(refs, nil), nil
}

// output is where a finished lesson goes: a file, or the upload outbox.
type output struct {
	cfg   *config.Config
	path  string
	queue bool
}

func (o output) enabled() bool {
	return o.queue || o.path != ""
}

func (o output) deliver(ctx context.Context, pkg *lesson.Lesson) error {
	data, err := lesson.Encode(pkg)
	if err != nil {
		return err
	}
	name := lesson.Filename(pkg.Metadata)

	if !o.queue {
		if err := os.WriteFile(o.path, data, 0o644); err != nil {
			return err
		}
		log.Printf("Saved %s (%s)", o.path, name)
		return nil
	}

	if err := redis.Connect(o.cfg.Redis); err != nil {
		return err
	}
	defer redis.Close()
	if err := lesson.NewOutbox(redis.GetClient()).Put(ctx, name, data); err != nil {
		return err
	}
	log.Printf("Queued %s for upload", name)
	return nil
}

// stamp fills in the date and time a lesson was made.
func stamp(meta lesson.Metadata, live bool) lesson.Metadata {
	now := time.Now()
	meta.Date = now.Format("2006-01-02")
	meta.Time = now.Format("15:04")
	meta.Live = live
	return meta
}

// feedAudio plays file into rec until it ends or ctx is done.
func feedAudio(ctx context.Context, file string, rec *recorder.Recorder) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	go func() {
		defer f.Close()
		if err := media.FeedOgg(ctx, f, rec.WriteRTP); err != nil && ctx.Err() == nil {
			log.Printf("Audio feed stopped: %v", err)
			return
		}
		log.Printf("Audio feed finished")
	}()
	return nil
}

func runTeacher(ctx context.Context, cfg *config.Config, server, classID, user, slideDir, audio string, meta lesson.Metadata, out output) error {
	set, err := loadSlides(slideDir)
	if err != nil {
		return err
	}

	api := &apiClient{base: server}
	if err := api.login(ctx, user, "teacher"); err != nil {
		return err
	}
	channel, err := api.startLive(ctx, classID)
	if err != nil {
		return err
	}
	defer api.endLive(context.Background(), classID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	transport := signaling.NewWebSocketTransport(wsBase(server))
	transport.Header = api.header()
	s, err := session.StartTeacher(ctx, session.Options{
		ClassID:       classID,
		ParticipantID: user,
		Transport:     transport,
		Source:        media.Microphone{ID: user},
		Surface:       logSurface{who: user},
		Slides:        set,
		Peer:          peerConfig(cfg),
		OnFailure: func(err error) {
			log.Printf("Could not start live session: %v", err)
			cancel()
		},
	})
	if err != nil {
		return err
	}
	defer s.End()

	// The broadcast is recorded alongside for upload when an output is set.
	var rec *recorder.Recorder
	if out.enabled() {
		rec = recorder.New(media.Microphone{ID: user + "-rec"}, nil)
		if err := rec.Start(ctx, set); err != nil {
			return err
		}
		if audio != "" {
			if err := feedAudio(ctx, audio, rec); err != nil {
				rec.Stop()
				return err
			}
		}
	}

	log.Printf("Live on %s. Commands: n, p, <slide number>, q", channel)
	err = commands(ctx, func(cmd string) bool {
		switch cmd {
		case "n":
			if s.Slides().Next(ctx) && rec != nil {
				rec.GoTo(ctx, s.Slides().Current())
			}
		case "p":
			if s.Slides().Prev(ctx) && rec != nil {
				rec.GoTo(ctx, s.Slides().Current())
			}
		case "q":
			return false
		default:
			if n, err := strconv.Atoi(cmd); err == nil && s.GoTo(ctx, n-1) && rec != nil {
				rec.GoTo(ctx, n-1)
			}
		}
		return true
	})
	if err != nil || rec == nil {
		return err
	}

	cancel()
	result, err := rec.Stop()
	if err != nil {
		return err
	}
	pkg, err := lesson.FromRecording(stamp(meta, true), result)
	if err != nil {
		return err
	}
	return out.deliver(context.Background(), pkg)
}

func runStudent(ctx context.Context, cfg *config.Config, server, classID, user, slideDir string) error {
	set, err := loadSlides(slideDir)
	if err != nil {
		return err
	}

	api := &apiClient{base: server}
	if err := api.login(ctx, user, "student"); err != nil {
		return err
	}
	transport := signaling.NewWebSocketTransport(wsBase(server))
	transport.Header = api.header()

	s, err := session.JoinStudent(ctx, session.Options{
		ClassID:       classID,
		ParticipantID: user,
		Transport:     transport,
		Surface:       logSurface{who: user},
		Slides:        set,
		Peer:          peerConfig(cfg),
		PeerOptions: []peer.Option{peer.OnRemoteTrack(func(track *webrtc.TrackRemote) {
			log.Printf("[%s] Receiving %s", user, track.Kind())
		})},
	})
	if err != nil {
		return err
	}
	defer s.End()

	if err := s.WaitConnected(ctx); err != nil {
		return fmt.Errorf("could not join live session: %w", err)
	}
	log.Printf("[%s] Connected to %s", user, s.Channel())

	<-ctx.Done()
	return nil
}

func runRecord(ctx context.Context, slideDir, audio string, meta lesson.Metadata, out output) error {
	if !out.enabled() {
		return fmt.Errorf("-artifact or -outbox is required when recording")
	}
	set, err := loadSlides(slideDir)
	if err != nil {
		return err
	}

	rec := recorder.New(media.Microphone{ID: "recorder"}, slides.NewEngine(logSurface{who: "recorder"}))
	if err := rec.Start(ctx, set); err != nil {
		return err
	}

	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()
	if audio != "" {
		if err := feedAudio(feedCtx, audio, rec); err != nil {
			rec.Stop()
			return err
		}
	}

	log.Printf("Recording. Commands: n, p, <slide number>, empty line (pause/resume), q (stop)")
	err = commands(ctx, func(cmd string) bool {
		switch cmd {
		case "n":
			rec.Next(ctx)
		case "p":
			rec.Prev(ctx)
		case "":
			state, _ := rec.Toggle()
			log.Printf("Recorder %s", state)
		case "q":
			return false
		default:
			if n, err := strconv.Atoi(cmd); err == nil {
				rec.GoTo(ctx, n-1)
			}
		}
		return true
	})
	if err != nil {
		return err
	}

	stopFeed()
	result, err := rec.Stop()
	if err != nil {
		return err
	}
	pkg, err := lesson.FromRecording(stamp(meta, false), result)
	if err != nil {
		return err
	}
	return out.deliver(ctx, pkg)
}

// runPackage builds a lesson from audio and a timeline captured elsewhere.
func runPackage(ctx context.Context, slideDir, audio, timelineFile string, meta lesson.Metadata, out output) error {
	if audio == "" || timelineFile == "" {
		return fmt.Errorf("-audio and -timeline are required when packaging")
	}
	if !out.enabled() {
		return fmt.Errorf("-artifact or -outbox is required when packaging")
	}

	raw, err := os.ReadFile(timelineFile)
	if err != nil {
		return err
	}
	table, err := timeline.Parse(string(raw))
	if err != nil {
		return err
	}
	set, err := loadSlides(slideDir)
	if err != nil {
		return err
	}
	for _, e := range table {
		if e.Slide >= set.Len() {
			return fmt.Errorf("timeline shows slide %d but only %d slides were given", e.Slide+1, set.Len())
		}
	}
	recording, err := lesson.ReadMedia(audio)
	if err != nil {
		return err
	}

	pkg, err := lesson.FromFiles(stamp(meta, false), recording, table, set.Refs)
	if err != nil {
		return err
	}
	return out.deliver(ctx, pkg)
}

// runUpload sends every queued lesson to the class and dequeues what the
// server accepted.
func runUpload(ctx context.Context, cfg *config.Config, server, classID, user string) error {
	if classID == "" {
		return fmt.Errorf("-class is required when uploading")
	}
	api := &apiClient{base: server}
	if err := api.login(ctx, user, "teacher"); err != nil {
		return err
	}
	if err := redis.Connect(cfg.Redis); err != nil {
		return err
	}
	defer redis.Close()

	n, err := lesson.Flush(ctx, lesson.NewOutbox(redis.GetClient()), lectureUploader{api: api, classID: classID})
	log.Printf("Uploaded %d queued lessons", n)
	return err
}

func runReplay(ctx context.Context, artifact string) error {
	data, err := os.ReadFile(artifact)
	if err != nil {
		return err
	}

	player := playback.NewPlayer(logSurface{who: "replay"}, "")
	defer player.Close()
	if err := player.OpenArtifact(data); err != nil {
		return err
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			player.Tick(now.Sub(start).Seconds())
		}
	}
}

// commands feeds stdin lines to handle until it returns false, stdin ends
// or ctx is done.
func commands(ctx context.Context, handle func(string) bool) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok || !handle(line) {
				return nil
			}
		}
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/Devdeo/devv/internal/alerts"
	"github.com/Devdeo/devv/internal/config"
	"github.com/Devdeo/devv/internal/events"
	"github.com/Devdeo/devv/internal/metrics"
	"github.com/Devdeo/devv/internal/util"
)

type SupervisorOptions struct {
	FFmpegPath      string
	LogDir          string
	InstagramHost   string
	SettleDelay     time.Duration
	TerminateWait   time.Duration
	CleanupSettle   time.Duration
	CleanupAttempts int
	CleanupInterval time.Duration
	SessionGrace    time.Duration
	Events          events.Publisher
	Metrics         *metrics.Metrics
}

// DefaultSupervisorOptions fills every field from the loaded configuration.
func DefaultSupervisorOptions() SupervisorOptions {
	return SupervisorOptions{
		FFmpegPath:      config.FFmpegPath,
		LogDir:          config.LogDir,
		InstagramHost:   config.InstagramIngestHost,
		SettleDelay:     config.LiveSettleDelay,
		TerminateWait:   config.TerminateWait,
		CleanupSettle:   config.CleanupSettle,
		CleanupAttempts: config.CleanupAttempts,
		CleanupInterval: config.CleanupInterval,
		SessionGrace:    config.SessionGrace,
	}
}

type StartRequest struct {
	VideoID   string
	Platform  string
	StreamKey string
	TaskID    string
	Loops     int
}

// Supervisor launches one ffmpeg relay per video and guarantees that every
// session ends with its process gone and its file cleaned up.
type Supervisor struct {
	pipeline *Pipeline
	registry *Registry
	opts     SupervisorOptions

	wg sync.WaitGroup
}

func NewSupervisor(p *Pipeline, registry *Registry, opts SupervisorOptions) *Supervisor {
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.CleanupAttempts <= 0 {
		opts.CleanupAttempts = 1
	}
	return &Supervisor{pipeline: p, registry: registry, opts: opts}
}

func graceKey(videoID string) string { return "session:" + videoID }

func (s *Supervisor) Start(ctx context.Context, req StartRequest) (SessionSnapshot, error) {
	if req.VideoID == "" || req.Platform == "" || req.StreamKey == "" || req.TaskID == "" {
		return SessionSnapshot{}, ErrMissingFields
	}
	if !ValidPlatform(req.Platform) {
		return SessionSnapshot{}, fmt.Errorf("%w: %q", ErrInvalidPlatform, req.Platform)
	}
	if !util.ValidStreamKey(req.StreamKey) {
		return SessionSnapshot{}, ErrInvalidKey
	}

	asset, err := s.pipeline.assets.Claim(req.VideoID)
	if err != nil {
		return SessionSnapshot{}, err
	}
	sess := newSession(req, asset.Filename)
	if err := s.registry.Reserve(sess); err != nil {
		s.pipeline.assets.Release(req.VideoID)
		return SessionSnapshot{}, err
	}
	s.pipeline.sched.Cancel(assetKey(req.VideoID))
	s.pipeline.sched.Cancel(graceKey(req.VideoID))

	input, err := s.pipeline.store.Locate(ctx, asset.Filename)
	if err != nil {
		if errors.Is(err, ErrVideoNotFound) {
			s.pipeline.assets.Remove(req.VideoID)
			s.pipeline.dedup.RemoveAsset(req.VideoID)
			s.registry.RemoveIf(req.VideoID, sess)
			return SessionSnapshot{}, ErrVideoNotFound
		}
		return SessionSnapshot{}, s.failToStart(sess, err)
	}

	args, err := BuildArgs(input, req.Loops, req.Platform, req.StreamKey, s.opts.InstagramHost)
	if err != nil {
		return SessionSnapshot{}, s.failToStart(sess, err)
	}

	if err := os.MkdirAll(s.opts.LogDir, 0755); err != nil {
		return SessionSnapshot{}, s.failToStart(sess, err)
	}
	logPath := filepath.Join(s.opts.LogDir, req.VideoID+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return SessionSnapshot{}, s.failToStart(sess, err)
	}

	cmd := exec.Command(s.opts.FFmpegPath, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return SessionSnapshot{}, s.failToStart(sess, err)
	}

	proc := newProcess(cmd, logFile)
	sess.attach(proc, logPath)
	if isTerminal(sess.Status()) {
		// stopped while we were spawning
		go proc.terminate(s.opts.TerminateWait)
	}

	s.opts.Metrics.IncSessionsStarted(req.Platform)
	s.publish(sess, StatusStarting)
	log.Info().
		Str("video_id", req.VideoID).
		Str("task_id", req.TaskID).
		Str("platform", req.Platform).
		Int("loops", req.Loops).
		Int("pid", proc.pid()).
		Msg("stream starting")

	s.wg.Add(1)
	go s.monitor(sess, proc)

	return sess.Snapshot(), nil
}

// failToStart records a spawn-side failure, keeps the session queryable
// through the grace period and runs cleanup off the request path.
func (s *Supervisor) failToStart(sess *Session, cause error) error {
	detail := "failed to start ffmpeg: " + cause.Error()
	if sess.transition(StatusError, detail) {
		s.ended(sess, StatusError)
	}
	log.Error().Err(cause).Str("video_id", sess.videoID).Msg("stream failed to start")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.cleanup(sess)
		s.armGrace(sess)
	}()
	return errors.Join(ErrResourceFailure, cause)
}

func (s *Supervisor) monitor(sess *Session, proc *process) {
	defer s.wg.Done()

	settle := time.NewTimer(s.opts.SettleDelay)
	select {
	case <-proc.done:
		settle.Stop()
	case <-settle.C:
		if sess.transition(StatusLive, "") {
			s.publish(sess, StatusLive)
			log.Info().Str("video_id", sess.videoID).Msg("stream live")
		}
		<-proc.done
	}

	s.reconcile(sess, proc)
	s.cleanup(sess)
	if sess.Status() != StatusStopped {
		s.armGrace(sess)
	}
}

// reconcile moves a session whose process has exited to its terminal
// status. It does nothing if another path got there first.
func (s *Supervisor) reconcile(sess *Session, proc *process) {
	status, detail := s.classify(sess, proc.exitErr())
	if !sess.transition(status, detail) {
		return
	}
	s.ended(sess, status)
	if status == StatusError {
		log.Error().Str("video_id", sess.videoID).Str("detail", detail).Msg("stream failed")
		alerts.SessionFailed(sess.videoID, sess.platform, detail)
		return
	}
	log.Info().Str("video_id", sess.videoID).Msg("stream completed")
}

func (s *Supervisor) classify(sess *Session, exitErr error) (string, string) {
	if exitErr == nil {
		return StatusCompleted, ""
	}
	sess.mu.Lock()
	logPath := sess.logPath
	sess.mu.Unlock()
	reason := util.DescribeFailure(util.ReadLogTail(logPath, 2000))
	return StatusError, fmt.Sprintf("%s (%v)", reason, exitErr)
}

func (s *Supervisor) ended(sess *Session, status string) {
	s.opts.Metrics.IncSessionsEnded(status)
	s.publish(sess, status)
}

// cleanup makes sure the process is gone, then deletes the video once per
// session no matter which exit path gets here first.
func (s *Supervisor) cleanup(sess *Session) {
	if proc := sess.process(); proc != nil {
		proc.terminate(s.opts.TerminateWait)
	}
	sess.cleanupOnce.Do(func() {
		time.Sleep(s.opts.CleanupSettle)
		if err := s.removeWithRetry(sess); err != nil {
			log.Error().Err(err).
				Str("video_id", sess.videoID).
				Str("file", sess.filename).
				Int("attempts", s.opts.CleanupAttempts).
				Msg("giving up on deleting video")
			s.opts.Metrics.IncCleanupFailures()
			alerts.CleanupAbandoned(sess.videoID, sess.filename, err)
			// let the retention window try again later
			s.pipeline.assets.Release(sess.videoID)
			s.pipeline.Rearm(sess.videoID)
			return
		}

		s.pipeline.assets.Remove(sess.videoID)
		s.pipeline.dedup.RemoveAsset(sess.videoID)
		log.Info().Str("video_id", sess.videoID).Msg("video removed after stream")
	})
}

func (s *Supervisor) removeWithRetry(sess *Session) error {
	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		if err := s.pipeline.store.Remove(context.Background(), sess.filename); err != nil {
			log.Warn().Err(err).
				Str("video_id", sess.videoID).
				Int("attempt", attempt).
				Msg("video delete failed, retrying")
			return struct{}{}, err
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(context.Background(), operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(s.opts.CleanupInterval)),
		backoff.WithMaxTries(uint(s.opts.CleanupAttempts)),
	)
	return err
}

func (s *Supervisor) armGrace(sess *Session) {
	s.pipeline.sched.Schedule(graceKey(sess.videoID), s.opts.SessionGrace, func() {
		if s.registry.RemoveIf(sess.videoID, sess) {
			log.Debug().Str("video_id", sess.videoID).Msg("session record expired")
		}
	})
}

// Stop terminates a session's process, deletes its video and forgets the
// session immediately.
func (s *Supervisor) Stop(videoID string) error {
	sess, ok := s.registry.Get(videoID)
	if !ok {
		return ErrSessionNotFound
	}

	if sess.transition(StatusStopped, "") {
		s.ended(sess, StatusStopped)
		log.Info().Str("video_id", videoID).Msg("stream stop requested")
	}

	s.cleanup(sess)
	s.registry.RemoveIf(videoID, sess)
	s.pipeline.sched.Cancel(graceKey(videoID))
	return nil
}

// Status returns the session snapshot, settling the status first if the
// process has exited but the monitor has not caught up yet.
func (s *Supervisor) Status(videoID string) (SessionSnapshot, error) {
	sess, ok := s.registry.Get(videoID)
	if !ok {
		return SessionSnapshot{}, ErrSessionNotFound
	}
	if proc := sess.process(); proc != nil && proc.exited() && !isTerminal(sess.Status()) {
		s.reconcile(sess, proc)
	}
	return sess.Snapshot(), nil
}

func (s *Supervisor) List() []SessionSnapshot {
	return s.registry.List()
}

func (s *Supervisor) ActiveCount() int {
	return s.registry.ActiveCount()
}

// Shutdown stops every session and waits for monitors to finish or ctx to
// expire.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, sess := range s.registry.all() {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			s.Stop(id)
		}(sess.videoID)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) publish(sess *Session, status string) {
	snap := sess.Snapshot()
	s.opts.Events.Publish(context.Background(), events.Event{
		Type:     events.SessionEvent(status),
		VideoID:  snap.VideoID,
		TaskID:   snap.TaskID,
		Platform: snap.Platform,
		Status:   status,
		Error:    snap.Error,
	})
}

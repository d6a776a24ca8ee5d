package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-shellwords"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/wavecast-audio/wavecast/internal/broadcast"
	"github.com/wavecast-audio/wavecast/internal/config"
	"github.com/wavecast-audio/wavecast/internal/source"
)

// errSwitched reports that the in-flight transcoder was terminated
// because the broadcast source changed underneath it.
var errSwitched = errors.New("source switched")

// Pipeline supervises exactly one external transcoder process at a
// time. The process reads the current source file from the start and
// emits a constant-bitrate MP3 stream on stdout, which the pipeline
// chops into fixed-size chunks and appends to the broadcast ring. A
// source change preempts the running process; failures are retried
// after a fixed backoff so the broadcast never goes permanently silent.
type Pipeline struct {
	cfg  config.TranscoderConfig
	sel  *source.Selector
	ring *broadcast.Ring
	log  *slog.Logger
	cmd  []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	chunks   metric.Int64Counter
	restarts metric.Int64Counter
}

func New(parent context.Context, cfg config.TranscoderConfig, sel *source.Selector, ring *broadcast.Ring, log *slog.Logger) (*Pipeline, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse transcoder command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcoder command empty")
	}

	ctx, cancel := context.WithCancel(parent)
	meter := otel.Meter("wavecast/pipeline")
	chunks, _ := meter.Int64Counter("wavecast.broadcast.chunks",
		metric.WithDescription("Encoded chunks appended to the broadcast ring"))
	restarts, _ := meter.Int64Counter("wavecast.transcoder.restarts",
		metric.WithDescription("Transcoder restarts after abnormal exit"))

	return &Pipeline{
		cfg:      cfg,
		sel:      sel,
		ring:     ring,
		log:      log.With(slog.String("component", "transcode-pipeline")),
		cmd:      args,
		ctx:      ctx,
		cancel:   cancel,
		chunks:   chunks,
		restarts: restarts,
	}, nil
}

// Start launches the producer goroutine.
func (p *Pipeline) Start() error {
	p.wg.Add(1)
	go p.run()
	return nil
}

// Close terminates the active transcoder and waits for the producer to
// stop.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()
}

func (p *Pipeline) Healthy() bool { return p.ctx.Err() == nil }

func (p *Pipeline) run() {
	defer p.wg.Done()
	backoff := time.Duration(p.cfg.BackoffMS) * time.Millisecond

	for {
		if p.ctx.Err() != nil {
			return
		}
		src := p.sel.Current()
		p.log.Info("transcoding source",
			slog.String("kind", src.Kind.String()),
			slog.String("path", src.Path))

		err := p.streamOnce(src)
		switch {
		case errors.Is(err, context.Canceled):
			return
		case errors.Is(err, errSwitched):
			// Retarget immediately, no backoff.
		case err == nil:
			if src.Kind == source.KindSpeech {
				p.sel.Drained(src)
			}
			// Background loops indefinitely; restart right away.
		default:
			p.restarts.Add(p.ctx, 1)
			p.log.Warn("transcoder failed, backing off",
				slog.String("path", src.Path),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()))
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
	}
}

func (p *Pipeline) buildArgs(path string) []string {
	args := append([]string{}, p.cmd[1:]...)
	return append(args,
		"-hide_banner",
		"-loglevel", "error",
		"-re",
		"-i", path,
		"-vn",
		"-f", "mp3",
		"-b:a", p.cfg.Bitrate,
		"-ar", strconv.Itoa(p.cfg.SampleRate),
		"-ac", strconv.Itoa(p.cfg.Channels),
		"pipe:1",
	)
}

// streamOnce runs one transcoder process to completion, preemption, or
// failure. A watcher goroutine terminates the process as soon as the
// selector retargets or the pipeline shuts down.
func (p *Pipeline) streamOnce(src source.Source) error {
	cmd := exec.Command(p.cmd[0], p.buildArgs(src.Path)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("transcoder stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn transcoder: %w", err)
	}

	readerDone := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		for {
			select {
			case <-readerDone:
				// The reader may notice the retarget before this
				// goroutine does; the stale process still has to die.
				if p.ctx.Err() != nil || p.sel.Current().Gen != src.Gen {
					p.terminate(cmd, exited)
				}
				return
			case <-p.ctx.Done():
				p.terminate(cmd, exited)
				return
			case <-p.sel.Changed():
				if p.sel.Current().Gen != src.Gen {
					p.terminate(cmd, exited)
					return
				}
			}
		}
	}()

	buf := make([]byte, p.cfg.ChunkBytes)
	var readErr error
	for {
		n, err := io.ReadFull(stdout, buf)
		if n > 0 {
			// The process keeps emitting between the retarget and its
			// death (pipe backlog, the whole kill grace if it ignores
			// SIGTERM); none of that output may reach the ring.
			if p.ctx.Err() != nil || p.sel.Current().Gen != src.Gen {
				break
			}
			p.ring.Append(buf[:n])
			p.chunks.Add(p.ctx, 1)
		}
		if err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				readErr = err
			}
			break
		}
	}
	close(readerDone)
	waitErr := cmd.Wait()
	close(exited)

	if p.ctx.Err() != nil {
		return context.Canceled
	}
	if p.sel.Current().Gen != src.Gen {
		return errSwitched
	}
	if readErr != nil {
		return fmt.Errorf("read transcoder output: %w", readErr)
	}
	if waitErr != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("transcoder exited: %w: %s", waitErr, msg)
		}
		return fmt.Errorf("transcoder exited: %w", waitErr)
	}
	return nil
}

// terminate asks the process to exit gracefully and force-kills it
// after the grace period, so rapid source switching cannot accumulate
// orphaned transcoders.
func (p *Pipeline) terminate(cmd *exec.Cmd, exited <-chan struct{}) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-exited:
	case <-time.After(time.Duration(p.cfg.KillGraceMS) * time.Millisecond):
		_ = cmd.Process.Kill()
	}
}

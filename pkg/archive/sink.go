package archive

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/castflow/rtmpub/pkg/config"
	rtmperrors "github.com/castflow/rtmpub/pkg/errors"
	"github.com/castflow/rtmpub/pkg/logger"
)

// tagEvent is one emitted RTMP AUDIO/VIDEO/AMF0_META payload queued for
// archiving, carrying the same bytes the framer put on the wire.
type tagEvent struct {
	typeID    uint8
	timestamp uint32
	payload   []byte
}

// Sink buffers every outbound FLV tag payload for one publishing session
// and periodically flushes the accumulated FLV file to S3. It is a
// best-effort side channel: a failed upload is logged and never reported
// to the publisher's Listener (spec.md §7).
//
// Adapted from the teacher's pkg/storage/s3.go S3Storage: same AWS
// config loading and PutObject shape, trimmed to the subset this sink
// needs (one growing object per session, no presigned URLs, no
// multipart, no delete/list/copy).
type Sink struct {
	client *s3.Client
	cfg    config.ArchiveConfig
	log    logger.Logger
	key    string

	events chan tagEvent
	stop   chan struct{}
	done   chan struct{}

	mu            sync.Mutex
	buf           bytes.Buffer
	bytesSincePut int

	dropped uint64
}

// New builds a Sink for sessionID from cfg, loads AWS credentials the
// same way the teacher's S3Storage does (static pair if provided, else
// the default credential chain), and starts its background flush loop.
func New(cfg config.ArchiveConfig, sessionID string, log logger.Logger) (*Sink, error) {
	if log == nil {
		log = logger.NewDefaultLogger(logger.InfoLevel, "text")
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, rtmperrors.Wrap(rtmperrors.ErrCodeInvalidConfig, "failed to load AWS config for archive sink", err)
	}

	opts := []func(*s3.Options){
		func(o *s3.Options) { o.UsePathStyle = true },
	}
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}

	s := &Sink{
		client: s3.NewFromConfig(awsCfg, opts...),
		cfg:    cfg,
		log:    log,
		key:    fmt.Sprintf("%s/%s.flv", cfg.Prefix, sessionID),
		events: make(chan tagEvent, 256),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.buf.Write(buildFLVHeader())

	go s.run()
	return s, nil
}

// Write queues one outbound FLV tag for archiving. It never blocks: if
// the internal queue is full, the tag is dropped and DroppedCount
// increments, per spec.md §5's "never gate a wire send" rule.
func (s *Sink) Write(typeID uint8, timestamp uint32, payload []byte) {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	select {
	case s.events <- tagEvent{typeID: typeID, timestamp: timestamp, payload: cp}:
	default:
		atomic.AddUint64(&s.dropped, 1)
	}
}

// DroppedCount returns the number of tags dropped because the archive
// queue was full, for pkg/metrics.
func (s *Sink) DroppedCount() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

// Close flushes any buffered bytes once more and stops the sink.
func (s *Sink) Close(ctx context.Context) error {
	close(s.stop)
	<-s.done
	return s.flush(ctx)
}

func (s *Sink) run() {
	defer close(s.done)

	interval := s.cfg.FlushInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-s.events:
			s.mu.Lock()
			s.buf.Write(appendFLVTag(nil, ev.typeID, ev.timestamp, ev.payload))
			s.bytesSincePut += len(ev.payload)
			shouldFlush := s.cfg.FlushBytes > 0 && s.bytesSincePut >= s.cfg.FlushBytes
			s.mu.Unlock()

			if shouldFlush {
				if err := s.flush(context.Background()); err != nil {
					s.log.Warn("archive flush failed", logger.Err(err))
				}
			}
		case <-ticker.C:
			if err := s.flush(context.Background()); err != nil {
				s.log.Warn("archive flush failed", logger.Err(err))
			}
		case <-s.stop:
			return
		}
	}
}

// flush uploads the entire accumulated buffer to S3, overwriting the
// previous object -- spec.md §6.6 describes one growing object per
// session, not a multipart append.
func (s *Sink) flush(ctx context.Context) error {
	s.mu.Lock()
	if s.bytesSincePut == 0 && s.buf.Len() == flvHeaderSize {
		s.mu.Unlock()
		return nil
	}
	snapshot := make([]byte, s.buf.Len())
	copy(snapshot, s.buf.Bytes())
	s.bytesSincePut = 0
	s.mu.Unlock()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(snapshot),
		ContentType: aws.String("video/x-flv"),
	})
	if err != nil {
		return rtmperrors.Wrap(rtmperrors.ErrCodeNetworkError, "archive upload failed", err)
	}

	s.log.Info("archive snapshot uploaded",
		logger.String("key", s.key),
		logger.Int("size", len(snapshot)),
	)
	return nil
}

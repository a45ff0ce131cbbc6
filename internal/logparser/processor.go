package logparser

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/outcomeops/outcomeops-analytics/internal/db"
	"github.com/outcomeops/outcomeops-analytics/internal/filter"
	"github.com/outcomeops/outcomeops-analytics/internal/keys"
	"github.com/outcomeops/outcomeops-analytics/internal/logger"
	"github.com/outcomeops/outcomeops-analytics/internal/models"
	"github.com/outcomeops/outcomeops-analytics/internal/validation"
)

var tracer = otel.Tracer("analytics/logparser")

var (
	// ErrNoDomain means the object key does not start with a domain segment.
	ErrNoDomain = errors.New("cannot derive domain from object key")
	// ErrDomainNotAllowed means the key's domain is not configured.
	ErrDomainNotAllowed = errors.New("domain not allowed")
)

// maxLineBytes bounds one log line; longer lines are consumed whole and
// counted as malformed.
const maxLineBytes = 1 << 20

var errLineTooLong = errors.New("log line too long")

// ObjectSource opens stored log objects.
type ObjectSource interface {
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Config controls a Processor.
type Config struct {
	// AllowedDomains restricts which key prefixes are processed. Empty
	// allows any domain.
	AllowedDomains []string
	Retention      time.Duration
	// ItemRetries is how many times one unprocessed item is retried on its
	// own before it is counted as lost.
	ItemRetries uint64
	RetryDelay  time.Duration
}

// Result counts what happened to one object's lines.
type Result struct {
	Lines     int `json:"lines"`
	Parsed    int `json:"parsed"`
	Malformed int `json:"malformed"`
	Skipped   int `json:"skipped"`
	Written   int `json:"written"`
	Lost      int `json:"lost"`
}

// Add accumulates another result into r.
func (r *Result) Add(o Result) {
	r.Lines += o.Lines
	r.Parsed += o.Parsed
	r.Malformed += o.Malformed
	r.Skipped += o.Skipped
	r.Written += o.Written
	r.Lost += o.Lost
}

// Processor parses access-log objects and writes Events.
type Processor struct {
	store      db.Store
	objects    ObjectSource
	classifier *filter.Classifier
	allowed    map[string]bool
	cfg        Config
}

// NewProcessor creates a Processor.
func NewProcessor(store db.Store, objects ObjectSource, classifier *filter.Classifier, cfg Config) *Processor {
	if cfg.Retention <= 0 {
		cfg.Retention = 90 * 24 * time.Hour
	}
	if cfg.ItemRetries == 0 {
		cfg.ItemRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if classifier == nil {
		classifier = filter.NewClassifier(nil, nil, nil)
	}
	allowed := make(map[string]bool, len(cfg.AllowedDomains))
	for _, d := range cfg.AllowedDomains {
		allowed[strings.ToLower(d)] = true
	}
	return &Processor{store: store, objects: objects, classifier: classifier, allowed: allowed, cfg: cfg}
}

// DomainFromKey returns the first path segment of an object key, which
// names the site the logs belong to (e.g. "example.com/2025/01/15/x.gz").
func DomainFromKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	domain, _, found := strings.Cut(key, "/")
	if !found || domain == "" {
		return "", fmt.Errorf("%w: %q", ErrNoDomain, key)
	}
	return strings.ToLower(domain), nil
}

// ProcessObject parses one log object and writes its Events. Lines are
// handled in file order. Malformed lines and filtered requests are
// counted, never fatal. The returned Result reflects partial progress
// even when an error is returned.
func (p *Processor) ProcessObject(ctx context.Context, bucket, key string) (Result, error) {
	ctx, span := tracer.Start(ctx, "logparser.process_object",
		trace.WithAttributes(
			attribute.String("storage.bucket", bucket),
			attribute.String("storage.key", key),
		))
	defer span.End()

	var res Result
	fail := func(err error) (Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}

	domain, err := DomainFromKey(key)
	if err != nil {
		return fail(err)
	}
	if len(p.allowed) > 0 && !p.allowed[domain] {
		return fail(fmt.Errorf("%w: %s", ErrDomainNotAllowed, domain))
	}

	obj, err := p.objects.Open(ctx, bucket, key)
	if err != nil {
		return fail(fmt.Errorf("failed to open %s: %w", key, err))
	}
	defer obj.Close()

	var r io.Reader = obj
	if strings.HasSuffix(key, ".gz") {
		zr, err := gzip.NewReader(obj)
		if err != nil {
			return fail(fmt.Errorf("failed to decompress %s: %w", key, err))
		}
		defer zr.Close()
		r = zr
	}

	batch := make([]db.Item, 0, db.MaxBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		written, lost := p.writeBatch(ctx, batch)
		res.Written += written
		res.Lost += lost
		batch = batch[:0]
	}

	br := bufio.NewReaderSize(r, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			flush()
			return fail(err)
		}

		line, err := readLine(br)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, errLineTooLong) {
			res.Lines++
			res.Malformed++
			logger.Debug("skipping oversized log line", "key", key, "max_bytes", maxLineBytes)
			continue
		}
		if err != nil {
			// A truncated or corrupt stream keeps whatever was already written.
			flush()
			res.Malformed++
			return fail(fmt.Errorf("failed reading %s: %w", key, err))
		}

		rec, err := ParseLine(line)
		if errors.Is(err, ErrComment) {
			continue
		}
		res.Lines++
		if err != nil {
			res.Malformed++
			logger.Debug("skipping malformed log line", "key", key, "error", err)
			continue
		}
		res.Parsed++

		if !p.classifier.Record(rec.Path, rec.UserAgent) {
			res.Skipped++
			continue
		}

		item, err := p.eventItem(domain, rec, line)
		if err != nil {
			res.Malformed++
			continue
		}
		batch = append(batch, item)
		if len(batch) == db.MaxBatchSize {
			flush()
		}
	}
	flush()

	span.SetAttributes(
		attribute.String("domain", domain),
		attribute.Int("lines", res.Lines),
		attribute.Int("parsed", res.Parsed),
		attribute.Int("malformed", res.Malformed),
		attribute.Int("skipped", res.Skipped),
		attribute.Int("written", res.Written),
		attribute.Int("lost", res.Lost),
	)
	logger.Info("processed log object",
		"bucket", bucket, "key", key, "domain", domain,
		"lines", res.Lines, "parsed", res.Parsed, "malformed", res.Malformed,
		"skipped", res.Skipped, "written", res.Written, "lost", res.Lost)
	return res, nil
}

// readLine returns the next line without its terminator. A line longer
// than maxLineBytes is read to its end and reported as errLineTooLong so
// the caller can carry on with the next one. A final line without a
// newline is returned before io.EOF.
func readLine(br *bufio.Reader) (string, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > maxLineBytes+1 {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			if len(buf) == 0 && !tooLong {
				return "", io.EOF
			}
		} else if err != nil {
			return "", err
		}
		break
	}
	if tooLong {
		return "", errLineTooLong
	}
	return strings.TrimRight(string(buf), "\r\n"), nil
}

// eventItem builds the stored item for one record. Every key component
// comes from the line itself so a redelivered object rewrites the same
// items.
func (p *Processor) eventItem(domain string, rec Record, line string) (db.Item, error) {
	requestID := rec.RequestID
	if requestID == "" {
		requestID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(line)).String()
	}

	ev := models.Event{
		Domain:         domain,
		Timestamp:      rec.Timestamp,
		RequestID:      requestID,
		ClientIP:       rec.ClientIP,
		Method:         rec.Method,
		Path:           rec.Path,
		Status:         rec.Status,
		Referrer:       rec.Referrer,
		ReferrerDomain: validation.ReferrerDomain(rec.Referrer, domain, rec.Host),
		Country:        rec.Country,
		UserAgent:      rec.UserAgent,
	}
	return EventItem(ev, p.cfg.Retention)
}

// EventItem renders an Event into its store item with all index keys.
func EventItem(ev models.Event, retention time.Duration) (db.Item, error) {
	ts := ev.Timestamp.UTC().Format(time.RFC3339)
	vals := keys.Values{
		"domain":          ev.Domain,
		"date":            ev.Date(),
		"timestamp":       ts,
		"request_id":      ev.RequestID,
		"path":            ev.Path,
		"referrer_domain": ev.ReferrerDomain,
	}

	var it db.Item
	var err error
	if it.PK, it.SK, err = keys.Build(keys.EntityEvent, keys.Primary, vals); err != nil {
		return db.Item{}, err
	}
	if it.GSI1PK, it.GSI1SK, err = keys.Build(keys.EntityEvent, keys.GSI1, vals); err != nil {
		return db.Item{}, err
	}
	if ev.ReferrerDomain != "" {
		if it.GSI2PK, it.GSI2SK, err = keys.Build(keys.EntityEvent, keys.GSI2, vals); err != nil {
			return db.Item{}, err
		}
	}
	if it.Data, err = json.Marshal(ev); err != nil {
		return db.Item{}, err
	}
	it.ExpiresAt = ev.Timestamp.Add(retention).UTC()
	return it, nil
}

// writeBatch writes a batch and retries anything unprocessed one item at
// a time. Items that still fail are dropped and counted as lost.
func (p *Processor) writeBatch(ctx context.Context, batch []db.Item) (written, lost int) {
	unprocessed, err := p.store.PutItems(ctx, db.TableEvents, batch)
	if err != nil {
		logger.Warn("batch write failed, retrying items individually", "items", len(unprocessed), "error", err)
	}
	written = len(batch) - len(unprocessed)

	for _, item := range unprocessed {
		b := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewConstantBackOff(p.cfg.RetryDelay), p.cfg.ItemRetries), ctx)
		err := backoff.Retry(func() error {
			left, err := p.store.PutItems(ctx, db.TableEvents, []db.Item{item})
			if err != nil {
				return err
			}
			if len(left) > 0 {
				return errors.New("item left unprocessed")
			}
			return nil
		}, b)
		if err != nil {
			lost++
			logger.Warn("dropping event after retries", "pk", item.PK, "sk", item.SK, "error", err)
			continue
		}
		written++
	}
	return written, lost
}

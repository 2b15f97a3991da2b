package media

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dutchcoders/go-clamd"
)

const (
	ScanStatusClean    = "clean"
	ScanStatusInfected = "infected"
	ScanStatusError    = "error"
	ScanStatusSkipped  = "skipped"
)

// Scanner inspects upload bytes before anything is written.
type Scanner interface {
	Scan(ctx context.Context, data []byte) (status, detail string)
}

type ClamdScanner struct {
	client *clamd.Clamd
	logger *slog.Logger
}

// NewClamdScanner connects to clamd, retrying a few times. An empty address
// yields a scanner that skips every file.
func NewClamdScanner(ctx context.Context, address string, logger *slog.Logger) (*ClamdScanner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if address == "" {
		logger.Warn("clamd address not configured, malware scanning disabled")
		return &ClamdScanner{logger: logger}, nil
	}

	c := clamd.NewClamd(address)
	attempt := 0
	ping := func() error {
		attempt++
		err := c.Ping()
		if err != nil {
			logger.Warn("cannot reach clamd", "address", address, "attempt", attempt, "error", err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 4), ctx)
	if err := backoff.Retry(ping, policy); err != nil {
		logger.Error("giving up on clamd, scanning disabled for this run", "address", address)
		return nil, err
	}
	logger.Info("connected to clamd", "address", address, "attempt", attempt)
	return &ClamdScanner{client: c, logger: logger}, nil
}

func (s *ClamdScanner) Scan(ctx context.Context, data []byte) (string, string) {
	if s == nil || s.client == nil {
		return ScanStatusSkipped, "scanner not initialised"
	}

	abort := make(chan bool, 1)
	response, err := s.client.ScanStream(bytes.NewReader(data), abort)
	if err != nil {
		s.logger.Error("clamd stream scan failed", "component", "clamd", "error", err)
		return ScanStatusError, "clamd communication failed"
	}

	for {
		select {
		case <-ctx.Done():
			abort <- true
			return ScanStatusError, ctx.Err().Error()
		case result, ok := <-response:
			if !ok {
				return ScanStatusClean, "ok"
			}
			s.logger.Debug("clamd response", "component", "clamd", "raw", result.Raw)
			switch result.Status {
			case clamd.RES_FOUND:
				virus := strings.TrimSuffix(strings.TrimPrefix(result.Raw, result.Path+": "), " FOUND")
				s.logger.Warn("malware detected in upload", "component", "clamd", "virus", virus, "size", len(data))
				return ScanStatusInfected, virus
			case clamd.RES_ERROR, clamd.RES_PARSE_ERROR:
				details := strings.TrimSuffix(strings.TrimPrefix(result.Raw, result.Path+": "), " ERROR")
				s.logger.Error("clamd reported an error", "component", "clamd", "details", details)
				return ScanStatusError, details
			}
		}
	}
}

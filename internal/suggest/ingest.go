package suggest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chirpchat/chirp/internal/bus"
	"github.com/chirpchat/chirp/internal/metrics"
	"github.com/chirpchat/chirp/internal/store"
)

const (
	writeChunkSize  = 50
	interChunkDelay = 25 * time.Millisecond
)

// Item outcome values in a Report.
const (
	OutcomeCreated = "created"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// ItemResult records the fate of one item/category pair.
type ItemResult struct {
	Index        int    `json:"index"`
	Category     string `json:"category,omitempty"`
	SuggestionID string `json:"suggestionId,omitempty"`
	Outcome      string `json:"outcome"`
	Reason       string `json:"reason,omitempty"`
}

// Report aggregates one ingest call. A non-zero Failed count with a
// non-zero Created count is a partial failure, which is a tracked result,
// not an error.
type Report struct {
	Processed int          `json:"processed"`
	Skipped   int          `json:"skipped"`
	Created   int          `json:"created"`
	Failed    int          `json:"failed"`
	Results   []ItemResult `json:"results"`
}

// Ingestor validates analysis responses and writes the surviving
// suggestions.
type Ingestor struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	// test seams
	now   func() time.Time
	sleep func(time.Duration)
}

// NewIngestor creates an Ingestor publishing creation events on b.
func NewIngestor(db *store.DB, b *bus.Bus, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		db:     db,
		bus:    b,
		logger: logger,
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// Ingest processes one analysis response for the given message. The call
// fails outright only for invalid identifiers or an unrecoverable payload;
// per-item problems are counted in the Report and never abort the batch.
func (in *Ingestor) Ingest(raw json.RawMessage, userID, chatID, msgKey string) (*Report, error) {
	started := in.now()

	for name, id := range map[string]string{"user id": userID, "chat id": chatID, "message id": msgKey} {
		if !ValidIdentifier(id) {
			return nil, fmt.Errorf("invalid %s %q", name, id)
		}
	}

	items, attempts, err := RecoverPayload(raw)
	if err != nil {
		metrics.SuggestionsFailed.WithLabelValues("payload").Inc()
		return nil, fmt.Errorf("unrecoverable payload (tried %s): %w", strings.Join(attempts, ", "), err)
	}
	if len(attempts) > 1 {
		in.logger.Warn("recovered malformed analysis payload",
			zap.Strings("attempts", attempts),
			zap.String("chat_id", chatID))
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("empty analysis response")
	}
	if len(items) > maxBatchItems {
		return nil, fmt.Errorf("analysis response has %d items, limit is %d", len(items), maxBatchItems)
	}

	report := &Report{}
	var pending []*store.Suggestion
	// Indexes into report.Results, one per pending suggestion. Results
	// keeps growing while items decode, so positions are recorded instead
	// of pointers.
	var pendingIdx []int

	for i, rawItem := range items {
		report.Processed++
		content, err := decodeItem(rawItem)
		if err != nil {
			report.Skipped++
			report.Results = append(report.Results, ItemResult{Index: i, Outcome: OutcomeSkipped, Reason: err.Error()})
			metrics.SuggestionsFailed.WithLabelValues("shape").Inc()
			continue
		}
		if !content.IsActionable || len(content.Categories) == 0 {
			report.Skipped++
			report.Results = append(report.Results, ItemResult{Index: i, Outcome: OutcomeSkipped, Reason: "not actionable"})
			continue
		}

		d := sanitizeDetails(content.ExtractedDetails)
		for _, category := range content.Categories {
			s, err := synthesize(category, content, d, userID, chatID, msgKey, in.now().UnixMilli())
			if err != nil {
				report.Failed++
				report.Results = append(report.Results, ItemResult{Index: i, Category: category, Outcome: OutcomeFailed, Reason: err.Error()})
				metrics.SuggestionsFailed.WithLabelValues("validation").Inc()
				continue
			}
			pending = append(pending, s)
			report.Results = append(report.Results, ItemResult{Index: i, Category: category, SuggestionID: s.ID})
			pendingIdx = append(pendingIdx, len(report.Results)-1)
		}
	}

	in.writeChunked(pending, pendingIdx, report)

	metrics.IngestDuration.Observe(in.now().Sub(started).Seconds())
	in.logger.Info("analysis response ingested",
		zap.String("chat_id", chatID),
		zap.String("msg_key", msgKey),
		zap.Int("processed", report.Processed),
		zap.Int("created", report.Created),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))
	return report, nil
}

// writeChunked persists suggestions in bounded chunks with a short pause
// between them. Each write succeeds or fails on its own.
func (in *Ingestor) writeChunked(pending []*store.Suggestion, resultIdx []int, report *Report) {
	for start := 0; start < len(pending); start += writeChunkSize {
		if start > 0 {
			in.sleep(interChunkDelay)
		}
		end := start + writeChunkSize
		if end > len(pending) {
			end = len(pending)
		}
		for i := start; i < end; i++ {
			s, res := pending[i], &report.Results[resultIdx[i]]
			if err := in.db.InsertSuggestion(s); err != nil {
				report.Failed++
				res.Outcome = OutcomeFailed
				res.Reason = err.Error()
				res.SuggestionID = ""
				metrics.SuggestionsFailed.WithLabelValues("store").Inc()
				in.logger.Warn("suggestion write failed",
					zap.String("suggestion_id", s.ID),
					zap.Error(err))
				continue
			}
			report.Created++
			res.Outcome = OutcomeCreated
			metrics.SuggestionsCreated.Inc()
			if in.bus != nil {
				in.bus.Publish(bus.Event{Kind: bus.KindSuggestionCreated, Payload: s})
			}
		}
	}
}

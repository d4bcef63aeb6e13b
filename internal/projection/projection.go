package projection

import (
	"encoding/json"
	"sort"

	"github.com/roach88/scoreboard/internal/entry"
)

// Standing is one player's row in the ranking.
type Standing struct {
	Identity        string          `json:"identity"`
	DisplayName     string          `json:"display_name"`
	BestScore       float64         `json:"best_score"`
	BestRecordID    string          `json:"best_record_id,omitempty"`
	BestPrize       json.RawMessage `json:"best_prize,omitempty"`
	BestSubmittedAt json.RawMessage `json:"best_submitted_at,omitempty"`
	SubmissionCount int             `json:"submission_count"`
}

// Projection is the ranking, best score first.
type Projection []Standing

// accumulator tracks the winning record for one identity.
type accumulator struct {
	best  entry.Entry
	count int
	order int
}

// Build computes the ranking for records. The input slice is not modified.
func Build(records []entry.Record) Projection {
	byIdentity := make(map[string]*accumulator, len(records))
	identities := make([]string, 0, len(records))

	for _, rec := range records {
		e := entry.Parse(rec)
		key := entry.Normalize(e.Name)

		acc, ok := byIdentity[key]
		if !ok {
			byIdentity[key] = &accumulator{best: e, count: 1, order: len(identities)}
			identities = append(identities, key)
			continue
		}

		acc.count++
		if e.Score > acc.best.Score {
			acc.best = e
		}
	}

	out := make(Projection, 0, len(identities))
	for _, key := range identities {
		acc := byIdentity[key]
		out = append(out, Standing{
			Identity:        key,
			DisplayName:     acc.best.Name,
			BestScore:       acc.best.Score,
			BestRecordID:    acc.best.ID,
			BestPrize:       cloneRaw(acc.best.Prize),
			BestSubmittedAt: cloneRaw(acc.best.Timestamp),
			SubmissionCount: acc.count,
		})
	}

	// identities is in first-seen order, so a stable sort keeps that order
	// among equal scores.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].BestScore > out[j].BestScore
	})

	return out
}

// ToRecords converts standings back into storable records, one per
// identity. The winning record's id is kept; newID is called for standings
// whose winner had none.
func ToRecords(p Projection, newID func() string) []entry.Record {
	out := make([]entry.Record, 0, len(p))
	for _, s := range p {
		id := s.BestRecordID
		if id == "" {
			id = newID()
		}
		out = append(out, entry.Record{
			ID:        id,
			Timestamp: cloneRaw(s.BestSubmittedAt),
			Name:      entry.StringPtr(s.DisplayName),
			Score:     entry.NumberScore(s.BestScore),
			Prize:     cloneRaw(s.BestPrize),
		})
	}
	return out
}

// Clone returns a deep copy. Observers each get their own.
func (p Projection) Clone() Projection {
	if p == nil {
		return Projection{}
	}
	out := make(Projection, len(p))
	for i, s := range p {
		s.BestPrize = cloneRaw(s.BestPrize)
		s.BestSubmittedAt = cloneRaw(s.BestSubmittedAt)
		out[i] = s
	}
	return out
}

// Rank returns the 1-based position of name's identity, or 0 if the
// player is not ranked.
func (p Projection) Rank(name string) int {
	key := entry.Normalize(name)
	for i, s := range p {
		if s.Identity == key {
			return i + 1
		}
	}
	return 0
}

// Top returns at most n standings. n <= 0 returns the whole projection.
func (p Projection) Top(n int) Projection {
	if n <= 0 || n >= len(p) {
		return p
	}
	return p[:n]
}

// TotalSubmissions sums the submission counts, i.e. the raw record count
// the projection was built from.
func (p Projection) TotalSubmissions() int {
	total := 0
	for _, s := range p {
		total += s.SubmissionCount
	}
	return total
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}

package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/tendant/simple-2fa/pkg/codestore"
	"github.com/tendant/simple-2fa/pkg/utils"
)

const (
	DefaultCodeCount  = 10
	DefaultCodeLength = 12

	// batchRef is the single record holding an identity's current batch.
	// Keeping the whole batch in one record makes replacement atomic: a new
	// batch can never be live together with part of the old one.
	batchRef = "batch"
)

// Result is the internal outcome of consuming a recovery code. Callers
// facing end users should collapse ResultAlreadyUsed and ResultInvalid into
// one failure to avoid codebook enumeration; they stay distinct here for
// audit logging.
type Result int

const (
	ResultInvalid Result = iota
	ResultVerified
	ResultAlreadyUsed
)

func (r Result) String() string {
	switch r {
	case ResultVerified:
		return "verified"
	case ResultAlreadyUsed:
		return "already_used"
	default:
		return "invalid"
	}
}

type codeEntry struct {
	Hash   string     `json:"hash"`
	UsedAt *time.Time `json:"used_at,omitempty"`
}

type batchRecord struct {
	Codes       []codeEntry `json:"codes"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// Engine generates and consumes single-use recovery codes. Hashes are salted
// (bcrypt); plaintext codes exist only in the return value of GenerateBatch.
type Engine struct {
	store      codestore.Store
	codeCount  int
	codeLength int

	// Now is the clock source, overridable in tests.
	Now func() time.Time
}

// NewEngine creates a recovery-code engine.
func NewEngine(store codestore.Store, codeCount, codeLength int) *Engine {
	if codeCount <= 0 {
		codeCount = DefaultCodeCount
	}
	if codeLength <= 0 {
		codeLength = DefaultCodeLength
	}
	return &Engine{
		store:      store,
		codeCount:  codeCount,
		codeLength: codeLength,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

func batchKey(identity string) codestore.Key {
	return codestore.Key{Identity: identity, Kind: codestore.KindRecovery, Ref: batchRef}
}

// GenerateBatch produces a fresh batch of recovery codes, replacing any
// prior batch in a single write. The plaintext codes are returned exactly
// once for display or download.
func (e *Engine) GenerateBatch(ctx context.Context, identity string) ([]string, error) {
	codes := make([]string, 0, e.codeCount)
	entries := make([]codeEntry, 0, e.codeCount)
	for i := 0; i < e.codeCount; i++ {
		code, err := utils.RandomAlphanumeric(e.codeLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate recovery code: %w", err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash recovery code: %w", err)
		}
		codes = append(codes, code)
		entries = append(entries, codeEntry{Hash: string(hash)})
	}

	record := batchRecord{Codes: entries, GeneratedAt: e.Now()}
	value, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal recovery batch: %w", err)
	}
	if _, err := e.store.Put(ctx, batchKey(identity), value); err != nil {
		return nil, fmt.Errorf("failed to store recovery batch: %w", err)
	}

	slog.Info("Generated recovery code batch", "identity", identity, "count", e.codeCount)
	return codes, nil
}

// Consume marks a recovery code used. The used flag is written with a
// conditional swap on the batch record version, so concurrent consumption of
// the same code yields exactly one ResultVerified.
func (e *Engine) Consume(ctx context.Context, identity, code string) (Result, error) {
	key := batchKey(identity)

	for {
		stored, err := e.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, codestore.ErrNotFound) {
				return ResultInvalid, nil
			}
			return ResultInvalid, fmt.Errorf("failed to load recovery batch: %w", err)
		}

		var record batchRecord
		if err := json.Unmarshal(stored.Value, &record); err != nil {
			return ResultInvalid, fmt.Errorf("failed to unmarshal recovery batch: %w", err)
		}

		matched := -1
		for i, entry := range record.Codes {
			if bcrypt.CompareHashAndPassword([]byte(entry.Hash), []byte(code)) == nil {
				matched = i
				break
			}
		}
		if matched < 0 {
			return ResultInvalid, nil
		}
		if record.Codes[matched].UsedAt != nil {
			return ResultAlreadyUsed, nil
		}

		usedAt := e.Now()
		record.Codes[matched].UsedAt = &usedAt
		value, err := json.Marshal(record)
		if err != nil {
			return ResultInvalid, fmt.Errorf("failed to marshal recovery batch: %w", err)
		}

		_, err = e.store.CompareAndSwap(ctx, key, value, stored.Version)
		if errors.Is(err, codestore.ErrConflict) || errors.Is(err, codestore.ErrNotFound) {
			// Lost a race with a concurrent consume or a regeneration;
			// re-read and re-evaluate.
			continue
		}
		if err != nil {
			return ResultInvalid, fmt.Errorf("failed to consume recovery code: %w", err)
		}

		slog.Info("Recovery code consumed", "identity", identity)
		return ResultVerified, nil
	}
}

// Remaining returns the number of unused codes in the current batch.
// Returns 0 with no error if no batch exists.
func (e *Engine) Remaining(ctx context.Context, identity string) (int, error) {
	stored, err := e.store.Get(ctx, batchKey(identity))
	if err != nil {
		if errors.Is(err, codestore.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to load recovery batch: %w", err)
	}

	var record batchRecord
	if err := json.Unmarshal(stored.Value, &record); err != nil {
		return 0, fmt.Errorf("failed to unmarshal recovery batch: %w", err)
	}

	remaining := 0
	for _, entry := range record.Codes {
		if entry.UsedAt == nil {
			remaining++
		}
	}
	return remaining, nil
}

// DeleteBatch removes the identity's recovery codes. Idempotent.
func (e *Engine) DeleteBatch(ctx context.Context, identity string) error {
	if err := e.store.Delete(ctx, batchKey(identity)); err != nil {
		return fmt.Errorf("failed to delete recovery batch: %w", err)
	}
	return nil
}

package vault

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is the listing view of a sealed entry. The payload itself never
// leaves the store unencrypted except through Open.
type Record struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`

	sealed Envelope
}

// Details is the sensitive payload kept sealed at rest.
type Details struct {
	Summary  string `json:"summary"`
	Severity string `json:"severity"`
	Notes    string `json:"notes"`
}

// Store keeps sealed records in process memory. All state is lost on restart,
// together with the key, which is the intended lifecycle for this demo store.
type Store struct {
	cipher *Cipher

	mu      sync.RWMutex
	records map[string]Record
}

func NewStore(cipher *Cipher) *Store {
	return &Store{
		cipher:  cipher,
		records: make(map[string]Record),
	}
}

// Add seals details and stores the record.
func (s *Store) Add(label string, details Details) (Record, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Record{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	plaintext, err := json.Marshal(details)
	if err != nil {
		return Record{}, fmt.Errorf("encode record details: %w", err)
	}

	sealed, err := s.cipher.Seal(plaintext)
	if err != nil {
		return Record{}, fmt.Errorf("seal record details: %w", err)
	}

	record := Record{
		ID:        id.String(),
		Label:     label,
		CreatedAt: time.Now().UTC(),
		sealed:    sealed,
	}

	s.mu.Lock()
	s.records[record.ID] = record
	s.mu.Unlock()

	return record, nil
}

// List returns sanitized records, newest first.
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]Record, 0, len(s.records))
	for _, record := range s.records {
		record.sealed = Envelope{}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	return records
}

func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	return record, ok
}

// Open decrypts a record's payload. A record fetched through List cannot be
// opened; use Get. Failures surface as DataIntegrityError.
func (s *Store) Open(record Record) (Details, error) {
	plaintext, err := s.cipher.Open(record.sealed)
	if err != nil {
		return Details{}, err
	}

	var details Details
	if err := json.Unmarshal(plaintext, &details); err != nil {
		return Details{}, integrityError()
	}

	return details, nil
}

// SeedDemo loads the sample records served by the demo deployment.
func SeedDemo(store *Store) error {
	samples := []struct {
		label   string
		details Details
	}{
		{
			label: "perimeter sweep",
			details: Details{
				Summary:  "Repeated credential stuffing from a single /24",
				Severity: "high",
				Notes:    "Source rotates user agents; block window holding",
			},
		},
		{
			label: "token replay probe",
			details: Details{
				Summary:  "Expired bearer tokens replayed against profile endpoint",
				Severity: "medium",
				Notes:    "All rejected at verification; no valid token observed",
			},
		},
	}

	for _, sample := range samples {
		if _, err := store.Add(sample.label, sample.details); err != nil {
			return err
		}
	}

	return nil
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// LRSchedule maps an epoch index to the learning rate that becomes active at
// that epoch. A rate stays active until a later key supersedes it.
type LRSchedule map[int]float64

// DefaultLRSchedule is the schedule used by train_classifier.
func DefaultLRSchedule() LRSchedule {
	return LRSchedule{0: 0.0001, 40: 0.00001}
}

// RateAt returns the learning rate active at epoch. Epochs before the first
// key get the first key's rate.
func (s LRSchedule) RateAt(epoch int) float64 {
	keys := s.epochs()
	if len(keys) == 0 {
		return 0
	}
	rate := s[keys[0]]
	for _, k := range keys {
		if k > epoch {
			break
		}
		rate = s[k]
	}
	return rate
}

func (s LRSchedule) epochs() []int {
	keys := make([]int, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// MarshalJSON writes the schedule as an object keyed by epoch.
func (s LRSchedule) MarshalJSON() ([]byte, error) {
	m := make(map[string]float64, len(s))
	for k, v := range s {
		m[strconv.Itoa(k)] = v
	}
	return json.Marshal(m)
}

// UnmarshalJSON reads an object keyed by epoch.
func (s *LRSchedule) UnmarshalJSON(b []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	out := make(LRSchedule, len(m))
	for k, v := range m {
		epoch, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("invalid epoch key %q in lr_schedule: %w", k, err)
		}
		out[epoch] = v
	}
	*s = out
	return nil
}

// TrainingRecord is persisted as config.json next to the trained classifier,
// once before training and once after, for reproducibility.
type TrainingRecord struct {
	RunID               string     `json:"run_id"`
	BackboneName        string     `json:"backbone_name"`
	BackboneVersion     string     `json:"backbone_version"`
	NumLayersToFinetune int        `json:"num_layers_to_finetune"`
	Classifier          string     `json:"classifier"`
	TemporalTraining    bool       `json:"temporal_training"`
	LRSchedule          LRSchedule `json:"lr_schedule"`
	NumEpochs           int        `json:"num_epochs"`
	BatchSize           int        `json:"batch_size"`
	StartTime           string     `json:"start_time"`
	EndTime             string     `json:"end_time"`
}

// FormatTime renders timestamps the way the record stores them.
func FormatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05.000000")
}

// Save writes the record as indented JSON.
func (r *TrainingRecord) Save(path string) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal training record: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("mkdir for training record: %w", err)
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return fmt.Errorf("write training record %s: %w", path, err)
	}
	return nil
}

// LoadTrainingRecord reads a config.json written by Save.
func LoadTrainingRecord(path string) (*TrainingRecord, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read training record %s: %w", path, err)
	}
	var r TrainingRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode training record %s: %w", path, err)
	}
	return &r, nil
}

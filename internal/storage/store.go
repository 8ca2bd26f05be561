// Package storage persists finished goal executions to the data
// directory: one subdirectory per goal holding metadata.json and a
// per-tick trace.csv.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

// GoalRecord is the metadata written next to a goal's trace.
type GoalRecord struct {
	ID         string             `json:"id"`
	Controller string             `json:"controller"`
	Status     string             `json:"status"`
	Text       string             `json:"text,omitempty"`
	Accepted   time.Time          `json:"accepted"`
	Finished   time.Time          `json:"finished"`
	Ticks      int                `json:"ticks"`
	JointNames []string           `json:"joint_names"`
	Metrics    map[string]float64 `json:"metrics"`
}

// Trace holds the per-tick arrays of one goal execution, row-parallel
// with Times.
type Trace struct {
	JointNames []string
	Times      []float64
	Desired    [][]float64
	Actual     [][]float64
	Error      [][]float64
}

// Append records one tick. The slices are copied.
func (t *Trace) Append(time float64, desired, actual, err []float64) {
	t.Times = append(t.Times, time)
	t.Desired = append(t.Desired, append([]float64(nil), desired...))
	t.Actual = append(t.Actual, append([]float64(nil), actual...))
	t.Error = append(t.Error, append([]float64(nil), err...))
}

func (t *Trace) Len() int { return len(t.Times) }

// Save writes the record and trace under a directory named
// <controller>_<goal-id>. It returns the directory name used as run id.
func (s *Store) Save(rec GoalRecord, trace *Trace) (string, error) {
	runID := fmt.Sprintf("%s_%s", rec.Controller, rec.ID)
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	metaFile, err := os.Create(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return "", err
	}

	if trace == nil || trace.Len() == 0 {
		return runID, nil
	}

	csvFile, err := os.Create(filepath.Join(runDir, "trace.csv"))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	defer w.Flush()

	header := []string{"time"}
	for _, n := range trace.JointNames {
		header = append(header, "desired_"+n, "actual_"+n, "error_"+n)
	}
	if err := w.Write(header); err != nil {
		return "", err
	}

	for i := range trace.Times {
		row := []string{strconv.FormatFloat(trace.Times[i], 'f', 6, 64)}
		for j := range trace.JointNames {
			row = append(row,
				strconv.FormatFloat(trace.Desired[i][j], 'f', 6, 64),
				strconv.FormatFloat(trace.Actual[i][j], 'f', 6, 64),
				strconv.FormatFloat(trace.Error[i][j], 'f', 6, 64))
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}

	return runID, nil
}

// List returns every stored goal record, newest first.
func (s *Store) List() ([]GoalRecord, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []GoalRecord{}, nil
		}
		return nil, err
	}

	runs := make([]GoalRecord, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.baseDir, entry.Name(), "metadata.json"))
		if err != nil {
			continue
		}
		var rec GoalRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		runs = append(runs, rec)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].Finished.After(runs[j].Finished) })
	return runs, nil
}

// Find locates a stored record whose run directory or goal id matches
// id (prefix match on the goal id is accepted).
func (s *Store) Find(id string) (*GoalRecord, string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, "", err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.baseDir, entry.Name(), "metadata.json"))
		if err != nil {
			continue
		}
		var rec GoalRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if entry.Name() == id || rec.ID == id || (len(id) >= 8 && len(rec.ID) >= len(id) && rec.ID[:len(id)] == id) {
			return &rec, entry.Name(), nil
		}
	}
	return nil, "", fmt.Errorf("no stored goal matches %q", id)
}

// LoadTrace reads a run directory's trace.csv back into memory.
func (s *Store) LoadTrace(runID string) (*Trace, error) {
	f, err := os.Open(filepath.Join(s.baseDir, runID, "trace.csv"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 1 {
		return nil, fmt.Errorf("empty trace for %s", runID)
	}

	header := rows[0]
	if (len(header)-1)%3 != 0 {
		return nil, fmt.Errorf("malformed trace header for %s", runID)
	}
	joints := (len(header) - 1) / 3

	tr := &Trace{}
	for j := 0; j < joints; j++ {
		name := header[1+j*3]
		tr.JointNames = append(tr.JointNames, name[len("desired_"):])
	}

	for _, row := range rows[1:] {
		t, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			return nil, err
		}
		desired := make([]float64, joints)
		actual := make([]float64, joints)
		errs := make([]float64, joints)
		for j := 0; j < joints; j++ {
			if desired[j], err = strconv.ParseFloat(row[1+j*3], 64); err != nil {
				return nil, err
			}
			if actual[j], err = strconv.ParseFloat(row[2+j*3], 64); err != nil {
				return nil, err
			}
			if errs[j], err = strconv.ParseFloat(row[3+j*3], 64); err != nil {
				return nil, err
			}
		}
		tr.Times = append(tr.Times, t)
		tr.Desired = append(tr.Desired, desired)
		tr.Actual = append(tr.Actual, actual)
		tr.Error = append(tr.Error, errs)
	}
	return tr, nil
}

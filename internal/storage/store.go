package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/san-kum/reachlab/internal/dynamics"
	"github.com/san-kum/reachlab/internal/region"
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

type RunMetadata struct {
	ID          string    `json:"id"`
	System      string    `json:"system"`
	Timestamp   time.Time `json:"timestamp"`
	Propagator  string    `json:"propagator"`
	Partitioner string    `json:"partitioner"`
	Partitions  []int     `json:"partitions,omitempty"`
	Boundaries  string    `json:"boundaries"`
	TMax        float64   `json:"t_max"`
	Dt          float64   `json:"dt"`
	Seed        int64     `json:"seed"`
	Samples     int       `json:"samples"`
	FinalError  float64   `json:"final_error"`
	AvgError    float64   `json:"avg_error"`
	RuntimeSec  float64   `json:"runtime_sec"`
}

// Save persists one analysis run: metadata, the per-timestep bounding
// boxes, and optionally the sampled trajectories used for error
// estimation. Returns the generated run ID.
func (s *Store) Save(meta RunMetadata, bounds []region.Box, samples *dynamics.SampleSet) (string, error) {
	runID := fmt.Sprintf("%s_%d", meta.System, time.Now().Unix())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta.ID = runID
	meta.Timestamp = time.Now()

	metaPath := filepath.Join(runDir, "metadata.json")
	metaFile, err := os.Create(metaPath)
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	if err := s.writeBounds(runDir, meta.Dt, bounds); err != nil {
		return "", err
	}
	if samples != nil {
		if err := s.writeSamples(runDir, samples); err != nil {
			return "", err
		}
	}

	return runID, nil
}

func (s *Store) writeBounds(runDir string, dt float64, bounds []region.Box) error {
	csvFile, err := os.Create(filepath.Join(runDir, "bounds.csv"))
	if err != nil {
		return err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	defer w.Flush()

	if len(bounds) == 0 {
		return nil
	}

	header := []string{"time"}
	for i := 0; i < bounds[0].Dim(); i++ {
		header = append(header, fmt.Sprintf("x%d_low", i), fmt.Sprintf("x%d_high", i))
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for t, b := range bounds {
		row := []string{strconv.FormatFloat(float64(t+1)*dt, 'f', 6, 64)}
		for i := 0; i < b.Dim(); i++ {
			row = append(row,
				strconv.FormatFloat(b.Low[i], 'g', -1, 64),
				strconv.FormatFloat(b.High[i], 'g', -1, 64))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) writeSamples(runDir string, ss *dynamics.SampleSet) error {
	csvFile, err := os.Create(filepath.Join(runDir, "samples.csv"))
	if err != nil {
		return err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	defer w.Flush()

	if ss.Runs() == 0 {
		return nil
	}

	header := []string{"run", "time"}
	for i := range ss.States[0][0] {
		header = append(header, fmt.Sprintf("x%d", i))
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for r := range ss.States {
		for t, state := range ss.States[r] {
			row := []string{
				strconv.Itoa(r),
				strconv.FormatFloat(float64(t)*ss.Dt, 'f', 6, 64),
			}
			for _, val := range state {
				row = append(row, strconv.FormatFloat(val, 'g', -1, 64))
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		metaPath := filepath.Join(s.baseDir, entry.Name(), "metadata.json")
		data, err := os.ReadFile(metaPath)
		if err != nil {
			continue
		}

		var meta RunMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}

		runs = append(runs, meta)
	}

	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	metaPath := filepath.Join(s.baseDir, runID, "metadata.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}

	return &meta, nil
}

// LoadBounds reads the per-timestep bounding boxes and their times back
// from a stored run.
func (s *Store) LoadBounds(runID string) ([]region.Box, []float64, error) {
	csvPath := filepath.Join(s.baseDir, runID, "bounds.csv")
	file, err := os.Open(csvPath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}

	if len(records) < 2 {
		return []region.Box{}, []float64{}, nil
	}

	times := make([]float64, 0, len(records)-1)
	bounds := make([]region.Box, 0, len(records)-1)

	for i := 1; i < len(records); i++ {
		record := records[i]
		if len(record) < 3 || len(record)%2 == 0 {
			continue
		}

		t, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			continue
		}

		dim := (len(record) - 1) / 2
		low := make([]float64, dim)
		high := make([]float64, dim)
		ok := true
		for j := 0; j < dim; j++ {
			lo, errLo := strconv.ParseFloat(record[1+2*j], 64)
			hi, errHi := strconv.ParseFloat(record[2+2*j], 64)
			if errLo != nil || errHi != nil {
				ok = false
				break
			}
			low[j] = lo
			high[j] = hi
		}
		if !ok {
			continue
		}

		times = append(times, t)
		bounds = append(bounds, region.Box{Low: low, High: high, P: math.Inf(1)})
	}

	return bounds, times, nil
}

// LoadSamples reads sampled states back as run x timestep x state.
func (s *Store) LoadSamples(runID string) ([][][]float64, error) {
	csvPath := filepath.Join(s.baseDir, runID, "samples.csv")
	file, err := os.Open(csvPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	runs := make([][][]float64, 0)
	for i := 1; i < len(records); i++ {
		record := records[i]
		if len(record) < 3 {
			continue
		}
		runIdx, err := strconv.Atoi(record[0])
		if err != nil {
			continue
		}
		state := make([]float64, 0, len(record)-2)
		ok := true
		for j := 2; j < len(record); j++ {
			val, err := strconv.ParseFloat(record[j], 64)
			if err != nil {
				ok = false
				break
			}
			state = append(state, val)
		}
		if !ok {
			continue
		}
		for runIdx >= len(runs) {
			runs = append(runs, nil)
		}
		runs[runIdx] = append(runs[runIdx], state)
	}

	return runs, nil
}

package tracelog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tracesmith/api/schemas"
)

// ExportedSFTExample is the dataset-facing shape of one training example:
// provenance metadata is dropped on export.
type ExportedSFTExample struct {
	Instruction string `json:"instruction"`
	Input       string `json:"input"`
	Output      string `json:"output"`
}

// ExportSFT converts the SFT example log into a single JSON array of
// {instruction, input, output} objects at outPath and returns the number of
// exported examples. A missing log exports an empty array; "no data yet" is
// a normal state, not an error.
func (s *Store) ExportSFT(outPath string) (int, error) {
	examples := []ExportedSFTExample{}

	path := filepath.Join(s.dir, sftLogName)
	f, err := os.Open(path)
	if err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("failed to open SFT log: %w", err)
	}
	if err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var ex schemas.SFTExample
			if err := json.Unmarshal(line, &ex); err != nil {
				return 0, fmt.Errorf("failed to decode SFT log line: %w", err)
			}
			examples = append(examples, ExportedSFTExample{
				Instruction: ex.Instruction,
				Input:       ex.Input,
				Output:      ex.Output,
			})
		}
		if err := scanner.Err(); err != nil {
			return 0, fmt.Errorf("failed to scan SFT log: %w", err)
		}
	}

	payload, err := json.MarshalIndent(examples, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal export: %w", err)
	}
	if err := os.WriteFile(outPath, payload, 0o644); err != nil {
		return 0, fmt.Errorf("failed to write export to %q: %w", outPath, err)
	}

	s.log.Info("Exported SFT dataset.",
		zap.Int("examples", len(examples)),
		zap.String("path", outPath),
	)
	return len(examples), nil
}

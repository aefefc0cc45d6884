package mcmc

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/nlmefit/saem/numeric"
)

// ChainDump appends phiM to a whitespace-delimited text file after every
// SAEM iteration (spec.md §4.5/§5): "opened at start, closed on exit from
// all paths." Consumers treat the file as advisory diagnostics.
type ChainDump struct {
	f *os.File
	w *bufio.Writer
}

// OpenChainDump opens (creating or truncating) the dump file at path.
func OpenChainDump(path string) (*ChainDump, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("mcmc: opening chain dump: %w", err)
	}
	return &ChainDump{f: f, w: bufio.NewWriter(f)}, nil
}

// Append writes every row of phiM as one whitespace-delimited line.
func (d *ChainDump) Append(phiM *numeric.Matrix) error {
	r, c := phiM.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if j > 0 {
				if err := d.writeSep(); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintf(d.w, "%g", phiM.At(i, j)); err != nil {
				return err
			}
		}
		if err := d.writeNewline(); err != nil {
			return err
		}
	}
	return nil
}

func (d *ChainDump) writeSep() error {
	_, err := d.w.WriteString(" ")
	return err
}

func (d *ChainDump) writeNewline() error {
	_, err := d.w.WriteString("\n")
	return err
}

// Close flushes and closes the dump file. Safe to call on a nil *ChainDump.
func (d *ChainDump) Close() error {
	if d == nil {
		return nil
	}
	if err := d.w.Flush(); err != nil {
		d.f.Close()
		return err
	}
	return d.f.Close()
}

var _ io.Closer = (*ChainDump)(nil)

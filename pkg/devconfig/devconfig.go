// Package devconfig parses the per-device settings table.
//
// The table is a tab-separated key/value file. Each device block starts with
// a DeviceSerialNumber line and the very next line must carry its Gain:
//
//	DeviceSerialNumber	20270803
//	Gain	12.5
//
// Blocks are validated while parsing and indexed by serial number, so a
// broken block only affects the device it names.
package devconfig

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	KeySerialNumber = "DeviceSerialNumber"
	KeyGain         = "Gain"
)

var (
	ErrMalformedConfig = errors.New("malformed device config")
	ErrGainUndefined   = errors.New("gain undefined for device")
)

// Entry is the parsed configuration of one device.
type Entry struct {
	Serial string
	Gain   float64
	// Line is the 1-based line number of the serial line.
	Line int
}

// Table holds the validated entries keyed by serial number.
type Table struct {
	entries   []Entry
	bySerial  map[string]int
	malformed map[string]string
}

// Load reads and parses the config file at path. A returned non-nil Table is
// usable even when err wraps ErrMalformedConfig.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "devconfig: open %s failed", path)
	}
	defer f.Close()
	table, err := Parse(f)
	if err != nil && table == nil {
		return nil, errors.Wrapf(err, "devconfig: read %s failed", path)
	}
	return table, err
}

type line struct {
	num        int
	key, value string
	ok         bool
}

// Parse reads the config from r. Malformed blocks are recorded against their
// serial and reported together in an error wrapping ErrMalformedConfig; the
// table is returned alongside so the remaining devices can still be served.
func Parse(r io.Reader) (*Table, error) {
	var lines []line
	scanner := bufio.NewScanner(r)
	num := 0
	for scanner.Scan() {
		num++
		raw := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(raw) == "" {
			continue
		}
		key, value, ok := strings.Cut(raw, "\t")
		lines = append(lines, line{num: num, key: strings.TrimSpace(key), value: strings.TrimSpace(value), ok: ok})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "devconfig: scan failed")
	}

	t := &Table{
		bySerial:  make(map[string]int),
		malformed: make(map[string]string),
	}
	for i, ln := range lines {
		if !ln.ok || ln.key != KeySerialNumber {
			continue
		}
		serial := ln.value
		if i+1 >= len(lines) || !lines[i+1].ok || lines[i+1].key != KeyGain {
			t.markMalformed(serial, fmt.Sprintf("line %d: %s must be followed by %s", ln.num, KeySerialNumber, KeyGain))
			continue
		}
		gain, err := strconv.ParseFloat(lines[i+1].value, 64)
		if err != nil || math.IsNaN(gain) || math.IsInf(gain, 0) {
			t.markMalformed(serial, fmt.Sprintf("line %d: invalid gain %q", lines[i+1].num, lines[i+1].value))
			continue
		}
		t.add(Entry{Serial: serial, Gain: gain, Line: ln.num})
	}
	return t, t.Err()
}

func (t *Table) add(e Entry) {
	if _, bad := t.malformed[e.Serial]; bad {
		return
	}
	if idx, ok := t.bySerial[e.Serial]; ok {
		prev := t.entries[idx]
		if prev.Gain != e.Gain {
			t.markMalformed(e.Serial, fmt.Sprintf("lines %d and %d define different gains (%g, %g)",
				prev.Line, e.Line, prev.Gain, e.Gain))
		}
		return
	}
	t.bySerial[e.Serial] = len(t.entries)
	t.entries = append(t.entries, e)
}

func (t *Table) markMalformed(serial, reason string) {
	if prev, ok := t.malformed[serial]; ok {
		reason = prev + "; " + reason
	}
	t.malformed[serial] = reason
	if idx, ok := t.bySerial[serial]; ok {
		t.entries = append(t.entries[:idx], t.entries[idx+1:]...)
		delete(t.bySerial, serial)
		for s, j := range t.bySerial {
			if j > idx {
				t.bySerial[s] = j - 1
			}
		}
	}
}

// Entries returns the valid entries in file order.
func (t *Table) Entries() []Entry {
	if t == nil {
		return nil
	}
	return append([]Entry(nil), t.entries...)
}

// Malformed returns the serials whose blocks failed validation, sorted.
func (t *Table) Malformed() []string {
	if t == nil {
		return nil
	}
	serials := make([]string, 0, len(t.malformed))
	for s := range t.malformed {
		serials = append(serials, s)
	}
	sort.Strings(serials)
	return serials
}

// Err summarizes every malformed block, or returns nil.
func (t *Table) Err() error {
	if t == nil || len(t.malformed) == 0 {
		return nil
	}
	parts := make([]string, 0, len(t.malformed))
	for _, s := range t.Malformed() {
		parts = append(parts, fmt.Sprintf("%s: %s", s, t.malformed[s]))
	}
	return errors.Wrap(ErrMalformedConfig, strings.Join(parts, ", "))
}

// Lookup returns the gain for serial. It fails with ErrMalformedConfig when
// the serial's block is broken and ErrGainUndefined when no block names it.
func (t *Table) Lookup(serial string) (float64, error) {
	if t != nil {
		if reason, bad := t.malformed[serial]; bad {
			return 0, errors.Wrapf(ErrMalformedConfig, "%s: %s", serial, reason)
		}
		if idx, ok := t.bySerial[serial]; ok {
			return t.entries[idx].Gain, nil
		}
	}
	return 0, errors.Wrapf(ErrGainUndefined, "serial %q", serial)
}

// LookupGain returns the gain of the entry whose serial matches exactly.
func LookupGain(entries []Entry, serial string) (float64, bool) {
	for _, e := range entries {
		if e.Serial == serial {
			return e.Gain, true
		}
	}
	return 0, false
}

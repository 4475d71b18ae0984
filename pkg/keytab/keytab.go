// Package keytab holds the FeliCa key material used for mutual
// authentication: a read-only lookup table from (system code, node code) to
// a 16-byte key and its version.
//
// Key files use a CSV schema with one key per row:
//
//	system_code,node,version,key
//	0003,FFFF,1,00112233445566778899AABBCCDDEEFF
//	0003,000B,1,FFEEDDCCBBAA99887766554433221100
//
// system_code and node are hexadecimal, version is decimal, key is the
// 16-byte key in hexadecimal. The node FFFF denotes the system key and
// 0000 the root area key.
package keytab

import (
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"github.com/soltia48/felica-dumper/pkg/felica"
)

// Well-known key node identifiers.
const (
	// SystemKeyNode is the node code of the per-system master key.
	SystemKeyNode felica.NodeCode = 0xFFFF

	// RootAreaKeyNode is the node code of the root area key.
	RootAreaKeyNode felica.NodeCode = 0x0000
)

// KeyKind classifies a key by the node it protects.
type KeyKind byte

const (
	KeySystem KeyKind = iota
	KeyArea
	KeyService
)

func (k KeyKind) String() string {
	switch k {
	case KeySystem:
		return "System"
	case KeyArea:
		return "Area"
	default:
		return "Service"
	}
}

// Entry is one key of the table. The 16-byte key splits into two 8-byte
// halves used as double-length material by the authentication engine.
type Entry struct {
	System  felica.SystemCode
	Node    felica.NodeCode
	Version uint16
	Key     [16]byte
}

// Kind classifies the entry by its node code. Node codes below the service
// range with an area attribute are area keys.
func (e Entry) Kind() KeyKind {
	switch {
	case e.Node == SystemKeyNode:
		return KeySystem
	case e.Node.Attribute() <= 0x01:
		return KeyArea
	default:
		return KeyService
	}
}

func (e Entry) String() string {
	return fmt.Sprintf("%s Key %s (v%d)", e.Kind(), e.Node, e.Version)
}

type tableKey struct {
	system felica.SystemCode
	node   felica.NodeCode
}

// Table is a read-only key lookup structure. The zero value is not usable;
// use New or Load.
type Table struct {
	entries map[tableKey]Entry
}

// New creates an empty table.
func New() *Table {
	return &Table{entries: make(map[tableKey]Entry)}
}

// Add registers an entry, replacing any previous key for the same node.
func (t *Table) Add(e Entry) {
	t.entries[tableKey{e.System, e.Node}] = e
}

// Lookup returns the key registered for (system, node). A missing key is a
// normal outcome, reported through the boolean, never an error.
func (t *Table) Lookup(system felica.SystemCode, node felica.NodeCode) (Entry, bool) {
	e, ok := t.entries[tableKey{system, node}]
	return e, ok
}

// Len returns the number of registered keys.
func (t *Table) Len() int {
	return len(t.entries)
}

// CountForSystem returns the number of keys registered for one system.
func (t *Table) CountForSystem(system felica.SystemCode) int {
	n := 0
	for k := range t.entries {
		if k.system == system {
			n++
		}
	}
	return n
}

// Load parses a key CSV stream into a table. Malformed rows abort the load:
// silently dropping key material would surface later as spurious
// authentication failures.
func Load(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err == io.EOF {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("key file header: %w", err)
	}
	if len(header) != 4 || header[0] != "system_code" || header[1] != "node" ||
		header[2] != "version" || header[3] != "key" {
		return nil, fmt.Errorf("unexpected key file header %v", header)
	}

	table := New()
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("key file line %d: %w", line, err)
		}

		entry, err := parseEntry(record)
		if err != nil {
			return nil, fmt.Errorf("key file line %d: %w", line, err)
		}
		table.Add(entry)
	}

	return table, nil
}

func parseEntry(record []string) (Entry, error) {
	system, err := strconv.ParseUint(record[0], 16, 16)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid system code %q", record[0])
	}

	node, err := strconv.ParseUint(record[1], 16, 16)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid node %q", record[1])
	}

	version, err := strconv.ParseUint(record[2], 10, 16)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid version %q", record[2])
	}

	key, err := hex.DecodeString(record[3])
	if err != nil || len(key) != 16 {
		return Entry{}, fmt.Errorf("invalid key %q: want 16 hex bytes", record[3])
	}

	entry := Entry{
		System:  felica.SystemCode(system),
		Node:    felica.NodeCode(node),
		Version: uint16(version),
	}
	copy(entry.Key[:], key)
	return entry, nil
}
